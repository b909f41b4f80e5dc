package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/constants"
)

// DiscriminatorBytes returns the account discriminator: the explicit bytes
// when declared, otherwise sha256("account:" + Name [+ version])[:len].
func (s *StateType) DiscriminatorBytes() []byte {
	if len(s.Discriminator) > 0 {
		return append([]byte(nil), s.Discriminator...)
	}
	n := s.DiscriminatorLen
	if n == 0 {
		n = constants.DiscriminatorLen
	}
	preimage := []byte(constants.AccountDiscriminatorPrefix + s.Name)
	if s.Version != nil {
		preimage = append(preimage, *s.Version)
	}
	sum := sha256.Sum256(preimage)
	return sum[:n]
}

// InstructionDiscriminator returns sha256("global:" + snake(name))[:8].
func InstructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(constants.InstructionDiscriminatorPrefix + ToSnake(name)))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// BaseSeed is the fixed first seed of a seeded state type.
func (s *StateType) BaseSeed() string {
	return ToSnake(s.Name)
}

// ToExport converts a snake_case or camelCase name to an exported Go name.
func ToExport(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		switch strings.ToLower(p) {
		case "id", "url", "pda", "ata":
			b.WriteString(strings.ToUpper(p))
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	if b.Len() == 0 {
		return "X"
	}
	return b.String()
}

// ToSnake converts CamelCase to snake_case.
func ToSnake(name string) string {
	var b strings.Builder
	rs := []rune(name)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Constant kinds
const (
	ConstPubkey = "pubkey"
	ConstU64    = "u64"
	ConstBytes  = "bytes"
)

// Eval parses the constant's value: a solana.PublicKey, uint64 or []byte.
// Bytes accept a "0x" hex prefix, otherwise the raw string is used.
func (c Constant) Eval() (interface{}, error) {
	switch c.Kind {
	case ConstPubkey:
		pk, err := solana.PublicKeyFromBase58(c.Value)
		if err != nil {
			return nil, fmt.Errorf("constant %s: %w", c.Name, err)
		}
		return pk, nil
	case ConstU64:
		n, err := strconv.ParseUint(c.Value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("constant %s: %w", c.Name, err)
		}
		return n, nil
	case ConstBytes:
		if strings.HasPrefix(c.Value, "0x") {
			raw, err := hex.DecodeString(c.Value[2:])
			if err != nil {
				return nil, fmt.Errorf("constant %s: %w", c.Name, err)
			}
			return raw, nil
		}
		return []byte(c.Value), nil
	default:
		return nil, fmt.Errorf("constant %s: unknown kind %q", c.Name, c.Kind)
	}
}

// ConstantValues evaluates every declared constant by name.
func (p *Program) ConstantValues() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Constants))
	for _, c := range p.Constants {
		if v, err := c.Eval(); err == nil {
			out[c.Name] = v
		}
	}
	return out
}
