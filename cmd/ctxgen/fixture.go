package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-yaml"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/rpc"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

// fixture is a dry-run input: the context to validate, its arguments and
// the account list in slot order.
type fixture struct {
	Context  string                 `yaml:"context"`
	Args     map[string]interface{} `yaml:"args"`
	Accounts []fixtureAccount       `yaml:"accounts"`
}

// fixtureAccount is fetched from the cluster unless it carries a snapshot.
// An empty key is the default address: a skipped account in an optional
// slot, the system program anywhere else.
type fixtureAccount struct {
	Name     string `yaml:"name"`
	Key      string `yaml:"key"`
	Signer   bool   `yaml:"signer"`
	Writable bool   `yaml:"writable"`

	Owner      string `yaml:"owner"`
	Lamports   uint64 `yaml:"lamports"`
	Executable bool   `yaml:"executable"`
	// Data is base64 account data. State and Fields build it from a typed
	// record instead.
	Data   string                 `yaml:"data"`
	State  string                 `yaml:"state"`
	Fields map[string]interface{} `yaml:"fields"`
}

func (a fixtureAccount) local(optional bool) bool {
	return a.Owner != "" || a.Executable || (optional && a.Key == "")
}

func loadFixture(path string) (*fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.UnmarshalWithOptions(raw, &fx, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse fixture: %s", yaml.FormatError(err, false, true))
	}
	if fx.Context == "" {
		return nil, fmt.Errorf("fixture: context is required")
	}
	return &fx, nil
}

type fetchFunc func(ctx context.Context, metas []rpc.Meta) ([]*runtime.AccountInfo, error)

// resolveAccounts builds the runtime account list. Snapshots are built
// locally and the rest fetched in one batch; fetch may be nil when every
// account is local.
func resolveAccounts(ctx context.Context, prog *schema.Program, p *codegen.Plan, accounts []fixtureAccount, fetch fetchFunc) ([]*runtime.AccountInfo, error) {
	out := make([]*runtime.AccountInfo, len(accounts))
	var (
		metas   []rpc.Meta
		pending []int
	)
	for i, a := range accounts {
		optional := false
		if i < len(p.Slots) {
			if a.Name != "" && p.Slots[i].Name != a.Name {
				return nil, fmt.Errorf("account %d is %s, %s expects %s", i, a.Name, p.Context, p.Slots[i].Name)
			}
			optional = p.Slots[i].Type.Optional
		}
		var key solana.PublicKey
		if a.Key != "" {
			k, err := solana.PublicKeyFromBase58(a.Key)
			if err != nil {
				return nil, fmt.Errorf("account %d key: %w", i, err)
			}
			key = k
		}
		if !a.local(optional) {
			metas = append(metas, rpc.Meta{Key: key, Signer: a.Signer, Writable: a.Writable, Optional: optional})
			pending = append(pending, i)
			continue
		}
		acct, err := snapshot(prog, key, a, optional)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		out[i] = acct
	}
	if len(pending) == 0 {
		return out, nil
	}
	if fetch == nil {
		return nil, fmt.Errorf("%d accounts have no snapshot and fetching is disabled", len(pending))
	}
	fetched, err := fetch(ctx, metas)
	if err != nil {
		return nil, err
	}
	for j, i := range pending {
		out[i] = fetched[j]
	}
	return out, nil
}

func snapshot(prog *schema.Program, key solana.PublicKey, a fixtureAccount, optional bool) (*runtime.AccountInfo, error) {
	if a.Executable {
		return runtime.NewProgramAccount(key), nil
	}
	if optional && key.IsZero() && a.Owner == "" {
		return runtime.NewAccountInfo(key, solana.SystemProgramID, 0, nil, false, false), nil
	}
	owner, err := solana.PublicKeyFromBase58(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	var data []byte
	switch {
	case a.State != "":
		if a.Data != "" {
			return nil, fmt.Errorf("data and state are exclusive")
		}
		data, err = stateData(prog, a.State, a.Fields)
	case a.Data != "":
		data, err = base64.StdEncoding.DecodeString(a.Data)
	}
	if err != nil {
		return nil, err
	}
	return runtime.NewAccountInfo(key, owner, a.Lamports, data, a.Signer, a.Writable), nil
}

// stateData encodes a discriminator-prefixed state record.
func stateData(prog *schema.Program, name string, values map[string]interface{}) ([]byte, error) {
	st, ok := prog.StateType(name)
	if !ok {
		return nil, fmt.Errorf("unknown state type %s", name)
	}
	rec, err := parseRecord(st.Fields, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var buf bytes.Buffer
	buf.Write(st.DiscriminatorBytes())
	if err := schema.EncodeRecord(st.Fields, rec, bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// encodeArgs serializes the argument record. Fixed records only hold
// fixed-size fields, whose borsh encoding is identical.
func encodeArgs(args *schema.Args, values map[string]interface{}) ([]byte, error) {
	if args == nil {
		if len(values) > 0 {
			return nil, fmt.Errorf("context takes no arguments")
		}
		return nil, nil
	}
	rec, err := parseRecord(args.Fields, values)
	if err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	var buf bytes.Buffer
	if err := schema.EncodeRecord(args.Fields, rec, bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	return buf.Bytes(), nil
}

// parseRecord converts YAML scalars to field values. Missing fields stay
// zero.
func parseRecord(fields []schema.FieldDef, values map[string]interface{}) (schema.Record, error) {
	known := make(map[string]bool, len(fields))
	rec := schema.Record{}
	for _, f := range fields {
		known[f.Name] = true
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		parsed, err := parseValue(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec[f.Name] = parsed
	}
	for name := range values {
		if !known[name] {
			return nil, fmt.Errorf("unknown field %s", name)
		}
	}
	return rec, nil
}

var intBits = map[string]int{
	schema.TypeU8: 8, schema.TypeU16: 16, schema.TypeU32: 32, schema.TypeU64: 64,
	schema.TypeI8: 8, schema.TypeI16: 16, schema.TypeI32: 32, schema.TypeI64: 64,
}

func parseValue(t string, v interface{}) (interface{}, error) {
	s := fmt.Sprint(v)
	if _, ok := schema.ByteArrayLen(t); ok {
		return parseBytes(s)
	}
	switch t {
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return strconv.ParseBool(s)
	case schema.TypeU8, schema.TypeU16, schema.TypeU32, schema.TypeU64:
		n, err := strconv.ParseUint(s, 0, intBits[t])
		if err != nil {
			return nil, err
		}
		switch t {
		case schema.TypeU8:
			return uint8(n), nil
		case schema.TypeU16:
			return uint16(n), nil
		case schema.TypeU32:
			return uint32(n), nil
		}
		return n, nil
	case schema.TypeI8, schema.TypeI16, schema.TypeI32, schema.TypeI64:
		n, err := strconv.ParseInt(s, 0, intBits[t])
		if err != nil {
			return nil, err
		}
		switch t {
		case schema.TypeI8:
			return int8(n), nil
		case schema.TypeI16:
			return int16(n), nil
		case schema.TypeI32:
			return int32(n), nil
		}
		return n, nil
	case schema.TypeU128:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok || n.Sign() < 0 || n.BitLen() > 128 {
			return nil, fmt.Errorf("invalid u128 %q", s)
		}
		lo := new(big.Int).And(n, new(big.Int).SetUint64(^uint64(0)))
		return bin.Uint128{Lo: lo.Uint64(), Hi: new(big.Int).Rsh(n, 64).Uint64(), Endianness: bin.LE}, nil
	case schema.TypePubkey:
		return solana.PublicKeyFromBase58(s)
	case schema.TypeString:
		return s, nil
	case schema.TypeBytes:
		return parseBytes(s)
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

// parseBytes reads 0x-prefixed hex, or takes the string bytes as is.
func parseBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(s[2:])
	}
	return []byte(s), nil
}
