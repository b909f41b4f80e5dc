package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// Kind is the base kind of a declared account.
type Kind int

const (
	KindUnchecked Kind = iota
	KindAccount
	KindProgram
	KindInterface
	KindTokenAccount
	KindMint
	KindSystemAccount
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "Account"
	case KindProgram:
		return "Program"
	case KindInterface:
		return "Interface"
	case KindTokenAccount:
		return "TokenAccount"
	case KindMint:
		return "Mint"
	case KindSystemAccount:
		return "SystemAccount"
	default:
		return "UncheckedAccount"
	}
}

// AccountType is a parsed declared type such as "Option<Mut<Account<Counter>>>"
// or "[3]Signer".
type AccountType struct {
	Kind     Kind
	Mut      bool
	Signer   bool
	Optional bool
	// Array is the element count of an array declaration, zero otherwise.
	Array int
	// State names the state type of Account<S>.
	State string
	// Program names the program of Program<P>.
	Program string
	Raw     string
}

// Well-known programs accepted by Program<P>.
var knownPrograms = map[string]solana.PublicKey{
	"System":          constants.SystemProgramID,
	"Token":           constants.TokenProgramID,
	"Token2022":       constants.Token2022ProgramID,
	"AssociatedToken": constants.AssociatedTokenProgramID,
}

// ProgramKey resolves the name of a well-known program.
func ProgramKey(name string) (solana.PublicKey, bool) {
	k, ok := knownPrograms[name]
	return k, ok
}

// ParseAccountType parses the declared type grammar:
//
//	[N]T | Option<T> | Mut<T> | Signer | Signer<T> | Account<S> | Program<P> |
//	Interface<TokenInterface> | TokenAccount | Mint | SystemAccount | UncheckedAccount
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType{Raw: s}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return t, fmt.Errorf("%w: empty type", types.ErrUnsupportedType)
	}
	for {
		if strings.HasPrefix(rest, "[") {
			end := strings.Index(rest, "]")
			if end < 0 {
				return t, fmt.Errorf("%w: unterminated array in %q", types.ErrUnsupportedType, s)
			}
			if t.Array != 0 {
				return t, fmt.Errorf("%w: nested array in %q", types.ErrUnsupportedType, s)
			}
			n, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
			if err != nil {
				return t, fmt.Errorf("%w: array size in %q", types.ErrUnsupportedType, s)
			}
			if err := types.ValidateArraySize("array", n); err != nil {
				return t, err
			}
			t.Array = n
			rest = strings.TrimSpace(rest[end+1:])
			continue
		}
		if inner, ok := unwrap(rest, "Option"); ok {
			if t.Optional {
				return t, fmt.Errorf("%w: nested Option in %q", types.ErrUnsupportedType, s)
			}
			t.Optional = true
			rest = inner
			continue
		}
		if inner, ok := unwrap(rest, "Mut"); ok {
			t.Mut = true
			rest = inner
			continue
		}
		if inner, ok := unwrap(rest, "Signer"); ok {
			t.Signer = true
			rest = inner
			continue
		}
		break
	}

	switch rest {
	case "Signer":
		t.Signer = true
		t.Kind = KindUnchecked
		return t, nil
	case "UncheckedAccount":
		t.Kind = KindUnchecked
		return t, nil
	case "SystemAccount":
		t.Kind = KindSystemAccount
		return t, nil
	case "TokenAccount":
		t.Kind = KindTokenAccount
		return t, nil
	case "Mint":
		t.Kind = KindMint
		return t, nil
	}
	if inner, ok := unwrap(rest, "Account"); ok {
		if err := types.ValidateIdentifier("account state", inner); err != nil {
			return t, err
		}
		t.Kind = KindAccount
		t.State = inner
		return t, nil
	}
	if inner, ok := unwrap(rest, "Program"); ok {
		if err := types.ValidateIdentifier("program", inner); err != nil {
			return t, err
		}
		t.Kind = KindProgram
		t.Program = inner
		return t, nil
	}
	if inner, ok := unwrap(rest, "Interface"); ok {
		if inner != "TokenInterface" {
			return t, fmt.Errorf("%w: unknown interface %s", types.ErrUnsupportedType, inner)
		}
		t.Kind = KindInterface
		return t, nil
	}
	return t, fmt.Errorf("%w: %q", types.ErrUnsupportedType, s)
}

func unwrap(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"<") || !strings.HasSuffix(s, ">") {
		return "", false
	}
	return strings.TrimSpace(s[len(name)+1 : len(s)-1]), true
}

// String renders the type back in declaration syntax.
func (t AccountType) String() string {
	var base string
	switch t.Kind {
	case KindAccount:
		base = "Account<" + t.State + ">"
	case KindProgram:
		base = "Program<" + t.Program + ">"
	case KindInterface:
		base = "Interface<TokenInterface>"
	case KindUnchecked:
		if t.Signer {
			base = "Signer"
		} else {
			base = "UncheckedAccount"
		}
	default:
		base = t.Kind.String()
	}
	if t.Signer && t.Kind != KindUnchecked {
		base = "Signer<" + base + ">"
	}
	if t.Mut {
		base = "Mut<" + base + ">"
	}
	if t.Optional {
		base = "Option<" + base + ">"
	}
	if t.Array > 0 {
		base = "[" + strconv.Itoa(t.Array) + "]" + base
	}
	return base
}
