package runtime

import (
	"fmt"
	"reflect"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/types"
)

// SeedBytes converts a seed expression value to its byte form. Integers are
// little-endian at their natural width. Byte arrays of any length are
// accepted.
func SeedBytes(v interface{}) []byte {
	switch s := v.(type) {
	case []byte:
		return s
	case string:
		return []byte(s)
	case solana.PublicKey:
		return s.Bytes()
	case *solana.PublicKey:
		return s.Bytes()
	case *AccountInfo:
		return s.Key().Bytes()
	case bool:
		if s {
			return []byte{1}
		}
		return []byte{0}
	case uint8:
		return []byte{s}
	case int8:
		return []byte{byte(s)}
	case uint16:
		out := make([]byte, 2)
		bin.LE.PutUint16(out, s)
		return out
	case int16:
		out := make([]byte, 2)
		bin.LE.PutUint16(out, uint16(s))
		return out
	case uint32:
		out := make([]byte, 4)
		bin.LE.PutUint32(out, s)
		return out
	case int32:
		out := make([]byte, 4)
		bin.LE.PutUint32(out, uint32(s))
		return out
	case uint64:
		out := make([]byte, 8)
		bin.LE.PutUint64(out, s)
		return out
	case int64:
		out := make([]byte, 8)
		bin.LE.PutUint64(out, uint64(s))
		return out
	case int:
		out := make([]byte, 8)
		bin.LE.PutUint64(out, uint64(s))
		return out
	case bin.Uint128:
		out := make([]byte, 16)
		bin.LE.PutUint64(out, s.Lo)
		bin.LE.PutUint64(out[8:], s.Hi)
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out
		}
		panic(fmt.Sprintf("runtime: unsupported seed type %T", v))
	}
}

// WithBump appends the bump byte, producing signer seeds.
func WithBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}

// FindPDA searches the canonical bump for seeds and checks the account sits
// at the derived address. It returns the bump.
func FindPDA(a *AccountInfo, seeds [][]byte, program solana.PublicKey, name string) (uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return 0, types.ErrConstraintSeeds.WithAccount(name)
	}
	if a.Key() != addr {
		return 0, types.ErrConstraintSeeds.WithAccount(name)
	}
	return bump, nil
}

// CreatePDA derives the address directly from seeds and a known bump, with no
// search, and checks the account sits there.
func CreatePDA(a *AccountInfo, seeds [][]byte, bump uint8, program solana.PublicKey, name string) error {
	addr, err := solana.CreateProgramAddress(WithBump(seeds, bump), program)
	if err != nil {
		return types.ErrConstraintSeeds.WithAccount(name)
	}
	if a.Key() != addr {
		return types.ErrConstraintSeeds.WithAccount(name)
	}
	return nil
}

// FindPDAWithBump searches the canonical bump and checks both the address
// and that bump equals the canonical one.
func FindPDAWithBump(a *AccountInfo, seeds [][]byte, bump uint8, program solana.PublicKey, name string) error {
	found, err := FindPDA(a, seeds, program, name)
	if err != nil {
		return err
	}
	if found != bump {
		return types.ErrConstraintSeeds.WithAccount(name)
	}
	return nil
}
