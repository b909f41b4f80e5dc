package schema

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// Primitive field type names
const (
	TypeBool   = "bool"
	TypeU8     = "u8"
	TypeU16    = "u16"
	TypeU32    = "u32"
	TypeU64    = "u64"
	TypeU128   = "u128"
	TypeI8     = "i8"
	TypeI16    = "i16"
	TypeI32    = "i32"
	TypeI64    = "i64"
	TypePubkey = "pubkey"
	TypeString = "string"
	TypeBytes  = "bytes"
)

var fixedSizes = map[string]int{
	TypeBool:   1,
	TypeU8:     1,
	TypeU16:    2,
	TypeU32:    4,
	TypeU64:    8,
	TypeU128:   16,
	TypeI8:     1,
	TypeI16:    2,
	TypeI32:    4,
	TypeI64:    8,
	TypePubkey: 32,
}

// ByteArrayLen returns N for a "[N]u8" type.
func ByteArrayLen(t string) (int, bool) {
	if !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, "]u8") {
		return 0, false
	}
	n, err := strconv.Atoi(t[1 : len(t)-3])
	if err != nil || n < 1 || n > 1024 {
		return 0, false
	}
	return n, true
}

// FieldSize returns the encoded size of a field type and whether it is
// fixed. Variable-size types report their empty encoding.
func FieldSize(t string) (int, bool) {
	if n, ok := fixedSizes[t]; ok {
		return n, true
	}
	if n, ok := ByteArrayLen(t); ok {
		return n, true
	}
	if t == TypeString || t == TypeBytes {
		return 4, false
	}
	return 0, false
}

// GoType returns the Go spelling of a field type, with package qualifiers
// "solana" and "bin".
func GoType(t string) string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeU8, TypeU16, TypeU32, TypeU64:
		return "uint" + t[1:]
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return "int" + t[1:]
	case TypeU128:
		return "bin.Uint128"
	case TypePubkey:
		return "solana.PublicKey"
	case TypeString:
		return "string"
	case TypeBytes:
		return "[]byte"
	}
	if n, ok := ByteArrayLen(t); ok {
		return fmt.Sprintf("[%d]byte", n)
	}
	return ""
}

func validType(t string) bool {
	if _, ok := fixedSizes[t]; ok {
		return true
	}
	if _, ok := ByteArrayLen(t); ok {
		return true
	}
	return t == TypeString || t == TypeBytes
}

func validateFields(fields []FieldDef) error {
	seen := map[string]bool{}
	for _, f := range fields {
		if err := types.ValidateIdentifier("field", f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: field %s", types.ErrDuplicateName, f.Name)
		}
		seen[f.Name] = true
		if !validType(f.Type) {
			return fmt.Errorf("%w: %s %s", types.ErrUnsupportedType, f.Name, f.Type)
		}
	}
	return nil
}

func (s *StateType) validate() error {
	if err := validateFields(s.Fields); err != nil {
		return err
	}
	n := s.DiscriminatorLen
	if n == 0 && len(s.Discriminator) > 0 {
		n = len(s.Discriminator)
	}
	if n == 0 {
		n = constants.DiscriminatorLen
	}
	if n < 1 || n > constants.MaxDiscriminatorLen {
		return types.NewValidationError("discriminator_len", "must be within 1..32")
	}
	if len(s.Discriminator) > 0 && len(s.Discriminator) != n {
		return types.NewValidationError("discriminator", "length does not match discriminator_len")
	}
	if len(s.Discriminator) > 0 && bytes.Count(s.Discriminator, []byte{0}) == len(s.Discriminator) {
		return types.NewValidationError("discriminator", "cannot be all zero")
	}
	s.DiscriminatorLen = n
	for _, k := range s.Seeds {
		f, ok := s.Field(k)
		if !ok {
			return types.NewValidationError("seeds", "unknown key field "+k)
		}
		if f.Type == TypeU128 {
			return types.NewValidationError("seeds", "u128 cannot be a seed")
		}
	}
	return nil
}

// Field returns the field named name.
func (s *StateType) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Size returns the account size, discriminator included, and whether every
// field is fixed-size.
func (s *StateType) Size() (int, bool) {
	size := s.DiscriminatorLen
	fixed := true
	for _, f := range s.Fields {
		n, ok := FieldSize(f.Type)
		size += n
		fixed = fixed && ok
	}
	return size, fixed
}

// Record is a decoded field set, keyed by field name. Values use the Go
// types reported by GoType; [N]u8 arrays are held as []byte.
type Record map[string]interface{}

// DecodeRecord decodes fields in order. Both argument encodings and account
// state agree on fixed-size fields; strings and bytes carry a u32 length.
func DecodeRecord(fields []FieldDef, dec *bin.Decoder) (Record, error) {
	out := Record{}
	for _, f := range fields {
		v, err := decodeValue(f.Type, dec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeValue(t string, dec *bin.Decoder) (interface{}, error) {
	switch t {
	case TypeBool:
		return dec.ReadBool()
	case TypeU8:
		return dec.ReadUint8()
	case TypeU16:
		return dec.ReadUint16(bin.LE)
	case TypeU32:
		return dec.ReadUint32(bin.LE)
	case TypeU64:
		return dec.ReadUint64(bin.LE)
	case TypeU128:
		return dec.ReadUint128(bin.LE)
	case TypeI8:
		return dec.ReadInt8()
	case TypeI16:
		return dec.ReadInt16(bin.LE)
	case TypeI32:
		return dec.ReadInt32(bin.LE)
	case TypeI64:
		return dec.ReadInt64(bin.LE)
	case TypePubkey:
		raw, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return nil, err
		}
		return solana.PublicKeyFromBytes(raw), nil
	case TypeString, TypeBytes:
		n, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, err
		}
		raw, err := dec.ReadNBytes(int(n))
		if err != nil {
			return nil, err
		}
		if t == TypeString {
			return string(raw), nil
		}
		return append([]byte(nil), raw...), nil
	}
	if n, ok := ByteArrayLen(t); ok {
		raw, err := dec.ReadNBytes(n)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), raw...), nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedType, t)
}

// EncodeRecord writes fields in order. Missing values encode as zero.
func EncodeRecord(fields []FieldDef, rec Record, enc *bin.Encoder) error {
	for _, f := range fields {
		if err := encodeValue(f.Type, rec[f.Name], enc); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func encodeValue(t string, v interface{}, enc *bin.Encoder) error {
	if n, ok := ByteArrayLen(t); ok {
		raw, _ := v.([]byte)
		if len(raw) > n {
			return fmt.Errorf("array holds %d bytes, got %d", n, len(raw))
		}
		buf := make([]byte, n)
		copy(buf, raw)
		return enc.WriteBytes(buf, false)
	}
	var err error
	switch t {
	case TypeBool:
		b, _ := v.(bool)
		err = enc.WriteBool(b)
	case TypeU8:
		n, _ := v.(uint8)
		err = enc.WriteUint8(n)
	case TypeU16:
		n, _ := v.(uint16)
		err = enc.WriteUint16(n, bin.LE)
	case TypeU32:
		n, _ := v.(uint32)
		err = enc.WriteUint32(n, bin.LE)
	case TypeU64:
		n, _ := v.(uint64)
		err = enc.WriteUint64(n, bin.LE)
	case TypeU128:
		n, _ := v.(bin.Uint128)
		err = enc.WriteUint128(n, bin.LE)
	case TypeI8:
		n, _ := v.(int8)
		err = enc.WriteInt8(n)
	case TypeI16:
		n, _ := v.(int16)
		err = enc.WriteInt16(n, bin.LE)
	case TypeI32:
		n, _ := v.(int32)
		err = enc.WriteInt32(n, bin.LE)
	case TypeI64:
		n, _ := v.(int64)
		err = enc.WriteInt64(n, bin.LE)
	case TypePubkey:
		k, _ := v.(solana.PublicKey)
		err = enc.WriteBytes(k.Bytes(), false)
	case TypeString:
		s, _ := v.(string)
		err = enc.WriteBytes([]byte(s), true)
	case TypeBytes:
		b, _ := v.([]byte)
		err = enc.WriteBytes(b, true)
	default:
		err = fmt.Errorf("%w: %s", types.ErrUnsupportedType, t)
	}
	return err
}
