package interp

import (
	"math/big"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

func bigInt(n int64) *big.Int {
	return big.NewInt(n)
}

func evalSrc(t *testing.T, s scope, src string) (interface{}, error) {
	t.Helper()
	e, err := constraint.ParseExpr(src)
	require.NoError(t, err)
	return s.eval(e.Node)
}

func TestEval(t *testing.T) {
	key := solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	acct := runtime.NewAccountInfo(key, solana.SystemProgramID, 42, []byte{1, 2, 3}, true, false)
	s := scope{
		"a":        acct,
		"skipped":  (*runtime.AccountInfo)(nil),
		"K":        key,
		"LIMIT":    uint64(100),
		"SEED":     []byte("vault"),
		"aState":   record{fields: []schema.FieldDef{{Name: "count", Type: "u64"}, {Name: "tag", Type: "[4]u8"}}, values: schema.Record{"count": uint64(7), "tag": []byte{9, 8, 7, 6}}},
		"narrow":   uint8(250),
		"wide":     bin.Uint128{Lo: ^uint64(0), Endianness: bin.LE},
		"optional": key.ToPointer(),
	}

	tests := []struct {
		src  string
		want interface{}
	}{
		{"a.Key() == K", true},
		{"a.Lamports() + 8", uint64(50)},
		{"a.DataLen() * 2", 6},
		{"a.IsSigner() && !a.IsWritable()", true},
		{"aState.Count < LIMIT", true},
		{"aState.count + 1", uint64(8)},
		{"aState.Tag[1]", uint8(8)},
		{"len(aState.Tag)", 4},
		{"narrow + 10", uint8(4)},
		{"uint16(narrow) + 10", uint16(260)},
		{"LIMIT / 3 % 5", uint64(3)},
		{"LIMIT >> 2", uint64(25)},
		{"1 << 4", untyped{v: bigInt(16)}},
		{"wide + 1", bin.Uint128{Lo: 0, Hi: 1, Endianness: bin.LE}},
		{`[]byte("ab")`, []byte("ab")},
		{"[]byte{1, 2}", []byte{1, 2}},
		{"len(SEED)", 5},
		{"skipped == nil", true},
		{"a == nil", false},
		{"skipped == nil || skipped.Key() == K", true},
		{"optional == K", true},
		{"K.Equals(a.Key())", true},
		{"!K.IsZero()", true},
		{`"ab" + "c"`, "abc"},
		{"'a'", untyped{v: bigInt(97), rune: true}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := evalSrc(t, s, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, src := range []string{
		"missing",
		"aState.Nope",
		"skipped.Key()",
		"LIMIT / 0",
		"a.Key() + 1",
		"aState.Tag[9]",
		"K == LIMIT",
		"func() {}",
	} {
		t.Run("error "+src, func(t *testing.T) {
			_, err := evalSrc(t, s, src)
			assert.ErrorIs(t, err, ErrEval)
		})
	}
}

func TestConcreteSeeds(t *testing.T) {
	s := scope{}
	v, err := evalSrc(t, s, "7")
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0, 0, 0, 0, 0}, runtime.SeedBytes(concrete(v)))

	v, err = evalSrc(t, s, "'z'")
	require.NoError(t, err)
	assert.Equal(t, []byte{'z', 0, 0, 0}, runtime.SeedBytes(concrete(v)))

	_, err = seedBytes(struct{}{})
	assert.ErrorIs(t, err, ErrEval)
}

func TestArithmeticWraps(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("uint8 matches Go arithmetic", prop.ForAll(
		func(a, b uint8) bool {
			s := scope{"x": a, "y": b}
			sum, err1 := s.binaryOf("x + y")
			diff, err2 := s.binaryOf("x - y")
			prod, err3 := s.binaryOf("x * y")
			return err1 == nil && err2 == nil && err3 == nil &&
				sum == a+b && diff == a-b && prod == a*b
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.Property("uint64 comparisons match Go", prop.ForAll(
		func(a, b uint64) bool {
			s := scope{"x": a, "y": b}
			lt, err1 := s.binaryOf("x < y")
			ge, err2 := s.binaryOf("x >= y")
			return err1 == nil && err2 == nil && lt == (a < b) && ge == (a >= b)
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func (s scope) binaryOf(src string) (interface{}, error) {
	e, err := constraint.ParseExpr(src)
	if err != nil {
		return nil, err
	}
	return s.eval(e.Node)
}
