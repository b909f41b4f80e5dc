package schema

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninja0404/ctxgen/pkg/types"
)

const counterSchema = `
name: counter
id: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS
constants:
  - name: MaxCount
    kind: u64
    value: "1000"
errors:
  - name: NotAdmin
    message: caller is not the admin
accounts:
  - name: Counter
    fields:
      - name: admin
        type: pubkey
      - name: count
        type: u64
      - name: bump
        type: u8
    seeds: [admin]
contexts:
  - name: Initialize
    args:
      encoding: fixed
      fields:
        - name: start
          type: u64
    accounts:
      - name: payer
        type: Mut<Signer>
      - name: counter
        type: Mut<Account<Counter>>
        constraints: "init, payer = payer, seeded"
      - name: voters
        type: "[3]Signer"
      - name: system_program
        type: Program<System>
`

func TestParseCounter(t *testing.T) {
	p, err := Parse([]byte(counterSchema))
	require.NoError(t, err)

	assert.Equal(t, "counter", p.Name)
	assert.Equal(t, solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"), p.Key())

	st, ok := p.StateType("Counter")
	require.True(t, ok)
	assert.Equal(t, 8, st.DiscriminatorLen)
	size, fixed := st.Size()
	assert.True(t, fixed)
	assert.Equal(t, 8+32+8+1, size)

	ctx, idx, err := p.Context("Initialize")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, EncodingFixed, ctx.Args.Encoding)

	e, ok := p.ErrorDef("NotAdmin")
	require.True(t, ok)
	assert.Equal(t, uint32(6000), e.Code)
}

func TestDeclarationsExpandArrays(t *testing.T) {
	p, err := Parse([]byte(counterSchema))
	require.NoError(t, err)

	decls, err := p.Declarations(0)
	require.NoError(t, err)

	var names []string
	for _, d := range decls {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"payer", "counter", "voters_0", "voters_1", "voters_2", "system_program"}, names)
	assert.Equal(t, 1, decls[3].Element)
	assert.Equal(t, "voters", decls[3].Base)
	assert.Zero(t, decls[3].Type.Array)
	assert.Equal(t, 3, decls[3].Size)
	assert.Zero(t, decls[1].Size)
	assert.True(t, decls[3].Type.Signer)
}

func TestParseErrorsCarryPosition(t *testing.T) {
	src := `
name: bad
id: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS
contexts:
  - name: Initialize
    accounts:
      - name: payer
        type: Mut<Signer>
      - name: payer
        type: Signer
`
	_, err := Parse([]byte(src))
	require.Error(t, err)

	var gen *types.GenerationError
	require.True(t, errors.As(err, &gen))
	assert.True(t, errors.Is(err, types.ErrDuplicateName))
	assert.Equal(t, 9, gen.Pos.Line)
}

func TestParseRejects(t *testing.T) {
	base := "name: bad\nid: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS\n"
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"empty", "", types.ErrEmptySchema},
		{"unknown state", base + "contexts:\n  - name: A\n    accounts:\n      - {name: x, type: Account<Missing>}\n", types.ErrUnknownStateType},
		{"reserved", base + "contexts:\n  - name: A\n    accounts:\n      - {name: args, type: Signer}\n", types.ErrReservedName},
		{"array too big", base + "contexts:\n  - name: A\n    accounts:\n      - {name: xs, type: \"[101]Signer\"}\n", nil},
		{"bad type", base + "contexts:\n  - name: A\n    accounts:\n      - {name: x, type: Wallet}\n", types.ErrUnsupportedType},
		{"shadow builtin error", base + "errors:\n  - name: ConstraintSeeds\n", types.ErrDuplicateName},
		{"variable fixed args", base + "contexts:\n  - name: A\n    args:\n      encoding: fixed\n      fields:\n        - {name: memo, type: string}\n    accounts: []\n", nil},
		{"bad id", "name: bad\nid: nope\n", types.ErrMalformedProgramID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
		})
	}
}

func TestParseAccountType(t *testing.T) {
	tests := []struct {
		src  string
		want AccountType
	}{
		{"Signer", AccountType{Kind: KindUnchecked, Signer: true}},
		{"Mut<Signer>", AccountType{Kind: KindUnchecked, Signer: true, Mut: true}},
		{"Option<Mut<Account<Counter>>>", AccountType{Kind: KindAccount, State: "Counter", Mut: true, Optional: true}},
		{"Mut<Signer<Account<Counter>>>", AccountType{Kind: KindAccount, State: "Counter", Mut: true, Signer: true}},
		{"[4]Mut<TokenAccount>", AccountType{Kind: KindTokenAccount, Mut: true, Array: 4}},
		{"Program<System>", AccountType{Kind: KindProgram, Program: "System"}},
		{"Interface<TokenInterface>", AccountType{Kind: KindInterface}},
		{"Mint", AccountType{Kind: KindMint}},
		{"SystemAccount", AccountType{Kind: KindSystemAccount}},
		{"UncheckedAccount", AccountType{Kind: KindUnchecked}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParseAccountType(tt.src)
			require.NoError(t, err)
			tt.want.Raw = tt.src
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.src, got.String())
		})
	}

	for _, bad := range []string{"", "[0]Signer", "[2][2]Signer", "Option<Option<Signer>>", "Interface<Other>", "Account<>"} {
		_, err := ParseAccountType(bad)
		assert.Error(t, err, bad)
	}
}

func TestDiscriminators(t *testing.T) {
	st := StateType{Name: "Counter", DiscriminatorLen: 8}
	sum := sha256.Sum256([]byte("account:Counter"))
	assert.Equal(t, sum[:8], st.DiscriminatorBytes())

	v := uint8(2)
	versioned := StateType{Name: "Counter", DiscriminatorLen: 4, Version: &v}
	vsum := sha256.Sum256(append([]byte("account:Counter"), 2))
	assert.Equal(t, vsum[:4], versioned.DiscriminatorBytes())

	explicit := StateType{Name: "Counter", Discriminator: []byte{7}}
	require.NoError(t, explicit.validate())
	assert.Equal(t, []byte{7}, explicit.DiscriminatorBytes())

	ix := InstructionDiscriminator("InitializeCounter")
	isum := sha256.Sum256([]byte("global:initialize_counter"))
	assert.Equal(t, isum[:8], ix[:])
}

func TestNames(t *testing.T) {
	assert.Equal(t, "initialize_counter", ToSnake("InitializeCounter"))
	assert.Equal(t, "http_server", ToSnake("HTTPServer"))
	assert.Equal(t, "SystemProgram", ToExport("system_program"))
	assert.Equal(t, "ProgramID", ToExport("program_id"))
	assert.Equal(t, "Admin", ToExport("admin"))
}

func TestRecordRoundTrip(t *testing.T) {
	fields := []FieldDef{
		{Name: "admin", Type: TypePubkey},
		{Name: "count", Type: TypeU64},
		{Name: "delta", Type: TypeI16},
		{Name: "memo", Type: TypeString},
		{Name: "tag", Type: "[4]u8"},
		{Name: "open", Type: TypeBool},
	}
	admin := solana.NewWallet().PublicKey()
	rec := Record{
		"admin": admin,
		"count": uint64(42),
		"delta": int16(-3),
		"memo":  "hi",
		"tag":   []byte{1, 2},
		"open":  true,
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(fields, rec, bin.NewBorshEncoder(&buf)))
	assert.Equal(t, 32+8+2+4+2+4+1, buf.Len())

	got, err := DecodeRecord(fields, bin.NewBorshDecoder(buf.Bytes()))
	require.NoError(t, err)
	rec["tag"] = []byte{1, 2, 0, 0}
	assert.Equal(t, rec, got)
}

func TestConstantEval(t *testing.T) {
	v, err := Constant{Name: "N", Kind: ConstU64, Value: "0x10"}.Eval()
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v)

	v, err = Constant{Name: "S", Kind: ConstBytes, Value: "vault"}.Eval()
	require.NoError(t, err)
	assert.Equal(t, []byte("vault"), v)

	_, err = Constant{Name: "K", Kind: ConstPubkey, Value: "zz"}.Eval()
	assert.Error(t, err)
}
