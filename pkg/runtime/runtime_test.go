package runtime

import (
	"bytes"
	"math/rand"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ninja0404/ctxgen/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const funded = 10_000_000_000

var programID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func newPayer() *AccountInfo {
	return NewAccountInfo(newKey(), solana.SystemProgramID, funded, nil, true, true)
}

func TestDiscriminatorMatchesProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	lengths := gen.OneConstOf(1, 2, 3, 4, 5, 8, 9, 12, 15, 16, 17, 32)

	properties.Property("prefix matches", prop.ForAll(
		func(n int, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			disc := make([]byte, n)
			r.Read(disc)
			data := append(append([]byte{}, disc...), make([]byte, r.Intn(16))...)
			return DiscriminatorMatches(disc, data)
		},
		lengths,
		gen.Int64(),
	))

	properties.Property("any flipped byte fails", prop.ForAll(
		func(n int, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			disc := make([]byte, n)
			r.Read(disc)
			data := append([]byte{}, disc...)
			data[r.Intn(n)] ^= byte(1 + r.Intn(255))
			return !DiscriminatorMatches(disc, data)
		},
		lengths,
		gen.Int64(),
	))

	properties.Property("short data fails", prop.ForAll(
		func(n int, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			disc := make([]byte, n)
			r.Read(disc)
			return !DiscriminatorMatches(disc, disc[:r.Intn(n)])
		},
		lengths,
		gen.Int64(),
	))

	properties.Property("agrees with bytes.HasPrefix", prop.ForAll(
		func(n int, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			disc := make([]byte, n)
			data := make([]byte, n+r.Intn(4))
			// Small alphabets make accidental matches likely.
			for i := range disc {
				disc[i] = byte(r.Intn(2))
			}
			for i := range data {
				data[i] = byte(r.Intn(2))
			}
			return DiscriminatorMatches(disc, data) == bytes.HasPrefix(data, disc)
		},
		lengths,
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestBorrowRules(t *testing.T) {
	a := NewAccountInfo(newKey(), programID, 1, []byte{1, 2, 3}, false, true)

	r1, err := a.TryBorrow()
	require.NoError(t, err)
	r2, err := a.TryBorrow()
	require.NoError(t, err)
	_, err = a.TryBorrowMut()
	assert.ErrorIs(t, err, types.ErrAccountBorrowFailed)
	assert.Error(t, a.Resize(8))

	r1.Release()
	r1.Release()
	_, err = a.TryBorrowMut()
	assert.Error(t, err, "one reader is still live")
	r2.Release()

	w, err := a.TryBorrowMut()
	require.NoError(t, err)
	_, err = a.TryBorrow()
	assert.ErrorIs(t, err, types.ErrAccountBorrowFailed)
	w.Data()[0] = 9
	w.Release()

	r, err := a.TryBorrow()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 2, 3}, r.Data())
	r.Release()
	assert.Nil(t, r.Data())
}

func TestCreateAccount(t *testing.T) {
	env := NewEnv(programID)
	payer := newPayer()
	target := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, true, true)

	require.NoError(t, CreateAccount(env, payer, target, 40, programID, nil))
	required := env.Rent.MinimumBalance(40)
	assert.Equal(t, required, target.Lamports())
	assert.Equal(t, uint64(funded)-required, payer.Lamports())
	assert.Equal(t, 40, target.DataLen())
	assert.True(t, target.IsOwnedBy(programID))
	assert.NotEmpty(t, env.Logs())

	err := CreateAccount(env, payer, target, 40, programID, nil)
	assert.Error(t, err, "an assigned account cannot be created again")
}

func TestCreateAccountTopsUpPrefunded(t *testing.T) {
	env := NewEnv(programID)
	required := env.Rent.MinimumBalance(16)

	t.Run("shortfall", func(t *testing.T) {
		payer := newPayer()
		target := NewAccountInfo(newKey(), solana.SystemProgramID, required/2, nil, true, true)
		require.NoError(t, CreateAccount(env, payer, target, 16, programID, nil))
		assert.Equal(t, required, target.Lamports())
		assert.Equal(t, uint64(funded)-(required-required/2), payer.Lamports())
		assert.True(t, target.IsOwnedBy(programID))
	})

	t.Run("already rent exempt", func(t *testing.T) {
		payer := newPayer()
		target := NewAccountInfo(newKey(), solana.SystemProgramID, required+5, nil, true, true)
		require.NoError(t, CreateAccount(env, payer, target, 16, programID, nil))
		assert.Equal(t, required+5, target.Lamports())
		assert.Equal(t, uint64(funded), payer.Lamports())
		assert.Equal(t, 16, target.DataLen())
	})
}

func TestCreateAccountProgramDerived(t *testing.T) {
	env := NewEnv(programID)
	seeds := [][]byte{[]byte("vault"), {1}}
	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	target := NewAccountInfo(addr, solana.SystemProgramID, 0, nil, false, true)
	err = CreateAccount(env, newPayer(), target, 8, programID, nil)
	assert.ErrorIs(t, err, types.ErrAccountNotSigner)

	require.NoError(t, CreateAccount(env, newPayer(), target, 8, programID, WithBump(seeds, bump)))
	assert.True(t, target.IsOwnedBy(programID))
}

func TestPDAModes(t *testing.T) {
	seeds := [][]byte{[]byte("counter"), newKey().Bytes()}
	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	a := NewAccountInfo(addr, programID, 1, nil, false, false)
	other := NewAccountInfo(newKey(), programID, 1, nil, false, false)

	found, err := FindPDA(a, seeds, programID, "counter")
	require.NoError(t, err)
	assert.Equal(t, bump, found)
	_, err = FindPDA(other, seeds, programID, "counter")
	assert.ErrorIs(t, err, types.ErrConstraintSeeds)

	assert.NoError(t, CreatePDA(a, seeds, bump, programID, "counter"))
	assert.ErrorIs(t, CreatePDA(other, seeds, bump, programID, "counter"), types.ErrConstraintSeeds)

	assert.NoError(t, FindPDAWithBump(a, seeds, bump, programID, "counter"))
	assert.ErrorIs(t, FindPDAWithBump(a, seeds, bump-1, programID, "counter"), types.ErrConstraintSeeds)
}

func TestSeedBytes(t *testing.T) {
	key := newKey()
	tests := []struct {
		in   interface{}
		want []byte
	}{
		{"ab", []byte("ab")},
		{[]byte{1, 2}, []byte{1, 2}},
		{key, key.Bytes()},
		{&key, key.Bytes()},
		{true, []byte{1}},
		{uint8(7), []byte{7}},
		{uint16(0x0102), []byte{2, 1}},
		{uint32(1), []byte{1, 0, 0, 0}},
		{uint64(1), []byte{1, 0, 0, 0, 0, 0, 0, 0}},
		{int64(-1), bytes.Repeat([]byte{0xff}, 8)},
		{bin.Uint128{Lo: 1, Hi: 2}, append([]byte{1, 0, 0, 0, 0, 0, 0, 0}, 2, 0, 0, 0, 0, 0, 0, 0)},
		{[3]byte{4, 5, 6}, []byte{4, 5, 6}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeedBytes(tt.in), "%T", tt.in)
	}
	assert.Panics(t, func() { SeedBytes(1.5) })
	assert.Equal(t, [][]byte{{1}, {9}}, WithBump([][]byte{{1}}, 9))
}

func TestCheckAccount(t *testing.T) {
	disc := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	tests := []struct {
		name string
		acct *AccountInfo
		want error
	}{
		{"ok", NewAccountInfo(newKey(), programID, 1, append(append([]byte{}, disc...), 0), false, false), nil},
		{"uninitialized", NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, false, false), types.ErrAccountNotInitialized},
		{"wrong owner", NewAccountInfo(newKey(), solana.TokenProgramID, 1, disc, false, false), types.ErrAccountOwnedByWrongProgram},
		{"short data", NewAccountInfo(newKey(), programID, 1, disc[:3], false, false), types.ErrAccountDiscriminatorNotFound},
		{"mismatch", NewAccountInfo(newKey(), programID, 1, make([]byte, 8), false, false), types.ErrAccountDiscriminatorMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAccount(tt.acct, programID, disc, "acct")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestChecks(t *testing.T) {
	plain := NewAccountInfo(newKey(), solana.SystemProgramID, 1, nil, false, false)
	assert.ErrorIs(t, CheckSigner(plain, "a"), types.ErrConstraintSigner)
	assert.ErrorIs(t, CheckWritable(plain, "a"), types.ErrConstraintMut)
	assert.ErrorIs(t, CheckOwner(plain, programID, "a"), types.ErrConstraintOwner)
	assert.NoError(t, CheckSystemAccount(plain, "a"))
	assert.Error(t, CheckProgram(plain, plain.Key(), "a"))
	assert.NoError(t, CheckProgram(NewProgramAccount(programID), programID, "p"))
	assert.NoError(t, CheckTokenProgram(NewProgramAccount(solana.Token2022ProgramID), "t"))
	assert.Error(t, CheckTokenProgram(NewProgramAccount(programID), "t"))

	var skipped *AccountInfo
	assert.True(t, IsDefaultAddress(skipped))
	assert.True(t, NeedsInit(plain))

	err := Require(false, types.ErrConstraintRaw, "a")
	var pe *types.ProgramError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "a", pe.Account)
	assert.Empty(t, types.ErrConstraintRaw.Account)
	assert.Equal(t, solana.PublicKey{}, OptionalKey(nil))
}

func TestStoreState(t *testing.T) {
	disc := []byte{9, 9}
	a := NewAccountInfo(newKey(), programID, 1, []byte{9, 9, 0, 0, 0}, false, true)

	require.NoError(t, StoreState(a, disc, []byte{1, 2, 3}, "a"))
	assert.Equal(t, []byte{9, 9, 1, 2, 3}, a.Snapshot())

	assert.ErrorIs(t, StoreState(a, []byte{8, 8}, []byte{1}, "a"), types.ErrAccountDiscriminatorMismatch)
	assert.ErrorIs(t, StoreState(a, disc, []byte{1, 2, 3, 4}, "a"), types.ErrAccountDidNotSerialize)

	r, err := a.TryBorrow()
	require.NoError(t, err)
	assert.ErrorIs(t, StoreState(a, disc, []byte{1}, "a"), types.ErrAccountBorrowFailed)
	r.Release()
}

func TestBindState(t *testing.T) {
	a := NewAccountInfo(newKey(), programID, 1, []byte{5}, false, true)
	decode := func(data []byte) (*uint8, error) {
		if len(data) != 1 {
			return nil, types.ErrAccountDidNotDeserialize
		}
		v := data[0]
		return &v, nil
	}

	ref, err := BindState(a, "a", decode)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), *ref.Value)
	assert.True(t, ref.Live())
	_, err = a.TryBorrowMut()
	assert.Error(t, err)

	ref.Release()
	ref.Release()
	assert.False(t, ref.Live())
	w, err := a.TryBorrowMut()
	require.NoError(t, err)
	w.Release()

	bad := NewAccountInfo(newKey(), programID, 1, []byte{1, 2}, false, true)
	_, err = BindState(bad, "bad", decode)
	assert.ErrorIs(t, err, types.ErrAccountDidNotDeserialize)
	w, err = bad.TryBorrowMut()
	require.NoError(t, err, "a failed decode releases its borrow")
	w.Release()

	var none *StateRef[uint8]
	none.Release()
}

func TestInput(t *testing.T) {
	accounts := []*AccountInfo{newPayer(), newPayer(), newPayer()}
	taken, err := TakeAccounts(&accounts, 2)
	require.NoError(t, err)
	assert.Len(t, taken, 2)
	assert.Len(t, accounts, 1)
	_, err = TakeAccounts(&accounts, 2)
	assert.ErrorIs(t, err, types.ErrAccountNotEnoughKeys)
	assert.Len(t, Remaining(&accounts), 1)
	assert.Empty(t, accounts)

	var args struct {
		Amount uint64
		Flag   uint8
	}
	data := []byte{1, 0, 0, 0, 0, 0, 0, 0, 1, 0xee}
	require.NoError(t, DecodeFixedArgs(&data, &args))
	assert.Equal(t, uint64(1), args.Amount)
	assert.Equal(t, uint8(1), args.Flag)
	assert.Equal(t, []byte{0xee}, data)

	short := []byte{1, 2}
	assert.ErrorIs(t, DecodeBorshArgs(&short, &args), types.ErrInstructionDidNotDeserialize)
	assert.Equal(t, []byte{1, 2}, short)
}

func TestTokenInitialization(t *testing.T) {
	env := NewEnv(programID)
	authority := newKey()
	mint := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, true, true)
	require.NoError(t, InitMint(env, newPayer(), mint, 6, authority, nil, solana.TokenProgramID, nil))

	m, err := LoadMint(mint, "mint")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), m.Decimals)
	assert.Equal(t, authority, OptionalKey(m.MintAuthority))
	assert.Nil(t, m.FreezeAuthority)

	holder := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, true, true)
	owner := newKey()
	require.NoError(t, InitTokenAccount(env, []*AccountInfo{mint, holder}, newPayer(), holder, mint.Key(), owner, solana.TokenProgramID, nil))
	acct, err := LoadTokenAccount(holder, "holder")
	require.NoError(t, err)
	assert.Equal(t, owner, acct.Owner)
	assert.Equal(t, mint.Key(), acct.Mint)

	// A plain token account is not the associated one.
	assert.ErrorIs(t, CheckAssociatedToken(holder, acct, owner, mint.Key(), "holder"), types.ErrAccountNotAssociatedToken)
	assert.ErrorIs(t, CheckAssociatedToken(holder, acct, newKey(), mint.Key(), "holder"), types.ErrConstraintAssociatedTokenAuthority)

	_, err = LoadMint(holder, "holder")
	assert.Error(t, err)
}

func TestAssociatedTokenInitialization(t *testing.T) {
	env := NewEnv(programID)
	authority := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, false, false)
	mint := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, true, true)
	require.NoError(t, InitMint(env, newPayer(), mint, 0, authority.Key(), nil, solana.Token2022ProgramID, nil))

	addr, _, err := AssociatedTokenAddress(authority.Key(), mint.Key(), solana.Token2022ProgramID)
	require.NoError(t, err)
	ata := NewAccountInfo(addr, solana.SystemProgramID, 0, nil, false, true)
	payer := newPayer()
	pool := []*AccountInfo{payer, authority, mint, ata, NewProgramAccount(solana.SystemProgramID), NewProgramAccount(solana.Token2022ProgramID)}

	require.NoError(t, InitAssociatedToken(env, pool, payer, ata, authority.Key(), mint.Key(), solana.Token2022ProgramID, "ata"))
	assert.True(t, ata.IsOwnedBy(solana.Token2022ProgramID))
	state, err := LoadTokenAccount(ata, "ata")
	require.NoError(t, err)
	assert.NoError(t, CheckAssociatedToken(ata, state, authority.Key(), mint.Key(), "ata"))

	wrong := NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, false, true)
	err = InitAssociatedToken(env, append(pool, wrong), payer, wrong, authority.Key(), mint.Key(), solana.Token2022ProgramID, "vault")
	assert.ErrorIs(t, err, types.ErrConstraintAssociatedTokenAddress)
	var pe *types.ProgramError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "vault", pe.Account)
}

func TestInvokeUnknownProgram(t *testing.T) {
	env := NewEnv(programID)
	ix := solana.NewInstruction(newKey(), solana.AccountMetaSlice{}, nil)
	assert.ErrorIs(t, env.Invoke(ix, nil), types.ErrInvalidProgramID)
}

func TestWriteDiscriminator(t *testing.T) {
	a := NewAccountInfo(newKey(), programID, 1, make([]byte, 10), false, true)
	require.NoError(t, WriteDiscriminator(a, []byte{1, 2}, "a"))
	assert.ErrorIs(t, WriteDiscriminator(a, []byte{1, 2}, "a"), types.ErrAccountDiscriminatorAlreadySet)
	small := NewAccountInfo(newKey(), programID, 1, make([]byte, 1), false, true)
	assert.ErrorIs(t, WriteDiscriminator(small, []byte{1, 2}, "a"), types.ErrAccountDiscriminatorNotFound)
}
