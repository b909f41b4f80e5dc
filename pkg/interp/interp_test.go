package interp

import (
	"bytes"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/schema"
	"github.com/ninja0404/ctxgen/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const vaultSchema = `
name: vault
id: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS
errors:
  - name: NotAdmin
    message: caller is not the admin
  - name: LimitReached
    message: counter limit reached
accounts:
  - name: Config
    fields:
      - name: admin
        type: pubkey
      - name: limit
        type: u64
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
      - name: admin
        type: Signer
      - name: counter
        type: Mut<Account<Counter>>
        constraints: 'init, payer = payer, seeds = ["counter", admin]'
      - name: system_program
        type: Program<System>
  - name: Increment
    accounts:
      - name: admin
        type: Signer
      - name: config
        type: Account<Config>
        constraints: has_one = admin @ NotAdmin
      - name: counter
        type: Mut<Account<Counter>>
        constraints: 'seeded, bump = counter.Data().bump, has_one = admin, assert = config.Data().limit > counter.Data().count @ LimitReached'
      - name: referrer
        type: Option<Signer>
  - name: Open
    args:
      encoding: borsh
      fields:
        - name: label
          type: string
        - name: index
          type: u16
    accounts:
      - name: payer
        type: Mut<Signer>
      - name: slot
        type: Mut<Account<Counter>>
        constraints: 'init, payer = payer, seeds = ["slot", args.label, args.index], space = 8 + 49'
      - name: system_program
        type: Program<System>
  - name: CreateMint
    accounts:
      - name: payer
        type: Mut<Signer>
      - name: authority
        type: Signer
      - name: mint
        type: Mut<Signer<Mint>>
        constraints: 'init, payer = payer, mint::decimals = 6, mint::authority = authority'
      - name: system_program
        type: Program<System>
      - name: token_program
        type: Program<Token>
  - name: Deposit
    accounts:
      - name: payer
        type: Mut<Signer>
      - name: owner
        type: Signer
      - name: mint
        type: Mint
        constraints: mint::authority = owner
      - name: vault
        type: Mut<TokenAccount>
        constraints: init_if_needed, payer = payer, associated_token::mint = mint, associated_token::authority = owner
      - name: system_program
        type: Program<System>
      - name: token_program
        type: Program<Token>
  - name: Vote
    accounts:
      - name: config
        type: Account<Config>
      - name: voters
        type: "[2]Signer"
`

const funded = 10_000_000_000

type fixture struct {
	t    *testing.T
	prog *schema.Program
	gen  *codegen.Generator
	m    *Machine
	env  *runtime.Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prog, err := schema.Parse([]byte(vaultSchema))
	require.NoError(t, err)
	return &fixture{
		t:    t,
		prog: prog,
		gen:  codegen.New(prog, config.DefaultGeneratorConfig()),
		m:    New(prog),
		env:  runtime.NewEnv(prog.Key()),
	}
}

func (f *fixture) run(ctx string, accounts []*runtime.AccountInfo, data []byte) (*Result, error) {
	f.t.Helper()
	p, err := f.gen.Plan(ctx)
	require.NoError(f.t, err)
	return f.m.Run(f.env, p, &accounts, &data)
}

func (f *fixture) stateData(name string, rec schema.Record) []byte {
	f.t.Helper()
	st, ok := f.prog.StateType(name)
	require.True(f.t, ok)
	var buf bytes.Buffer
	require.NoError(f.t, schema.EncodeRecord(st.Fields, rec, bin.NewBorshEncoder(&buf)))
	return append(append([]byte{}, st.DiscriminatorBytes()...), buf.Bytes()...)
}

func (f *fixture) programErr(name string) *types.ProgramError {
	for _, e := range f.prog.ProgramErrors() {
		if e.Name == name {
			return e
		}
	}
	f.t.Fatalf("no program error %s", name)
	return nil
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func signer(writable bool) *runtime.AccountInfo {
	return runtime.NewAccountInfo(newKey(), solana.SystemProgramID, funded, nil, true, writable)
}

func empty(key solana.PublicKey, signer bool) *runtime.AccountInfo {
	return runtime.NewAccountInfo(key, solana.SystemProgramID, 0, nil, signer, true)
}

func TestRunInitialize(t *testing.T) {
	f := newFixture(t)
	payer := signer(true)
	admin := signer(false)
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte("counter"), admin.Key().Bytes()}, f.prog.Key())
	require.NoError(t, err)
	counter := empty(addr, false)
	extra := signer(false)

	accounts := []*runtime.AccountInfo{payer, admin, counter, runtime.NewProgramAccount(solana.SystemProgramID), extra}
	data := []byte{7, 0, 0, 0, 0, 0, 0, 0, 0xaa}
	p, err := f.gen.Plan("Initialize")
	require.NoError(t, err)

	res, err := f.m.Run(f.env, p, &accounts, &data)
	require.NoError(t, err)

	assert.Equal(t, []*runtime.AccountInfo{extra}, accounts)
	assert.Equal(t, []byte{0xaa}, data)
	assert.Equal(t, uint64(7), res.Args["start"])
	assert.Equal(t, bump, res.Bumps["counter"])
	assert.Same(t, counter, res.Account("counter"))

	space := uint64(49)
	rent := f.env.Rent.MinimumBalance(space)
	assert.True(t, counter.IsOwnedBy(f.prog.Key()))
	assert.Equal(t, int(space), counter.DataLen())
	assert.Equal(t, rent, counter.Lamports())
	assert.Equal(t, uint64(funded)-rent, payer.Lamports())

	st, _ := f.prog.StateType("Counter")
	assert.True(t, runtime.DiscriminatorMatches(st.DiscriminatorBytes(), counter.Snapshot()))
}

func TestRunInitializeAlreadyInUse(t *testing.T) {
	f := newFixture(t)
	admin := signer(false)
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("counter"), admin.Key().Bytes()}, f.prog.Key())
	require.NoError(t, err)
	counter := runtime.NewAccountInfo(addr, f.prog.Key(), 1, f.stateData("Counter", schema.Record{}), false, true)

	_, err = f.run("Initialize", []*runtime.AccountInfo{signer(true), admin, counter, runtime.NewProgramAccount(solana.SystemProgramID)}, make([]byte, 8))
	require.Error(t, err)
}

func TestRunInitializeWrongSeeds(t *testing.T) {
	f := newFixture(t)
	counter := empty(newKey(), false)
	_, err := f.run("Initialize", []*runtime.AccountInfo{signer(true), signer(false), counter, runtime.NewProgramAccount(solana.SystemProgramID)}, make([]byte, 8))
	assert.ErrorIs(t, err, types.ErrConstraintSeeds)
	assert.Zero(t, counter.Lamports())
}

type incrementInput struct {
	admin    *runtime.AccountInfo
	config   schema.Record
	counter  schema.Record
	writable bool
	referrer *runtime.AccountInfo
}

func (f *fixture) incrementInput() *incrementInput {
	admin := signer(false)
	_, bump, err := solana.FindProgramAddress([][]byte{[]byte("counter"), admin.Key().Bytes()}, f.prog.Key())
	require.NoError(f.t, err)
	return &incrementInput{
		admin:    admin,
		config:   schema.Record{"admin": admin.Key(), "limit": uint64(10)},
		counter:  schema.Record{"admin": admin.Key(), "count": uint64(3), "bump": bump},
		writable: true,
		referrer: runtime.NewAccountInfo(solana.PublicKey{}, solana.SystemProgramID, 0, nil, false, false),
	}
}

func (f *fixture) incrementAccounts(in *incrementInput) []*runtime.AccountInfo {
	seedAdmin := in.counter["admin"].(solana.PublicKey)
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("counter"), seedAdmin.Bytes()}, f.prog.Key())
	require.NoError(f.t, err)
	config := runtime.NewAccountInfo(newKey(), f.prog.Key(), 1, f.stateData("Config", in.config), false, false)
	counter := runtime.NewAccountInfo(addr, f.prog.Key(), 1, f.stateData("Counter", in.counter), false, in.writable)
	return []*runtime.AccountInfo{in.admin, config, counter, in.referrer}
}

func TestRunIncrement(t *testing.T) {
	f := newFixture(t)
	accounts := f.incrementAccounts(f.incrementInput())
	res, err := f.run("Increment", accounts, nil)
	require.NoError(t, err)

	assert.Nil(t, res.Account("referrer"))
	assert.Contains(t, res.Accounts, "referrer")
	assert.Empty(t, res.Bumps)
	assert.Nil(t, res.Args)

	// Every binding was released by its last reader.
	for _, a := range accounts[1:3] {
		ref, err := a.TryBorrowMut()
		require.NoError(t, err)
		ref.Release()
	}
}

func TestRunIncrementWithReferrer(t *testing.T) {
	f := newFixture(t)
	in := f.incrementInput()
	in.referrer = signer(false)
	res, err := f.run("Increment", f.incrementAccounts(in), nil)
	require.NoError(t, err)
	assert.Same(t, in.referrer, res.Account("referrer"))
}

func TestRunIncrementErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(in *incrementInput)
		want   error
	}{
		{
			name:   "admin did not sign",
			mutate: func(in *incrementInput) { in.admin = runtime.NewAccountInfo(in.admin.Key(), solana.SystemProgramID, 0, nil, false, false) },
			want:   types.ErrConstraintSigner,
		},
		{
			name:   "config admin differs",
			mutate: func(in *incrementInput) { in.config["admin"] = newKey() },
			want:   f.programErr("NotAdmin"),
		},
		{
			name:   "limit reached",
			mutate: func(in *incrementInput) { in.counter["count"] = uint64(10) },
			want:   f.programErr("LimitReached"),
		},
		{
			name: "stored bump is not the derivation bump",
			mutate: func(in *incrementInput) {
				in.counter["bump"] = in.counter["bump"].(uint8) - 1
			},
			want: types.ErrConstraintSeeds,
		},
		{
			name:   "counter not writable",
			mutate: func(in *incrementInput) { in.writable = false },
			want:   types.ErrConstraintMut,
		},
		{
			name:   "referrer did not sign",
			mutate: func(in *incrementInput) { in.referrer = runtime.NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, false, false) },
			want:   types.ErrConstraintSigner,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.incrementInput()
			tt.mutate(in)
			_, err := f.run("Increment", f.incrementAccounts(in), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunIncrementNotEnoughAccounts(t *testing.T) {
	f := newFixture(t)
	accounts := f.incrementAccounts(f.incrementInput())[:3]
	_, err := f.run("Increment", accounts, nil)
	assert.ErrorIs(t, err, types.ErrAccountNotEnoughKeys)
}

func TestRunFailureKeepsBindings(t *testing.T) {
	f := newFixture(t)
	in := f.incrementInput()
	in.counter["count"] = uint64(11)
	accounts := f.incrementAccounts(in)

	_, err := f.run("Increment", accounts, nil)
	require.ErrorIs(t, err, f.programErr("LimitReached"))

	for _, a := range accounts[1:3] {
		_, err := a.TryBorrowMut()
		assert.Error(t, err)
	}
}

func TestRunBorshArgsSeeds(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	args := []schema.FieldDef{{Name: "label", Type: "string"}, {Name: "index", Type: "u16"}}
	require.NoError(t, schema.EncodeRecord(args, schema.Record{"label": "main", "index": uint16(2)}, enc))
	data := append(buf.Bytes(), 1, 2, 3)

	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte("slot"), []byte("main"), {2, 0}}, f.prog.Key())
	require.NoError(t, err)
	slot := empty(addr, false)
	accounts := []*runtime.AccountInfo{signer(true), slot, runtime.NewProgramAccount(solana.SystemProgramID)}

	p, err := f.gen.Plan("Open")
	require.NoError(t, err)
	res, err := f.m.Run(f.env, p, &accounts, &data)
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Empty(t, accounts)
	assert.Equal(t, "main", res.Args["label"])
	assert.Equal(t, bump, res.Bumps["slot"])
	assert.Equal(t, 57, slot.DataLen())
}

func TestRunTruncatedArgs(t *testing.T) {
	f := newFixture(t)
	data := []byte{9, 0, 0, 0, 'a'}
	accounts := []*runtime.AccountInfo{signer(true), empty(newKey(), false), runtime.NewProgramAccount(solana.SystemProgramID)}
	p, err := f.gen.Plan("Open")
	require.NoError(t, err)

	_, err = f.m.Run(f.env, p, &accounts, &data)
	assert.ErrorIs(t, err, types.ErrInstructionDidNotDeserialize)
	assert.Len(t, data, 5)
	assert.Len(t, accounts, 3)
}

func (f *fixture) createMint(authority *runtime.AccountInfo) *runtime.AccountInfo {
	f.t.Helper()
	mint := empty(newKey(), true)
	_, err := f.run("CreateMint", []*runtime.AccountInfo{
		signer(true), authority, mint,
		runtime.NewProgramAccount(solana.SystemProgramID),
		runtime.NewProgramAccount(solana.TokenProgramID),
	}, nil)
	require.NoError(f.t, err)
	return mint
}

func TestRunTokenAccounts(t *testing.T) {
	f := newFixture(t)
	owner := signer(false)
	mint := f.createMint(owner)
	assert.True(t, mint.IsOwnedBy(solana.TokenProgramID))

	addr, _, err := runtime.AssociatedTokenAddress(owner.Key(), mint.Key(), solana.TokenProgramID)
	require.NoError(t, err)
	vault := empty(addr, false)
	payer := signer(true)
	accounts := func() []*runtime.AccountInfo {
		return []*runtime.AccountInfo{
			payer, owner, mint, vault,
			runtime.NewProgramAccount(solana.SystemProgramID),
			runtime.NewProgramAccount(solana.TokenProgramID),
		}
	}

	_, err = f.run("Deposit", accounts(), nil)
	require.NoError(t, err)
	assert.True(t, vault.IsOwnedBy(solana.TokenProgramID))
	state, err := runtime.DecodeTokenAccount(vault)
	require.NoError(t, err)
	assert.Equal(t, owner.Key(), state.Owner)
	assert.Equal(t, mint.Key(), state.Mint)

	// The second run finds the account created and only validates it.
	balance := payer.Lamports()
	_, err = f.run("Deposit", accounts(), nil)
	require.NoError(t, err)
	assert.Equal(t, balance, payer.Lamports())
}

func TestRunTokenAccountErrors(t *testing.T) {
	f := newFixture(t)
	owner := signer(false)
	mint := f.createMint(owner)

	t.Run("mint authority differs", func(t *testing.T) {
		other := signer(false)
		addr, _, err := runtime.AssociatedTokenAddress(other.Key(), mint.Key(), solana.TokenProgramID)
		require.NoError(t, err)
		_, err = f.run("Deposit", []*runtime.AccountInfo{
			signer(true), other, mint, empty(addr, false),
			runtime.NewProgramAccount(solana.SystemProgramID),
			runtime.NewProgramAccount(solana.TokenProgramID),
		}, nil)
		assert.ErrorIs(t, err, types.ErrConstraintMintMintAuthority)
	})

	t.Run("vault is not the associated address", func(t *testing.T) {
		_, err := f.run("Deposit", []*runtime.AccountInfo{
			signer(true), owner, mint, empty(newKey(), false),
			runtime.NewProgramAccount(solana.SystemProgramID),
			runtime.NewProgramAccount(solana.TokenProgramID),
		}, nil)
		assert.ErrorIs(t, err, types.ErrConstraintAssociatedTokenAddress)
	})

	t.Run("wrong token program", func(t *testing.T) {
		addr, _, err := runtime.AssociatedTokenAddress(owner.Key(), mint.Key(), solana.TokenProgramID)
		require.NoError(t, err)
		_, err = f.run("Deposit", []*runtime.AccountInfo{
			signer(true), owner, mint, empty(addr, false),
			runtime.NewProgramAccount(solana.SystemProgramID),
			runtime.NewProgramAccount(solana.SystemProgramID),
		}, nil)
		assert.Error(t, err)
	})
}

func TestRunJoinsArrayElements(t *testing.T) {
	f := newFixture(t)
	config := runtime.NewAccountInfo(newKey(), f.prog.Key(), 1, f.stateData("Config", schema.Record{"admin": newKey(), "limit": uint64(1)}), false, false)
	first, second := signer(false), signer(false)

	res, err := f.run("Vote", []*runtime.AccountInfo{config, first, second}, nil)
	require.NoError(t, err)
	assert.Equal(t, []*runtime.AccountInfo{first, second}, res.Arrays["voters"])
	assert.Same(t, second, res.Account("voters_1"))
	assert.NotContains(t, res.Arrays, "config")

	_, err = f.run("Vote", []*runtime.AccountInfo{config, first, runtime.NewAccountInfo(newKey(), solana.SystemProgramID, 0, nil, false, false)}, nil)
	require.ErrorIs(t, err, types.ErrConstraintSigner)
	var pe *types.ProgramError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "voters_1", pe.Account)
}
