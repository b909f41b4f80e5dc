// Package interp executes lowered context plans directly, without
// generating code. It runs the same runtime checks the generated Try
// routines call, in the same order, so a schema can be exercised before it
// is compiled into a program.
package interp

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"

	"github.com/ninja0404/ctxgen/pkg/codegen"
	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/schema"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// Machine runs the plans of one program.
type Machine struct {
	prog   *schema.Program
	consts map[string]interface{}
	errs   map[string]*types.ProgramError
	log    zerolog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger logs every executed operation at debug level.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// New returns a Machine for prog.
func New(prog *schema.Program, opts ...Option) *Machine {
	m := &Machine{
		prog:   prog,
		consts: prog.ConstantValues(),
		errs:   map[string]*types.ProgramError{},
		log:    zerolog.Nop(),
	}
	for _, e := range prog.ProgramErrors() {
		m.errs[e.Name] = e
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result is a validated context.
type Result struct {
	Context string
	// Accounts maps slot names to accounts. Skipped optional accounts map to
	// nil.
	Accounts map[string]*runtime.AccountInfo
	// Arrays joins the elements of each array field back in element order.
	Arrays map[string][]*runtime.AccountInfo
	Args   schema.Record
	// Bumps holds the canonical bumps found, by account name.
	Bumps map[string]uint8
}

// Account returns the account in slot name.
func (r *Result) Account(name string) *runtime.AccountInfo {
	return r.Accounts[name]
}

type stateRef = runtime.StateRef[schema.Record]

type pda struct {
	seeds [][]byte
	bump  uint8
}

type frame struct {
	m     *Machine
	env   *runtime.Env
	plan  *codegen.Plan
	accs  []*runtime.AccountInfo
	vars  scope
	refs  map[string]*stateRef
	pdas  map[string]pda
	bumps map[string]uint8
}

// Run consumes the plan's accounts and argument bytes, advancing both
// slices, and validates them. Live state bindings are not released when a
// step fails.
func (m *Machine) Run(env *runtime.Env, p *codegen.Plan, accounts *[]*runtime.AccountInfo, data *[]byte) (*Result, error) {
	f := &frame{
		m:     m,
		env:   env,
		plan:  p,
		vars:  scope{},
		refs:  map[string]*stateRef{},
		pdas:  map[string]pda{},
		bumps: map[string]uint8{},
	}
	res := &Result{
		Context:  p.Context,
		Accounts: map[string]*runtime.AccountInfo{},
		Arrays:   map[string][]*runtime.AccountInfo{},
		Bumps:    f.bumps,
	}

	if p.Args != nil {
		var dec *bin.Decoder
		if p.Args.Encoding == schema.EncodingFixed {
			dec = bin.NewBinDecoder(*data)
		} else {
			dec = bin.NewBorshDecoder(*data)
		}
		rec, err := schema.DecodeRecord(p.Args.Fields, dec)
		if err != nil {
			return nil, types.ErrInstructionDidNotDeserialize
		}
		*data = (*data)[dec.Position():]
		res.Args = rec
		f.vars["args"] = record{fields: p.Args.Fields, values: rec}
	}

	accs, err := runtime.TakeAccounts(accounts, len(p.Slots))
	if err != nil {
		return nil, err
	}
	f.accs = accs

	for name, v := range m.consts {
		f.vars[name] = v
	}
	f.vars["env"] = env
	f.vars["ProgramID"] = m.prog.Key()
	f.vars["SystemProgramID"] = solana.SystemProgramID
	f.vars["TokenProgramID"] = solana.TokenProgramID
	f.vars["Token2022ProgramID"] = solana.Token2022ProgramID
	f.vars["AssociatedTokenProgramID"] = solana.SPLAssociatedTokenAccountProgramID
	for i, s := range p.Slots {
		f.vars[s.Name] = accs[i]
	}

	for _, frag := range p.Fragments {
		if err := f.fragment(frag); err != nil {
			return nil, err
		}
	}

	for _, s := range p.Slots {
		a := f.account(s.Name)
		res.Accounts[s.Name] = a
		if s.Element >= 0 {
			if res.Arrays[s.Base] == nil {
				res.Arrays[s.Base] = make([]*runtime.AccountInfo, s.Size)
			}
			res.Arrays[s.Base][s.Element] = a
		}
	}
	return res, nil
}

func (f *frame) account(name string) *runtime.AccountInfo {
	a, _ := f.vars[name].(*runtime.AccountInfo)
	return a
}

func (f *frame) fragment(frag codegen.Fragment) error {
	skip := frag.Optional && runtime.IsDefaultAddress(f.account(frag.Account))
	if skip {
		f.vars[frag.Account] = (*runtime.AccountInfo)(nil)
		f.m.log.Debug().Str("context", f.plan.Context).Str("account", frag.Account).Msg("optional account skipped")
	} else {
		for _, op := range frag.Ops {
			if err := f.op(op); err != nil {
				return err
			}
		}
	}
	for _, r := range frag.Release {
		f.refs[r.Name].Release()
	}
	return nil
}

func (f *frame) evalErr(n string, e constraint.Expr, err error) error {
	return fmt.Errorf("%s: %s: %w", n, e.Src, err)
}

func (f *frame) eval(n string, e constraint.Expr) (interface{}, error) {
	v, err := f.vars.eval(e.Node)
	if err != nil {
		return nil, f.evalErr(n, e, err)
	}
	return v, nil
}

func (f *frame) key(n string, e constraint.Expr) (solana.PublicKey, error) {
	v, err := f.eval(n, e)
	if err != nil {
		return solana.PublicKey{}, err
	}
	switch k := v.(type) {
	case solana.PublicKey:
		return k, nil
	case *solana.PublicKey:
		return runtime.OptionalKey(k), nil
	}
	return solana.PublicKey{}, f.evalErr(n, e, evalErr("%T is not a public key", v))
}

func (f *frame) integer(n, to string, e constraint.Expr) (interface{}, error) {
	v, err := f.eval(n, e)
	if err != nil {
		return nil, err
	}
	out, err := convert(to, v)
	if err != nil {
		return nil, f.evalErr(n, e, err)
	}
	return out, nil
}

func (f *frame) seeds(n string, exprs []constraint.Expr) ([][]byte, error) {
	out := make([][]byte, 0, len(exprs))
	for _, e := range exprs {
		v, err := f.eval(n, e)
		if err != nil {
			return nil, err
		}
		b, err := seedBytes(concrete(v))
		if err != nil {
			return nil, f.evalErr(n, e, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func seedBytes(v interface{}) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = evalErr("%v", r)
		}
	}()
	return runtime.SeedBytes(v), nil
}

func (f *frame) signerSeeds(n string, signed bool) [][]byte {
	if !signed {
		return nil
	}
	d := f.pdas[n]
	return runtime.WithBump(d.seeds, d.bump)
}

// errorRef resolves the error raised by a violated constraint.
func (f *frame) errorRef(name string, fallback *types.ProgramError) *types.ProgramError {
	if name == "" {
		return fallback
	}
	if e, ok := f.m.errs[name]; ok {
		return e
	}
	if e, ok := types.ErrorFromName(name); ok {
		return e
	}
	return fallback
}

func (f *frame) stateKey(n, field string) (solana.PublicKey, error) {
	v, err := selectField(f.vars[n+"State"], field)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", n, err)
	}
	switch k := v.(type) {
	case solana.PublicKey:
		return k, nil
	case *solana.PublicKey:
		return runtime.OptionalKey(k), nil
	}
	return solana.PublicKey{}, fmt.Errorf("%s: %w", n, evalErr("field %s is %T", field, v))
}

func (f *frame) loader(st *schema.StateType) func([]byte) (*schema.Record, error) {
	disc := st.DiscriminatorBytes()
	return func(data []byte) (*schema.Record, error) {
		if !runtime.DiscriminatorMatches(disc, data) {
			return nil, types.ErrAccountDiscriminatorMismatch
		}
		rec, err := schema.DecodeRecord(st.Fields, bin.NewBorshDecoder(data[len(disc):]))
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

func (f *frame) op(op codegen.Op) error {
	n := op.Target()
	a := f.account(n)
	f.m.log.Debug().Str("context", f.plan.Context).Str("account", n).Str("op", fmt.Sprintf("%T", op)).Msg("step")

	switch op := op.(type) {
	case *codegen.CheckSigner:
		return runtime.CheckSigner(a, n)
	case *codegen.CheckWritable:
		return runtime.CheckWritable(a, n)
	case *codegen.CheckAccount:
		owner, err := f.key(n, op.Owner)
		if err != nil {
			return err
		}
		st, ok := f.m.prog.StateType(op.State)
		if !ok {
			return fmt.Errorf("%s: unknown state type %s", n, op.State)
		}
		return runtime.CheckAccount(a, owner, st.DiscriminatorBytes(), n)
	case *codegen.CheckOwner:
		owner, err := f.key(n, op.Owner)
		if err != nil {
			return err
		}
		return runtime.CheckOwner(a, owner, n)
	case *codegen.CheckProgram:
		id, err := f.key(n, op.ID)
		if err != nil {
			return err
		}
		return runtime.CheckProgram(a, id, n)
	case *codegen.CheckTokenProgram:
		return runtime.CheckTokenProgram(a, n)
	case *codegen.CheckSystemAccount:
		return runtime.CheckSystemAccount(a, n)
	case *codegen.CheckTokenAccount:
		st, err := runtime.LoadTokenAccount(a, n)
		if err != nil {
			return err
		}
		if op.Bind {
			f.vars[n+"State"] = st
		}
	case *codegen.CheckMint:
		st, err := runtime.LoadMint(a, n)
		if err != nil {
			return err
		}
		if op.Bind {
			f.vars[n+"State"] = st
		}

	case *codegen.DerivePDA:
		return f.derive(a, op)
	case *codegen.StoreBump:
		f.bumps[n] = f.pdas[n].bump

	case *codegen.CreateAccount:
		space, err := f.integer(n, "uint64", op.Space)
		if err != nil {
			return err
		}
		owner, err := f.key(n, op.Owner)
		if err != nil {
			return err
		}
		return runtime.CreateAccount(f.env, f.account(op.Payer), a, space.(uint64), owner, f.signerSeeds(n, op.Signed))
	case *codegen.WriteDiscriminator:
		st, ok := f.m.prog.StateType(op.State)
		if !ok {
			return fmt.Errorf("%s: unknown state type %s", n, op.State)
		}
		return runtime.WriteDiscriminator(a, st.DiscriminatorBytes(), n)
	case *codegen.InitTokenAccount:
		keys, err := f.keys(n, op.Mint, op.Owner, op.TokenProgram)
		if err != nil {
			return err
		}
		return runtime.InitTokenAccount(f.env, f.accs, f.account(op.Payer), a, keys[0], keys[1], keys[2], f.signerSeeds(n, op.Signed))
	case *codegen.InitMint:
		decimals, err := f.integer(n, "uint8", op.Decimals)
		if err != nil {
			return err
		}
		keys, err := f.keys(n, op.Authority, op.TokenProgram)
		if err != nil {
			return err
		}
		var freeze *solana.PublicKey
		if !op.FreezeAuthority.IsZero() {
			k, err := f.key(n, op.FreezeAuthority)
			if err != nil {
				return err
			}
			freeze = k.ToPointer()
		}
		return runtime.InitMint(f.env, f.account(op.Payer), a, decimals.(uint8), keys[0], freeze, keys[1], f.signerSeeds(n, op.Signed))
	case *codegen.InitAssociatedToken:
		keys, err := f.keys(n, op.Authority, op.Mint, op.TokenProgram)
		if err != nil {
			return err
		}
		return runtime.InitAssociatedToken(f.env, f.accs, f.account(op.Payer), a, keys[0], keys[1], keys[2], n)
	case *codegen.InitIfNeeded:
		if !runtime.NeedsInit(a) {
			return nil
		}
		for _, inner := range op.Init {
			if err := f.op(inner); err != nil {
				return err
			}
		}

	case *codegen.BindState:
		st, ok := f.m.prog.StateType(op.State)
		if !ok {
			return fmt.Errorf("%s: unknown state type %s", n, op.State)
		}
		ref, err := runtime.BindState(a, n, f.loader(st))
		if err != nil {
			return err
		}
		f.refs[n] = ref
		f.vars[n+"State"] = record{fields: st.Fields, values: *ref.Value}
	case *codegen.ReleaseState:
		f.refs[n].Release()

	case *codegen.HasOne:
		got, err := f.stateKey(n, op.Field)
		if err != nil {
			return err
		}
		return runtime.RequireKeysEqual(got, f.account(op.Join).Key(), f.errorRef(op.Error, types.ErrConstraintHasOne), n)
	case *codegen.TokenConstraint:
		st, ok := f.vars[n+"State"].(*token.Account)
		if !ok {
			return fmt.Errorf("%s: token state is not bound", n)
		}
		mint, err := f.key(n, op.Mint)
		if err != nil {
			return err
		}
		if err := runtime.RequireKeysEqual(st.Mint, mint, f.errorRef(op.MintError, types.ErrConstraintTokenMint), n); err != nil {
			return err
		}
		if op.Owner.IsZero() {
			return nil
		}
		owner, err := f.key(n, op.Owner)
		if err != nil {
			return err
		}
		return runtime.RequireKeysEqual(st.Owner, owner, f.errorRef(op.OwnerError, types.ErrConstraintTokenOwner), n)
	case *codegen.MintConstraint:
		return f.mintConstraint(n, op)
	case *codegen.AssociatedTokenCheck:
		st, ok := f.vars[n+"State"].(*token.Account)
		if !ok {
			return fmt.Errorf("%s: token state is not bound", n)
		}
		keys, err := f.keys(n, op.Authority, op.Mint)
		if err != nil {
			return err
		}
		return runtime.CheckAssociatedToken(a, st, keys[0], keys[1], n)
	case *codegen.Assert:
		v, err := f.eval(n, op.Cond)
		if err != nil {
			return err
		}
		cond, ok := v.(bool)
		if !ok {
			return f.evalErr(n, op.Cond, evalErr("condition is %T", v))
		}
		return runtime.Require(cond, f.errorRef(op.Error, types.ErrConstraintRaw), n)
	case *codegen.Address:
		want, err := f.key(n, op.Want)
		if err != nil {
			return err
		}
		return runtime.RequireKeysEqual(a.Key(), want, f.errorRef(op.Error, types.ErrConstraintAddress), n)
	default:
		return fmt.Errorf("interp: unsupported operation %T", op)
	}
	return nil
}

func (f *frame) keys(n string, exprs ...constraint.Expr) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(exprs))
	for i, e := range exprs {
		k, err := f.key(n, e)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

func (f *frame) derive(a *runtime.AccountInfo, op *codegen.DerivePDA) error {
	n := op.Target()
	seeds, err := f.seeds(n, op.Seeds)
	if err != nil {
		return err
	}
	program, err := f.key(n, op.Program)
	if err != nil {
		return err
	}
	switch op.Mode {
	case codegen.PDAFind:
		bump, err := runtime.FindPDA(a, seeds, program, n)
		if err != nil {
			return err
		}
		f.pdas[n] = pda{seeds: seeds, bump: bump}
		return nil
	}
	b, err := f.integer(n, "uint8", op.Bump)
	if err != nil {
		return err
	}
	bump := b.(uint8)
	if op.Mode == codegen.PDACreate {
		err = runtime.CreatePDA(a, seeds, bump, program, n)
	} else {
		err = runtime.FindPDAWithBump(a, seeds, bump, program, n)
	}
	if err != nil {
		return err
	}
	f.pdas[n] = pda{seeds: seeds, bump: bump}
	return nil
}

func (f *frame) mintConstraint(n string, op *codegen.MintConstraint) error {
	st, ok := f.vars[n+"State"].(*token.Mint)
	if !ok {
		return fmt.Errorf("%s: mint state is not bound", n)
	}
	if !op.Decimals.IsZero() {
		d, err := f.integer(n, "uint8", op.Decimals)
		if err != nil {
			return err
		}
		if err := runtime.Require(st.Decimals == d.(uint8), types.ErrConstraintMintDecimals, n); err != nil {
			return err
		}
	}
	if !op.Authority.IsZero() {
		want, err := f.key(n, op.Authority)
		if err != nil {
			return err
		}
		if err := runtime.RequireKeysEqual(runtime.OptionalKey(st.MintAuthority), want, types.ErrConstraintMintMintAuthority, n); err != nil {
			return err
		}
	}
	if !op.FreezeAuthority.IsZero() {
		want, err := f.key(n, op.FreezeAuthority)
		if err != nil {
			return err
		}
		if err := runtime.RequireKeysEqual(runtime.OptionalKey(st.FreezeAuthority), want, types.ErrConstraintMintFreezeAuthority, n); err != nil {
			return err
		}
	}
	return nil
}
