// Package codegen lowers the contexts of a program schema into plans and
// prints them as Go source.
package codegen

import (
	"strconv"

	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/linker"
	"github.com/ninja0404/ctxgen/pkg/schema"
	"github.com/ninja0404/ctxgen/pkg/types"
)

func (l *lowering) readsOwnStateEarly(a *account) bool {
	self := a.decl.Name + linker.StateSuffix
	for _, k := range []constraint.Kind{constraint.Seeds, constraint.Seeded, constraint.Bump} {
		c, ok := a.set.Get(k)
		if !ok {
			continue
		}
		if k == constraint.Seeded && !c.List {
			return true
		}
		for _, e := range append([]constraint.Expr{c.Expr}, c.Exprs...) {
			if !e.IsZero() && mentions(e, self) {
				return true
			}
		}
	}
	return false
}

func (l *lowering) lower(a *account) (Fragment, error) {
	d := a.decl
	t := d.Type
	set := a.set
	name := d.Name
	acct := Acct{Name: name}
	initializing := set.Initializes()
	derived := set.Derived()
	selfState := l.needState[name]

	frag := Fragment{Account: name, Optional: t.Optional}
	if initializing {
		if err := l.checkInit(a); err != nil {
			return frag, err
		}
	}

	if t.Signer {
		frag.Ops = append(frag.Ops, &CheckSigner{acct})
	}
	if t.Mut {
		frag.Ops = append(frag.Ops, &CheckWritable{acct})
	}

	early := selfState && derived && !initializing
	if early {
		frag.Ops = append(frag.Ops, l.typeCheck(a)...)
		frag.Ops = append(frag.Ops, l.bind(a)...)
	}
	if derived {
		op, err := l.derive(a)
		if err != nil {
			return frag, err
		}
		frag.Ops = append(frag.Ops, op)
		if op.Mode == PDAFind {
			frag.Ops = append(frag.Ops, &StoreBump{Acct: acct, Field: schema.ToExport(name)})
		}
	}
	if initializing {
		ops, err := l.initOps(a)
		if err != nil {
			return frag, err
		}
		if set.Has(constraint.InitIfNeeded) {
			frag.Ops = append(frag.Ops, &InitIfNeeded{Acct: acct, Init: ops})
		} else {
			frag.Ops = append(frag.Ops, ops...)
		}
	}
	if !early {
		frag.Ops = append(frag.Ops, l.typeCheck(a)...)
		if selfState {
			frag.Ops = append(frag.Ops, l.bind(a)...)
		}
	}

	guards, err := l.guards(a)
	if err != nil {
		return frag, err
	}
	frag.Ops = append(frag.Ops, guards...)
	return frag, nil
}

func (l *lowering) checkInit(a *account) error {
	d := a.decl
	set := a.set
	if !d.Type.Mut {
		return l.errorf(d, "%s is initialized and must be declared Mut<...>", d.Name)
	}
	if !d.Type.Signer && !set.Derived() && !set.Has(constraint.AssociatedToken) {
		return l.errorf(d, "%s is initialized and must be a Signer, a program derived address or an associated token account", d.Name)
	}
	c, ok := set.Get(constraint.Payer)
	if !ok {
		return l.errorf(d, "%s is initialized and needs a payer", d.Name)
	}
	payer, _ := c.Expr.Ident()
	pa, ok := l.accounts[payer]
	switch {
	case !ok:
		return l.errorf(d, "payer %s is not declared", payer)
	case payer == d.Name:
		return l.errorf(d, "%s cannot pay for itself", d.Name)
	case !pa.decl.Type.Mut:
		return l.errorf(d, "payer %s must be declared Mut<...>", payer)
	}
	return nil
}

func (l *lowering) programExpr(a *account) constraint.Expr {
	if c, ok := a.set.Get(constraint.Program); ok {
		return l.keyExpr(c.Expr)
	}
	return mustExpr("env.ProgramID")
}

func (l *lowering) typeCheck(a *account) []Op {
	acct := Acct{Name: a.decl.Name}
	t := a.decl.Type
	set := a.set
	switch t.Kind {
	case schema.KindAccount:
		return []Op{&CheckAccount{Acct: acct, State: t.State, Owner: l.programExpr(a)}}
	case schema.KindTokenAccount:
		bind := l.needState[a.decl.Name] || set.Has(constraint.Token) || set.Has(constraint.AssociatedToken)
		return []Op{&CheckTokenAccount{Acct: acct, Bind: bind}}
	case schema.KindMint:
		bind := l.needState[a.decl.Name] || set.Has(constraint.Mint)
		return []Op{&CheckMint{Acct: acct, Bind: bind}}
	case schema.KindProgram:
		if _, ok := schema.ProgramKey(t.Program); ok {
			return []Op{&CheckProgram{Acct: acct, ID: mustExpr(programGlobal(t.Program))}}
		}
		return []Op{&CheckProgram{Acct: acct, ID: mustExpr("env.ProgramID")}}
	case schema.KindInterface:
		return []Op{&CheckTokenProgram{acct}}
	case schema.KindSystemAccount:
		return []Op{&CheckSystemAccount{acct}}
	}
	if set.Has(constraint.Program) && !set.Derived() && !set.Initializes() {
		return []Op{&CheckOwner{Acct: acct, Owner: l.programExpr(a)}}
	}
	return nil
}

func (l *lowering) bind(a *account) []Op {
	if a.decl.Type.Kind != schema.KindAccount {
		return nil
	}
	return []Op{&BindState{Acct: Acct{Name: a.decl.Name}, State: a.decl.Type.State}}
}

func (l *lowering) derive(a *account) (*DerivePDA, error) {
	d := a.decl
	set := a.set
	op := &DerivePDA{Acct: Acct{Name: d.Name}, Program: l.programExpr(a)}

	if c, ok := set.Get(constraint.Seeds); ok {
		op.Seeds = c.Exprs
	} else {
		c, _ := set.Get(constraint.Seeded)
		if a.state == nil {
			return nil, l.errorf(d, "seeded requires Account<...> to name its base seed")
		}
		op.Seeds = append(op.Seeds, mustExpr(strconv.Quote(a.state.BaseSeed())))
		if c.List {
			op.Seeds = append(op.Seeds, c.Exprs...)
		} else {
			if len(a.state.Seeds) == 0 {
				return nil, l.errorf(d, "seeded without keys requires %s to declare seeds", a.state.Name)
			}
			for _, k := range a.state.Seeds {
				op.Seeds = append(op.Seeds, mustExpr(d.Name+linker.StateSuffix+"."+schema.ToExport(k)))
			}
		}
	}

	c, ok := set.Get(constraint.Bump)
	switch {
	case !ok || c.Expr.IsZero():
		op.Mode = PDAFind
	case set.Initializes():
		op.Mode = PDAFindVerify
		op.Bump = c.Expr
	default:
		op.Mode = PDACreate
		op.Bump = c.Expr
	}
	return op, nil
}

func (l *lowering) tokenProgramExpr() constraint.Expr {
	if _, ok := l.accounts[linker.TokenProgramName]; ok {
		return mustExpr(linker.TokenProgramName + ".Key()")
	}
	return mustExpr("TokenProgramID")
}

func (l *lowering) initOps(a *account) ([]Op, error) {
	d := a.decl
	t := d.Type
	set := a.set
	acct := Acct{Name: d.Name}
	pc, _ := set.Get(constraint.Payer)
	payer, _ := pc.Expr.Ident()
	signed := set.Derived()

	if c, ok := set.Get(constraint.Token); ok {
		if t.Kind != schema.KindTokenAccount {
			return nil, l.errorf(d, "token initialization requires TokenAccount")
		}
		if c.Token.Owner.IsZero() {
			return nil, l.errorf(d, "token initialization requires token::owner")
		}
		return []Op{&InitTokenAccount{
			Acct:         acct,
			Payer:        payer,
			Mint:         l.keyExpr(c.Token.Mint),
			Owner:        l.keyExpr(c.Token.Owner),
			TokenProgram: l.tokenProgramExpr(),
			Signed:       signed,
		}}, nil
	}
	if c, ok := set.Get(constraint.Mint); ok {
		if t.Kind != schema.KindMint {
			return nil, l.errorf(d, "mint initialization requires Mint")
		}
		return []Op{&InitMint{
			Acct:            acct,
			Payer:           payer,
			Decimals:        c.Mint.Decimals,
			Authority:       l.keyExpr(c.Mint.Authority),
			FreezeAuthority: l.keyExpr(c.Mint.FreezeAuthority),
			TokenProgram:    l.tokenProgramExpr(),
			Signed:          signed,
		}}, nil
	}
	if c, ok := set.Get(constraint.AssociatedToken); ok {
		if t.Kind != schema.KindTokenAccount {
			return nil, l.errorf(d, "associated token initialization requires TokenAccount")
		}
		for _, need := range []string{linker.SystemProgramName, linker.TokenProgramName} {
			if _, ok := l.accounts[need]; !ok {
				return nil, l.errorf(d, "associated token initialization requires a declared %s", need)
			}
		}
		return []Op{&InitAssociatedToken{
			Acct:         acct,
			Payer:        payer,
			Mint:         l.keyExpr(c.Assoc.Mint),
			Authority:    l.keyExpr(c.Assoc.Authority),
			TokenProgram: l.tokenProgramExpr(),
		}}, nil
	}

	if t.Kind == schema.KindTokenAccount || t.Kind == schema.KindMint {
		return nil, l.errorf(d, "%s initialization needs token:: or mint:: constraints", t.Kind)
	}
	var space constraint.Expr
	if c, ok := set.Get(constraint.Space); ok {
		space = c.Expr
	} else if a.state != nil {
		size, fixed := a.state.Size()
		if !fixed {
			return nil, l.errorf(d, "%s has variable-size fields, space must be given", a.state.Name)
		}
		space = mustExpr(strconv.Itoa(size))
	} else {
		return nil, l.errorf(d, "space must be given to initialize %s", d.Name)
	}

	ops := []Op{&CreateAccount{
		Acct:   acct,
		Payer:  payer,
		Space:  space,
		Owner:  l.programExpr(a),
		Signed: signed,
	}}
	if a.state != nil {
		ops = append(ops, &WriteDiscriminator{Acct: acct, State: a.state.Name})
	}
	return ops, nil
}

func (l *lowering) guards(a *account) ([]Op, error) {
	d := a.decl
	t := d.Type
	acct := Acct{Name: d.Name}
	var ops []Op
	for _, c := range a.set {
		switch c.Kind {
		case constraint.HasOne:
			target, _ := c.Expr.Ident()
			if _, ok := l.accounts[target]; !ok {
				return nil, l.errorf(d, "has_one target %s is not declared", target)
			}
			field, err := l.stateField(a, target)
			if err != nil {
				return nil, err
			}
			if a.state != nil {
				if f, ok := a.state.Field(target); ok && f.Type != schema.TypePubkey {
					return nil, l.errorf(d, "has_one field %s.%s must be a pubkey", a.state.Name, f.Name)
				}
			}
			e, err := l.customError(d, c.Error)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &HasOne{Acct: acct, Join: target, Field: field, Error: e})

		case constraint.Token:
			if t.Kind != schema.KindTokenAccount {
				return nil, l.errorf(d, "token constraints require TokenAccount")
			}
			me, err := l.customError(d, c.Token.MintError)
			if err != nil {
				return nil, err
			}
			oe, err := l.customError(d, c.Token.OwnerError)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &TokenConstraint{
				Acct:       acct,
				Mint:       l.keyExpr(c.Token.Mint),
				Owner:      l.keyExpr(c.Token.Owner),
				MintError:  me,
				OwnerError: oe,
			})

		case constraint.Mint:
			if t.Kind != schema.KindMint {
				return nil, l.errorf(d, "mint constraints require Mint")
			}
			ops = append(ops, &MintConstraint{
				Acct:            acct,
				Decimals:        c.Mint.Decimals,
				Authority:       l.keyExpr(c.Mint.Authority),
				FreezeAuthority: l.keyExpr(c.Mint.FreezeAuthority),
			})

		case constraint.AssociatedToken:
			if t.Kind != schema.KindTokenAccount {
				return nil, l.errorf(d, "associated token constraints require TokenAccount")
			}
			ops = append(ops, &AssociatedTokenCheck{
				Acct:      acct,
				Mint:      l.keyExpr(c.Assoc.Mint),
				Authority: l.keyExpr(c.Assoc.Authority),
			})

		case constraint.Assert:
			e, err := l.customError(d, c.Error)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &Assert{Acct: acct, Cond: c.Expr, Error: e})

		case constraint.Address:
			e, err := l.customError(d, c.Error)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &Address{Acct: acct, Want: l.keyExpr(c.Expr), Error: e})
		}
	}
	return ops, nil
}

func (l *lowering) customError(d schema.Declaration, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if _, ok := l.g.prog.ErrorDef(name); ok {
		return name, nil
	}
	if _, ok := types.ErrorFromName(name); ok {
		return name, nil
	}
	return "", l.errorf(d, "unknown error %s", name)
}

func (l *lowering) errorf(d schema.Declaration, format string, args ...interface{}) error {
	return l.g.prog.Errorf(schema.FieldPath(l.ci, d.Field), l.ctx.Name, d.Name, format, args...)
}

func (l *lowering) wrap(d schema.Declaration, suffix string, err error) error {
	return &types.GenerationError{
		Pos:     l.g.prog.Position(schema.FieldPath(l.ci, d.Field) + suffix),
		Context: l.ctx.Name,
		Field:   d.Name,
		Message: "invalid constraint",
		Err:     err,
	}
}

func programGlobal(name string) string {
	return name + "ProgramID"
}
