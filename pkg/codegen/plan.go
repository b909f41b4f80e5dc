package codegen

import (
	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

// Plan is the lowered form of one context: the ordered operations that
// validate and initialize its accounts. The Go emitter prints it and the
// interpreter executes it.
type Plan struct {
	Context string
	// Slots lists the expanded accounts in declaration order, which is the
	// order they are consumed from the account list.
	Slots []Slot
	Args  *schema.Args
	// Order is the validation order; Unordered the accounts a dependency
	// cycle kept from being placed, appended in name order.
	Order     []string
	Unordered []string
	Fragments []Fragment
	// Bumps names the accounts whose canonical bump is searched and stored.
	Bumps []string
	// Discriminator is the instruction discriminator for the dispatch layer.
	Discriminator [8]byte
	Docs          string
}

// Slot is one consumed account.
type Slot struct {
	Name    string
	Type    schema.AccountType
	Base    string
	Element int
	// Size is the array length shared by the elements of Base.
	Size int
	Docs string
	// Constraints is the declared attribute string, kept for documentation.
	Constraints string
}

// Fragment holds the operations of one account.
type Fragment struct {
	Account string
	// Optional fragments are skipped when the account is the default
	// address, which then resolves to nil.
	Optional bool
	Ops      []Op
	// Release drops the state bindings whose last reader is this fragment.
	// It runs after Ops, whether or not an optional account was skipped.
	Release []ReleaseState
}

// Elements returns the slots expanded from the array field base, in
// element order.
func (p *Plan) Elements(base string) []Slot {
	var out []Slot
	for _, s := range p.Slots {
		if s.Element >= 0 && s.Base == base {
			out = append(out, s)
		}
	}
	return out
}

// Slot returns the slot named name.
func (p *Plan) Slot(name string) (Slot, bool) {
	for _, s := range p.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

// Op is one plan operation acting on a single account.
type Op interface {
	Target() string
}

// Acct names the account an operation acts on.
type Acct struct {
	Name string
}

func (a Acct) Target() string { return a.Name }

// PDAMode selects how a program derived address is verified.
type PDAMode int

const (
	// PDAFind searches the canonical bump and stores it.
	PDAFind PDAMode = iota
	// PDACreate derives the address from a supplied bump without searching.
	PDACreate
	// PDAFindVerify searches the canonical bump and requires the supplied
	// bump to equal it.
	PDAFindVerify
)

func (m PDAMode) String() string {
	switch m {
	case PDACreate:
		return "create"
	case PDAFindVerify:
		return "find-verify"
	default:
		return "find"
	}
}

type (
	CheckSigner struct{ Acct }

	CheckWritable struct{ Acct }

	// CheckAccount requires initialized typed state owned by Owner.
	CheckAccount struct {
		Acct
		State string
		Owner constraint.Expr
	}

	CheckOwner struct {
		Acct
		Owner constraint.Expr
	}

	CheckProgram struct {
		Acct
		ID constraint.Expr
	}

	CheckTokenProgram struct{ Acct }

	CheckSystemAccount struct{ Acct }

	// CheckTokenAccount decodes a token account, binding it as the
	// account's state when Bind is set.
	CheckTokenAccount struct {
		Acct
		Bind bool
	}

	CheckMint struct {
		Acct
		Bind bool
	}

	DerivePDA struct {
		Acct
		Mode    PDAMode
		Seeds   []constraint.Expr
		Bump    constraint.Expr
		Program constraint.Expr
	}

	StoreBump struct {
		Acct
		Field string
	}

	CreateAccount struct {
		Acct
		Payer string
		Space constraint.Expr
		Owner constraint.Expr
		// Signed accounts sign the creation with their derived seeds.
		Signed bool
	}

	WriteDiscriminator struct {
		Acct
		State string
	}

	InitTokenAccount struct {
		Acct
		Payer        string
		Mint         constraint.Expr
		Owner        constraint.Expr
		TokenProgram constraint.Expr
		Signed       bool
	}

	InitMint struct {
		Acct
		Payer           string
		Decimals        constraint.Expr
		Authority       constraint.Expr
		FreezeAuthority constraint.Expr
		TokenProgram    constraint.Expr
		Signed          bool
	}

	InitAssociatedToken struct {
		Acct
		Payer        string
		Mint         constraint.Expr
		Authority    constraint.Expr
		TokenProgram constraint.Expr
	}

	// InitIfNeeded runs Init only while the account is still owned by the
	// default address.
	InitIfNeeded struct {
		Acct
		Init []Op
	}

	// BindState borrows and decodes typed state until its ReleaseState.
	BindState struct {
		Acct
		State string
	}

	ReleaseState struct{ Acct }

	// HasOne requires the Field key of the account's state to equal the
	// key of the Join account.
	HasOne struct {
		Acct
		Join  string
		Field string
		Error string
	}

	TokenConstraint struct {
		Acct
		Mint       constraint.Expr
		Owner      constraint.Expr
		MintError  string
		OwnerError string
	}

	MintConstraint struct {
		Acct
		Decimals        constraint.Expr
		Authority       constraint.Expr
		FreezeAuthority constraint.Expr
	}

	AssociatedTokenCheck struct {
		Acct
		Mint      constraint.Expr
		Authority constraint.Expr
	}

	Assert struct {
		Acct
		Cond  constraint.Expr
		Error string
	}

	Address struct {
		Acct
		Want  constraint.Expr
		Error string
	}
)
