// Package constraint models the per-account constraint attributes of a
// context declaration and parses their attribute syntax.
package constraint

import (
	"bytes"
	"errors"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"sort"
)

// Kind tags a constraint variant.
type Kind int

const (
	Init Kind = iota
	InitIfNeeded
	Space
	Seeded
	Seeds
	Bump
	Program
	HasOne
	Token
	Mint
	AssociatedToken
	Payer
	Assert
	Address
)

var kindNames = map[Kind]string{
	Init:            "init",
	InitIfNeeded:    "init_if_needed",
	Space:           "space",
	Seeded:          "seeded",
	Seeds:           "seeds",
	Bump:            "bump",
	Program:         "program",
	HasOne:          "has_one",
	Token:           "token",
	Mint:            "mint",
	AssociatedToken: "associated_token",
	Payer:           "payer",
	Assert:          "assert",
	Address:         "address",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Precedence orders constraints within one account. Init and InitIfNeeded
// share the first slot.
func (k Kind) Precedence() int {
	if k <= InitIfNeeded {
		return 0
	}
	return int(k) - 1
}

// Parse errors
var (
	ErrUnknownConstraint   = errors.New("unknown constraint")
	ErrDuplicateConstraint = errors.New("duplicate constraint")
	ErrMissingSubField     = errors.New("missing required constraint field")
	ErrMalformed           = errors.New("malformed constraint")
	ErrConflict            = errors.New("conflicting constraints")
)

// Expr is a Go expression embedded in a constraint.
type Expr struct {
	Src  string
	Node ast.Expr
}

// ParseExpr parses src as a Go expression.
func ParseExpr(src string) (Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return Expr{}, err
	}
	return Expr{Src: src, Node: node}, nil
}

// Reparse prints node and parses it back, so that Src and Node agree after a
// rewrite.
func Reparse(node ast.Expr) (Expr, error) {
	var buf bytes.Buffer
	if err := format.Node(&buf, token.NewFileSet(), node); err != nil {
		return Expr{}, err
	}
	return ParseExpr(buf.String())
}

// IsZero reports whether the expression is absent.
func (e Expr) IsZero() bool {
	return e.Node == nil
}

// Ident returns the identifier name when the expression is a bare
// identifier.
func (e Expr) Ident() (string, bool) {
	id, ok := e.Node.(*ast.Ident)
	if !ok {
		return "", false
	}
	return id.Name, true
}

// TokenSpec merges token::mint and token::owner.
type TokenSpec struct {
	Mint       Expr
	Owner      Expr
	MintError  string
	OwnerError string
}

// MintSpec merges mint::decimals, mint::authority and mint::freeze_authority.
type MintSpec struct {
	Decimals        Expr
	Authority       Expr
	FreezeAuthority Expr
}

// AssociatedTokenSpec merges associated_token::mint and
// associated_token::authority.
type AssociatedTokenSpec struct {
	Mint      Expr
	Authority Expr
}

// Constraint is one parsed constraint. Which fields are set depends on Kind:
// Expr for Payer, Space, Bump, Program, HasOne, Assert and Address; Exprs for
// Seeds and Seeded; Token, Mint or Assoc for the token kinds.
type Constraint struct {
	Kind  Kind
	Expr  Expr
	Exprs []Expr
	// List is set when Seeded carries an explicit key list.
	List bool
	// Error names a program error replacing the default violation error.
	Error string
	Token *TokenSpec
	Mint  *MintSpec
	Assoc *AssociatedTokenSpec
}

// Set is the ordered constraint collection of one account.
type Set []Constraint

// Get returns the first constraint of kind k.
func (s Set) Get(k Kind) (*Constraint, bool) {
	for i := range s {
		if s[i].Kind == k {
			return &s[i], true
		}
	}
	return nil, false
}

// Has reports whether a constraint of kind k is present.
func (s Set) Has(k Kind) bool {
	_, ok := s.Get(k)
	return ok
}

// All returns every constraint of kind k in order.
func (s Set) All(k Kind) []Constraint {
	var out []Constraint
	for _, c := range s {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// Initializes reports whether the account is created by the instruction.
func (s Set) Initializes() bool {
	return s.Has(Init) || s.Has(InitIfNeeded)
}

// Derived reports whether the account is a program derived address.
func (s Set) Derived() bool {
	return s.Has(Seeds) || s.Has(Seeded)
}

// Exprs lists every embedded expression, in constraint order.
func (s Set) Exprs() []Expr {
	var out []Expr
	for _, c := range s {
		out = append(out, c.exprs()...)
	}
	return out
}

func (c Constraint) exprs() []Expr {
	var out []Expr
	add := func(e Expr) {
		if !e.IsZero() {
			out = append(out, e)
		}
	}
	add(c.Expr)
	for _, e := range c.Exprs {
		add(e)
	}
	if c.Token != nil {
		add(c.Token.Mint)
		add(c.Token.Owner)
	}
	if c.Mint != nil {
		add(c.Mint.Decimals)
		add(c.Mint.Authority)
		add(c.Mint.FreezeAuthority)
	}
	if c.Assoc != nil {
		add(c.Assoc.Mint)
		add(c.Assoc.Authority)
	}
	return out
}

// Map returns a copy of s with every embedded expression replaced by f(e).
func (s Set) Map(f func(Expr) (Expr, error)) (Set, error) {
	out := make(Set, len(s))
	apply := func(e Expr) (Expr, error) {
		if e.IsZero() {
			return e, nil
		}
		return f(e)
	}
	for i, c := range s {
		var err error
		if c.Expr, err = apply(c.Expr); err != nil {
			return nil, err
		}
		if c.Exprs != nil {
			exprs := make([]Expr, len(c.Exprs))
			for j, e := range c.Exprs {
				if exprs[j], err = apply(e); err != nil {
					return nil, err
				}
			}
			c.Exprs = exprs
		}
		if c.Token != nil {
			t := *c.Token
			if t.Mint, err = apply(t.Mint); err != nil {
				return nil, err
			}
			if t.Owner, err = apply(t.Owner); err != nil {
				return nil, err
			}
			c.Token = &t
		}
		if c.Mint != nil {
			m := *c.Mint
			if m.Decimals, err = apply(m.Decimals); err != nil {
				return nil, err
			}
			if m.Authority, err = apply(m.Authority); err != nil {
				return nil, err
			}
			if m.FreezeAuthority, err = apply(m.FreezeAuthority); err != nil {
				return nil, err
			}
			c.Mint = &m
		}
		if c.Assoc != nil {
			a := *c.Assoc
			if a.Mint, err = apply(a.Mint); err != nil {
				return nil, err
			}
			if a.Authority, err = apply(a.Authority); err != nil {
				return nil, err
			}
			c.Assoc = &a
		}
		out[i] = c
	}
	return out, nil
}

func (s Set) sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Kind.Precedence() < s[j].Kind.Precedence()
	})
}
