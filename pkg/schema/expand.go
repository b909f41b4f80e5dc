package schema

import (
	"fmt"

	"github.com/ninja0404/ctxgen/pkg/types"
)

// Declaration is one account of a context after array expansion.
type Declaration struct {
	Name        string
	Type        AccountType
	Constraints string
	Docs        string
	// Field is the index of the declaring field in the context.
	Field int
	// Element is the array element index, or -1 for a scalar declaration.
	Element int
	// Size is the element count of the declaring array field, zero for a
	// scalar declaration.
	Size int
	// Base is the declared field name, shared by all elements of an array.
	Base string
}

// Declarations expands the accounts of context ci. An array field "signers"
// of size N becomes signers_0 .. signers_{N-1}, each carrying the field's
// constraint string.
func (p *Program) Declarations(ci int) ([]Declaration, error) {
	if ci < 0 || ci >= len(p.Contexts) {
		return nil, fmt.Errorf("%w: index %d", types.ErrUnknownContext, ci)
	}
	c := &p.Contexts[ci]
	var out []Declaration
	seen := map[string]int{}
	for fi, f := range c.Accounts {
		t, err := ParseAccountType(f.Type)
		if err != nil {
			return nil, p.wrap(FieldPath(ci, fi)+".type", err)
		}
		add := func(name string, elem int) error {
			if prev, ok := seen[name]; ok {
				return p.Errorf(FieldPath(ci, fi), c.Name, name, "%s collides with field %s", name, c.Accounts[prev].Name)
			}
			seen[name] = fi
			et := t
			et.Array = 0
			out = append(out, Declaration{
				Name:        name,
				Type:        et,
				Constraints: f.Constraints,
				Docs:        f.Docs,
				Field:       fi,
				Element:     elem,
				Size:        t.Array,
				Base:        f.Name,
			})
			return nil
		}
		if t.Array == 0 {
			if err := add(f.Name, -1); err != nil {
				return nil, err
			}
			continue
		}
		for i := 0; i < t.Array; i++ {
			if err := add(fmt.Sprintf("%s_%d", f.Name, i), i); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range out {
		for _, suffix := range LocalSuffixes {
			if prev, ok := seen[d.Name+suffix]; ok {
				return nil, p.Errorf(FieldPath(ci, prev), c.Name, d.Name+suffix, "name is reserved for a local derived from %s", d.Name)
			}
		}
	}
	return out, nil
}

// LocalSuffixes name the locals generated per account.
var LocalSuffixes = []string{"State", "Ref", "Seeds", "Bump"}
