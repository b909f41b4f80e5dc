// Package linker extracts the dependencies between the accounts of a
// context from their constraint expressions.
package linker

import (
	"go/ast"
	"go/parser"
	"sort"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/ninja0404/ctxgen/pkg/constraint"
)

// Accounts the associated token initialization assumes present.
const (
	SystemProgramName = "system_program"
	TokenProgramName  = "token_program"
)

// StateSuffix is appended to an account name to form its state binding.
const StateSuffix = "State"

// Link is the resolved view of one account.
type Link struct {
	Name string
	// Constraints has every "x.Data()" call replaced by the identifier xState.
	Constraints constraint.Set
	// Deps are the other declared accounts this account references, sorted.
	Deps []string
	// StateRefs are the accounts, self included, whose state the
	// constraints read, sorted.
	StateRefs []string
}

// Resolve links one account against the set of declared names.
func Resolve(name string, set constraint.Set, declared map[string]bool) (*Link, error) {
	deps := map[string]bool{}
	states := map[string]bool{}

	rewritten, err := set.Map(func(e constraint.Expr) (constraint.Expr, error) {
		fresh, err := parser.ParseExpr(e.Src)
		if err != nil {
			return constraint.Expr{}, err
		}
		node, changed := rewriteData(fresh, declared, states)
		collectIdents(node, declared, deps)
		if !changed {
			return e, nil
		}
		return constraint.Reparse(node)
	})
	if err != nil {
		return nil, err
	}

	for s := range states {
		deps[s] = true
	}
	if set.Initializes() && set.Has(constraint.AssociatedToken) {
		for _, implicit := range []string{SystemProgramName, TokenProgramName} {
			if declared[implicit] {
				deps[implicit] = true
			}
		}
	}
	delete(deps, name)

	return &Link{
		Name:        name,
		Constraints: rewritten,
		Deps:        sortedKeys(deps),
		StateRefs:   sortedKeys(states),
	}, nil
}

// rewriteData replaces x.Data() with xState for declared x, recording x.
func rewriteData(node ast.Expr, declared, states map[string]bool) (ast.Expr, bool) {
	changed := false
	out := astutil.Apply(node, nil, func(c *astutil.Cursor) bool {
		call, ok := c.Node().(*ast.CallExpr)
		if !ok || len(call.Args) != 0 {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Data" {
			return true
		}
		x, ok := sel.X.(*ast.Ident)
		if !ok || !declared[x.Name] {
			return true
		}
		states[x.Name] = true
		c.Replace(ast.NewIdent(x.Name + StateSuffix))
		changed = true
		return true
	})
	return out.(ast.Expr), changed
}

// collectIdents records free identifiers naming declared accounts. Selector
// names are fields or methods, never accounts, so only the operand is
// visited.
func collectIdents(node ast.Node, declared, deps map[string]bool) {
	ast.Inspect(node, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.SelectorExpr:
			collectIdents(n.X, declared, deps)
			return false
		case *ast.KeyValueExpr:
			collectIdents(n.Value, declared, deps)
			return false
		case *ast.Ident:
			if declared[n.Name] {
				deps[n.Name] = true
			}
		}
		return true
	})
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Edges flattens links into (dependent, dependency) pairs.
func Edges(links []*Link) [][2]string {
	var out [][2]string
	for _, l := range links {
		for _, d := range l.Deps {
			out = append(out, [2]string{l.Name, d})
		}
	}
	return out
}

// DepMap returns name -> deps for the sorter.
func DepMap(links []*Link) map[string][]string {
	out := make(map[string][]string, len(links))
	for _, l := range links {
		out[l.Name] = l.Deps
	}
	return out
}
