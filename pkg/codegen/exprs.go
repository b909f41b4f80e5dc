package codegen

import (
	"go/ast"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/linker"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

// Exported field names of the decoded token program state.
var (
	tokenAccountFields = map[string]bool{
		"Mint": true, "Owner": true, "Amount": true, "Delegate": true, "State": true,
		"IsNative": true, "DelegatedAmount": true, "CloseAuthority": true,
	}
	mintFields = map[string]bool{
		"MintAuthority": true, "Supply": true, "Decimals": true,
		"IsInitialized": true, "FreezeAuthority": true,
	}
)

func mustExpr(src string) constraint.Expr {
	e, err := constraint.ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

// mentions reports whether e uses the identifier name outside a selector.
func mentions(e constraint.Expr, name string) bool {
	found := false
	ast.Inspect(e.Node, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.SelectorExpr:
			if mentions(constraint.Expr{Node: n.X}, name) {
				found = true
			}
			return false
		case *ast.Ident:
			if n.Name == name {
				found = true
			}
		}
		return !found
	})
	return found
}

// normalize rewrites the field selectors of state bindings and arguments to
// the exported Go names and rejects unknown fields.
func (l *lowering) normalize(a *account) (constraint.Set, error) {
	return a.link.Constraints.Map(func(e constraint.Expr) (constraint.Expr, error) {
		node, err := constraint.ParseExpr(e.Src)
		if err != nil {
			return e, err
		}
		var ferr error
		out := astutil.Apply(node.Node, func(c *astutil.Cursor) bool {
			sel, ok := c.Node().(*ast.SelectorExpr)
			if !ok || ferr != nil {
				return ferr == nil
			}
			x, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			switch {
			case x.Name == "args":
				name, err := l.argField(a, sel.Sel.Name)
				if err != nil {
					ferr = err
					return false
				}
				sel.Sel = ast.NewIdent(name)
			case strings.HasSuffix(x.Name, linker.StateSuffix):
				owner, ok := l.accounts[strings.TrimSuffix(x.Name, linker.StateSuffix)]
				if !ok {
					return true
				}
				name, err := l.stateField(owner, sel.Sel.Name)
				if err != nil {
					ferr = err
					return false
				}
				sel.Sel = ast.NewIdent(name)
			}
			return true
		}, nil)
		if ferr != nil {
			return e, ferr
		}
		return constraint.Reparse(out.(ast.Expr))
	})
}

func (l *lowering) argField(a *account, name string) (string, error) {
	if l.ctx.Args == nil {
		return "", l.errorf(a.decl, "args.%s is used but %s declares no args", name, l.ctx.Name)
	}
	for _, f := range l.ctx.Args.Fields {
		if f.Name == name || schema.ToExport(f.Name) == name {
			return schema.ToExport(f.Name), nil
		}
	}
	return "", l.errorf(a.decl, "unknown argument %s", name)
}

// stateField resolves a field of owner's decoded state.
func (l *lowering) stateField(owner *account, name string) (string, error) {
	switch owner.decl.Type.Kind {
	case schema.KindAccount:
		if owner.state == nil {
			break
		}
		for _, f := range owner.state.Fields {
			if f.Name == name || schema.ToExport(f.Name) == name {
				return schema.ToExport(f.Name), nil
			}
		}
		return "", l.errorf(owner.decl, "%s has no field %s", owner.state.Name, name)
	case schema.KindTokenAccount:
		if n := schema.ToExport(name); tokenAccountFields[n] {
			return n, nil
		}
		return "", l.errorf(owner.decl, "token accounts have no field %s", name)
	case schema.KindMint:
		if n := schema.ToExport(name); mintFields[n] {
			return n, nil
		}
		return "", l.errorf(owner.decl, "mints have no field %s", name)
	}
	return "", l.errorf(owner.decl, "%s has no typed state to read", owner.decl.Name)
}

// keyExpr turns a bare account identifier into its key. Other expressions
// are already key valued.
func (l *lowering) keyExpr(e constraint.Expr) constraint.Expr {
	if name, ok := e.Ident(); ok {
		if _, declared := l.accounts[name]; declared {
			return mustExpr(name + ".Key()")
		}
	}
	return e
}
