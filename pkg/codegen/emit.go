package codegen

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"
	"time"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"
	"github.com/dave/dst/decorator/resolver/guess"
	"github.com/dave/dst/dstutil"

	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

const (
	solanaPath = "github.com/gagliardetto/solana-go"
	binPath    = "github.com/gagliardetto/binary"
)

// packages maps the selector prefixes used in generated text to import
// paths.
func (g *Generator) packages() map[string]string {
	return map[string]string{
		"runtime": g.cfg.RuntimePath,
		"types":   g.cfg.TypesPath,
		"solana":  solanaPath,
		"bin":     binPath,
	}
}

// render parses body as a file of the generated package, binds package
// selectors to import paths, lets the restorer write the import block and
// formats the result.
func (g *Generator) render(body string) ([]byte, error) {
	src := "package " + g.cfg.Package + "\n\n" + body
	f, err := decorator.ParseFile(token.NewFileSet(), "", src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse generated source: %w", err)
	}

	pkgs := g.packages()
	names := make(map[string]string, len(pkgs))
	for name, path := range pkgs {
		names[path] = name
	}
	dstutil.Apply(f, func(c *dstutil.Cursor) bool {
		sel, ok := c.Node().(*dst.SelectorExpr)
		if !ok {
			return true
		}
		x, ok := sel.X.(*dst.Ident)
		if !ok || x.Path != "" {
			return true
		}
		path, ok := pkgs[x.Name]
		if !ok {
			return true
		}
		id := &dst.Ident{Name: sel.Sel.Name, Path: path}
		id.Decs.NodeDecs = sel.Decs.NodeDecs
		c.Replace(id)
		return false
	}, nil)

	var buf bytes.Buffer
	buf.WriteString("// Code generated by ctxgen; DO NOT EDIT.\n")
	if g.cfg.Timestamp {
		buf.WriteString("// Generated at " + time.Now().UTC().Format(time.RFC3339) + "\n")
	}
	buf.WriteString("\n")
	r := decorator.NewRestorerWithImports(g.importPath(), guess.WithMap(names))
	if err := r.Fprint(&buf, f); err != nil {
		return nil, fmt.Errorf("print generated source: %w", err)
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated source: %w", err)
	}
	return out, nil
}

// importPath is the restorer's path for the generated package. The
// restorer needs one to tell local identifiers from imported ones; the
// package name stands in when the path is unknown.
func (g *Generator) importPath() string {
	if g.cfg.PackagePath != "" {
		return g.cfg.PackagePath
	}
	if g.cfg.Package != "" {
		return g.cfg.Package
	}
	return "main"
}

func comment(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			b.WriteString("//\n")
			continue
		}
		b.WriteString("// " + line + "\n")
	}
}

func bytesLiteral(typ string, v []byte) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("0x%02x", x)
	}
	return typ + "{" + strings.Join(parts, ", ") + "}"
}

// postfix makes e usable as the operand of a selector.
func postfix(e constraint.Expr) string {
	switch e.Node.(type) {
	case *ast.Ident, *ast.SelectorExpr, *ast.CallExpr, *ast.IndexExpr, *ast.ParenExpr:
		return e.Src
	}
	return "(" + e.Src + ")"
}

// ContextSource prints the context struct, its args and bumps types and the
// Try routine of p.
func (g *Generator) ContextSource(p *Plan) ([]byte, error) {
	w := &contextWriter{g: g, p: p}
	if err := w.write(); err != nil {
		return nil, err
	}
	return g.render(w.b.String())
}

type contextWriter struct {
	g *Generator
	p *Plan
	b strings.Builder
}

func (w *contextWriter) name() string {
	return schema.ToExport(w.p.Context)
}

func (w *contextWriter) write() error {
	b := &w.b
	name := w.name()

	comment(b, fmt.Sprintf("%s holds the validated accounts of the %s instruction.", name, schema.ToSnake(w.p.Context)))
	if w.p.Docs != "" {
		b.WriteString("//\n")
		comment(b, w.p.Docs)
	}
	b.WriteString("type " + name + " struct {\n")
	for i := 0; i < len(w.p.Slots); i++ {
		s := w.p.Slots[i]
		if s.Docs != "" {
			comment(b, s.Docs)
		}
		if s.Element >= 0 {
			b.WriteString(fmt.Sprintf("%s [%d]*runtime.AccountInfo\n", schema.ToExport(s.Base), s.Size))
			i += len(w.p.Elements(s.Base)) - 1
			continue
		}
		b.WriteString(schema.ToExport(s.Name) + " *runtime.AccountInfo\n")
	}
	if w.p.Args != nil {
		b.WriteString("Args *" + name + "Args\n")
	}
	if len(w.p.Bumps) > 0 {
		b.WriteString("Bumps " + name + "Bumps\n")
	}
	b.WriteString("}\n\n")

	if w.p.Args != nil {
		comment(b, fmt.Sprintf("%sArgs is the %s encoded argument record following the instruction discriminator.", name, w.p.Args.Encoding))
		b.WriteString("type " + name + "Args struct {\n")
		for _, f := range w.p.Args.Fields {
			b.WriteString(schema.ToExport(f.Name) + " " + schema.GoType(f.Type) + "\n")
		}
		b.WriteString("}\n\n")
	}
	if len(w.p.Bumps) > 0 {
		comment(b, fmt.Sprintf("%sBumps holds the canonical bumps found while validating %s.", name, name))
		b.WriteString("type " + name + "Bumps struct {\n")
		for _, a := range w.p.Bumps {
			b.WriteString(schema.ToExport(a) + " uint8\n")
		}
		b.WriteString("}\n\n")
	}

	b.WriteString("var " + name + "Discriminator = " + bytesLiteral("[8]byte", w.p.Discriminator[:]) + "\n\n")

	comment(b, fmt.Sprintf("Try%s consumes the leading %d accounts and the argument bytes, advancing both, and validates them in dependency order.", name, len(w.p.Slots)))
	b.WriteString("func Try" + name + "(env *runtime.Env, accounts *[]*runtime.AccountInfo, data *[]byte) (*" + name + ", error) {\n")
	if w.p.Args != nil {
		decode := "DecodeBorshArgs"
		if w.p.Args.Encoding == schema.EncodingFixed {
			decode = "DecodeFixedArgs"
		}
		b.WriteString("var args " + name + "Args\n")
		b.WriteString("if err := runtime." + decode + "(data, &args); err != nil {\nreturn nil, err\n}\n")
	}
	if n := len(w.p.Slots); n > 0 {
		b.WriteString(fmt.Sprintf("accs, err := runtime.TakeAccounts(accounts, %d)\n", n))
		w.check("err")
		for i, s := range w.p.Slots {
			b.WriteString(fmt.Sprintf("%s := accs[%d]\n", s.Name, i))
		}
	}
	if len(w.p.Bumps) > 0 {
		b.WriteString("var bumps " + name + "Bumps\n")
	}

	for _, frag := range w.p.Fragments {
		b.WriteString("\n")
		if err := w.fragment(frag); err != nil {
			return err
		}
	}

	b.WriteString("\nreturn &" + name + "{\n")
	for i := 0; i < len(w.p.Slots); i++ {
		s := w.p.Slots[i]
		if s.Element >= 0 {
			slots := w.p.Elements(s.Base)
			elems := make([]string, len(slots))
			for j, e := range slots {
				elems[j] = e.Name
			}
			b.WriteString(fmt.Sprintf("%s: [%d]*runtime.AccountInfo{%s},\n", schema.ToExport(s.Base), s.Size, strings.Join(elems, ", ")))
			i += len(slots) - 1
			continue
		}
		b.WriteString(schema.ToExport(s.Name) + ": " + s.Name + ",\n")
	}
	if w.p.Args != nil {
		b.WriteString("Args: &args,\n")
	}
	if len(w.p.Bumps) > 0 {
		b.WriteString("Bumps: bumps,\n")
	}
	b.WriteString("}, nil\n}\n")
	return nil
}

func (w *contextWriter) check(errVar string) {
	w.b.WriteString("if " + errVar + " != nil {\nreturn nil, " + errVar + "\n}\n")
}

// call writes a guarded call of a function returning only an error.
func (w *contextWriter) call(expr string) {
	w.b.WriteString("if err := " + expr + "; err != nil {\nreturn nil, err\n}\n")
}

func (w *contextWriter) fragment(frag Fragment) error {
	b := &w.b
	acct := frag.Account
	if frag.Optional {
		b.WriteString("if runtime.IsDefaultAddress(" + acct + ") {\n" + acct + " = nil\n}")
		if len(frag.Ops) > 0 {
			b.WriteString(" else {\n")
		} else {
			b.WriteString("\n")
		}
	}
	for _, op := range frag.Ops {
		if err := w.op(op); err != nil {
			return err
		}
	}
	var after []ReleaseState
	for _, r := range frag.Release {
		// A binding made inside the optional block is released there.
		if frag.Optional && r.Name == acct {
			b.WriteString(r.Name + "Ref.Release()\n")
			continue
		}
		after = append(after, r)
	}
	if frag.Optional && len(frag.Ops) > 0 {
		b.WriteString("}\n")
	}
	for _, r := range after {
		b.WriteString(r.Name + "Ref.Release()\n")
	}
	return nil
}

func (w *contextWriter) errorRef(name, fallback string) string {
	if name == "" {
		return "types." + fallback
	}
	if _, ok := w.g.prog.ErrorDef(name); ok {
		return "Err" + schema.ToExport(name)
	}
	return fmt.Sprintf("types.BuiltinError(%q)", name)
}

func signerSeeds(acct string, signed bool) string {
	if !signed {
		return "nil"
	}
	return "runtime.WithBump(" + acct + "Seeds, " + acct + "Bump)"
}

func (w *contextWriter) op(op Op) error {
	b := &w.b
	n := op.Target()
	q := fmt.Sprintf("%q", n)
	switch op := op.(type) {
	case *CheckSigner:
		w.call("runtime.CheckSigner(" + n + ", " + q + ")")
	case *CheckWritable:
		w.call("runtime.CheckWritable(" + n + ", " + q + ")")
	case *CheckAccount:
		w.call(fmt.Sprintf("runtime.CheckAccount(%s, %s, %sDiscriminator, %s)", n, op.Owner.Src, schema.ToExport(op.State), q))
	case *CheckOwner:
		w.call(fmt.Sprintf("runtime.CheckOwner(%s, %s, %s)", n, op.Owner.Src, q))
	case *CheckProgram:
		w.call(fmt.Sprintf("runtime.CheckProgram(%s, %s, %s)", n, op.ID.Src, q))
	case *CheckTokenProgram:
		w.call("runtime.CheckTokenProgram(" + n + ", " + q + ")")
	case *CheckSystemAccount:
		w.call("runtime.CheckSystemAccount(" + n + ", " + q + ")")
	case *CheckTokenAccount:
		w.load("LoadTokenAccount", n, op.Bind)
	case *CheckMint:
		w.load("LoadMint", n, op.Bind)

	case *DerivePDA:
		seeds := make([]string, len(op.Seeds))
		for i, s := range op.Seeds {
			seeds[i] = "runtime.SeedBytes(" + s.Src + ")"
		}
		b.WriteString(n + "Seeds := [][]byte{" + strings.Join(seeds, ", ") + "}\n")
		switch op.Mode {
		case PDAFind:
			b.WriteString(fmt.Sprintf("%sBump, err := runtime.FindPDA(%s, %sSeeds, %s, %s)\n", n, n, n, op.Program.Src, q))
			w.check("err")
		case PDACreate:
			w.call(fmt.Sprintf("runtime.CreatePDA(%s, %sSeeds, uint8(%s), %s, %s)", n, n, op.Bump.Src, op.Program.Src, q))
		case PDAFindVerify:
			b.WriteString(fmt.Sprintf("%sBump := uint8(%s)\n", n, op.Bump.Src))
			w.call(fmt.Sprintf("runtime.FindPDAWithBump(%s, %sSeeds, %sBump, %s, %s)", n, n, n, op.Program.Src, q))
		}
	case *StoreBump:
		b.WriteString("bumps." + op.Field + " = " + n + "Bump\n")

	case *CreateAccount:
		w.call(fmt.Sprintf("runtime.CreateAccount(env, %s, %s, uint64(%s), %s, %s)", op.Payer, n, op.Space.Src, op.Owner.Src, signerSeeds(n, op.Signed)))
	case *WriteDiscriminator:
		w.call(fmt.Sprintf("runtime.WriteDiscriminator(%s, %sDiscriminator, %s)", n, schema.ToExport(op.State), q))
	case *InitTokenAccount:
		w.call(fmt.Sprintf("runtime.InitTokenAccount(env, accs, %s, %s, %s, %s, %s, %s)", op.Payer, n, op.Mint.Src, op.Owner.Src, op.TokenProgram.Src, signerSeeds(n, op.Signed)))
	case *InitMint:
		freeze := "nil"
		if !op.FreezeAuthority.IsZero() {
			freeze = postfix(op.FreezeAuthority) + ".ToPointer()"
		}
		w.call(fmt.Sprintf("runtime.InitMint(env, %s, %s, uint8(%s), %s, %s, %s, %s)", op.Payer, n, op.Decimals.Src, op.Authority.Src, freeze, op.TokenProgram.Src, signerSeeds(n, op.Signed)))
	case *InitAssociatedToken:
		w.call(fmt.Sprintf("runtime.InitAssociatedToken(env, accs, %s, %s, %s, %s, %s, %s)", op.Payer, n, op.Authority.Src, op.Mint.Src, op.TokenProgram.Src, q))
	case *InitIfNeeded:
		b.WriteString("if runtime.NeedsInit(" + n + ") {\n")
		for _, inner := range op.Init {
			if err := w.op(inner); err != nil {
				return err
			}
		}
		b.WriteString("}\n")

	case *BindState:
		b.WriteString(fmt.Sprintf("%sRef, err := runtime.BindState(%s, %s, Load%s)\n", n, n, q, schema.ToExport(op.State)))
		w.check("err")
		b.WriteString(n + "State := " + n + "Ref.Value\n")
	case *ReleaseState:
		b.WriteString(n + "Ref.Release()\n")

	case *HasOne:
		w.call(fmt.Sprintf("runtime.RequireKeysEqual(%sState.%s, %s.Key(), %s, %s)", n, op.Field, op.Join, w.errorRef(op.Error, "ErrConstraintHasOne"), q))
	case *TokenConstraint:
		w.call(fmt.Sprintf("runtime.RequireKeysEqual(%sState.Mint, %s, %s, %s)", n, op.Mint.Src, w.errorRef(op.MintError, "ErrConstraintTokenMint"), q))
		if !op.Owner.IsZero() {
			w.call(fmt.Sprintf("runtime.RequireKeysEqual(%sState.Owner, %s, %s, %s)", n, op.Owner.Src, w.errorRef(op.OwnerError, "ErrConstraintTokenOwner"), q))
		}
	case *MintConstraint:
		if !op.Decimals.IsZero() {
			w.call(fmt.Sprintf("runtime.Require(%sState.Decimals == uint8(%s), types.ErrConstraintMintDecimals, %s)", n, op.Decimals.Src, q))
		}
		if !op.Authority.IsZero() {
			w.call(fmt.Sprintf("runtime.RequireKeysEqual(runtime.OptionalKey(%sState.MintAuthority), %s, types.ErrConstraintMintMintAuthority, %s)", n, op.Authority.Src, q))
		}
		if !op.FreezeAuthority.IsZero() {
			w.call(fmt.Sprintf("runtime.RequireKeysEqual(runtime.OptionalKey(%sState.FreezeAuthority), %s, types.ErrConstraintMintFreezeAuthority, %s)", n, op.FreezeAuthority.Src, q))
		}
	case *AssociatedTokenCheck:
		w.call(fmt.Sprintf("runtime.CheckAssociatedToken(%s, %sState, %s, %s, %s)", n, n, op.Authority.Src, op.Mint.Src, q))
	case *Assert:
		w.call(fmt.Sprintf("runtime.Require(%s, %s, %s)", op.Cond.Src, w.errorRef(op.Error, "ErrConstraintRaw"), q))
	case *Address:
		w.call(fmt.Sprintf("runtime.RequireKeysEqual(%s.Key(), %s, %s, %s)", n, op.Want.Src, w.errorRef(op.Error, "ErrConstraintAddress"), q))
	default:
		return fmt.Errorf("codegen: unsupported operation %T", op)
	}
	return nil
}

func (w *contextWriter) load(fn, n string, bind bool) {
	if bind {
		w.b.WriteString(fmt.Sprintf("%sState, err := runtime.%s(%s, %q)\n", n, fn, n, n))
		w.check("err")
		return
	}
	w.b.WriteString(fmt.Sprintf("if _, err := runtime.%s(%s, %q); err != nil {\nreturn nil, err\n}\n", fn, n, n))
}
