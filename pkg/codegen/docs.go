package codegen

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ninja0404/ctxgen/pkg/schema"
)

// Markdown renders the documentation of every plan.
func (g *Generator) Markdown(plans []*Plan) []byte {
	var b strings.Builder
	b.WriteString("# " + g.prog.Name + "\n\n")
	if g.prog.Docs != "" {
		b.WriteString(strings.TrimSpace(g.prog.Docs) + "\n\n")
	}
	b.WriteString("Program id: `" + g.prog.Key().String() + "`\n")
	for _, p := range plans {
		b.WriteString("\n")
		writeContextDocs(&b, p)
	}
	if len(g.prog.Errors) > 0 {
		b.WriteString("\n## Errors\n\n| code | name | message |\n|------|------|---------|\n")
		for _, e := range g.prog.Errors {
			def, _ := g.prog.ErrorDef(e.Name)
			b.WriteString(fmt.Sprintf("| %d | %s | %s |\n", def.Code, def.Name, def.Message))
		}
	}
	return []byte(b.String())
}

func writeContextDocs(b *strings.Builder, p *Plan) {
	b.WriteString("## " + p.Context + "\n\n")
	if p.Docs != "" {
		b.WriteString(strings.TrimSpace(p.Docs) + "\n\n")
	}
	b.WriteString("Instruction discriminator: `" + hex.EncodeToString(p.Discriminator[:]) + "`\n\n")

	b.WriteString("| # | account | type | constraints | docs |\n|---|---------|------|-------------|------|\n")
	for i, s := range p.Slots {
		b.WriteString(fmt.Sprintf("| %d | `%s` | `%s` | %s | %s |\n", i, s.Name, s.Type.String(), code(s.Constraints), s.Docs))
	}

	if p.Args != nil {
		b.WriteString(fmt.Sprintf("\nArguments (%s):\n\n", p.Args.Encoding))
		for _, f := range p.Args.Fields {
			b.WriteString(fmt.Sprintf("- `%s`: `%s`\n", f.Name, f.Type))
		}
	}

	b.WriteString("\nValidation order: " + strings.Join(p.Order, " → ") + "\n")
	if len(p.Unordered) > 0 {
		b.WriteString("\n> Accounts " + strings.Join(p.Unordered, ", ") + " are in or depend on a dependency cycle and are validated last, in name order.\n")
	}
	if len(p.Bumps) > 0 {
		b.WriteString("\nStored bumps: " + strings.Join(p.Bumps, ", ") + "\n")
	}

	b.WriteString("\n### Steps\n\n")
	for _, f := range p.Fragments {
		head := "`" + f.Account + "`"
		if f.Optional {
			head += " (skipped when left at the default address)"
		}
		b.WriteString("1. " + head + "\n")
		for _, op := range f.Ops {
			for _, line := range describe(op) {
				b.WriteString("   - " + line + "\n")
			}
		}
		for _, r := range f.Release {
			b.WriteString("   - release state of `" + r.Name + "`\n")
		}
	}
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + strings.ReplaceAll(s, "|", "\\|") + "`"
}

// describe explains op in one line per step.
func describe(op Op) []string {
	switch op := op.(type) {
	case *CheckSigner:
		return []string{"must sign"}
	case *CheckWritable:
		return []string{"must be writable"}
	case *CheckAccount:
		return []string{fmt.Sprintf("initialized `%s` owned by `%s`", op.State, op.Owner.Src)}
	case *CheckOwner:
		return []string{"owned by `" + op.Owner.Src + "`"}
	case *CheckProgram:
		return []string{"executable program `" + op.ID.Src + "`"}
	case *CheckTokenProgram:
		return []string{"a token program"}
	case *CheckSystemAccount:
		return []string{"owned by the system program"}
	case *CheckTokenAccount:
		return []string{"a token account"}
	case *CheckMint:
		return []string{"a mint"}
	case *DerivePDA:
		seeds := make([]string, len(op.Seeds))
		for i, s := range op.Seeds {
			seeds[i] = s.Src
		}
		line := fmt.Sprintf("address derived from [%s] under `%s` (%s)", strings.Join(seeds, ", "), op.Program.Src, op.Mode)
		if !op.Bump.IsZero() {
			line += " with bump `" + op.Bump.Src + "`"
		}
		return []string{line}
	case *StoreBump:
		return []string{"bump stored as `Bumps." + op.Field + "`"}
	case *CreateAccount:
		return []string{fmt.Sprintf("created with %s bytes, paid by `%s`, owned by `%s`", op.Space.Src, op.Payer, op.Owner.Src)}
	case *WriteDiscriminator:
		return []string{"discriminator of `" + op.State + "` written"}
	case *InitTokenAccount:
		return []string{fmt.Sprintf("initialized as token account of `%s` held by `%s`", op.Mint.Src, op.Owner.Src)}
	case *InitMint:
		return []string{fmt.Sprintf("initialized as mint with %s decimals, authority `%s`", op.Decimals.Src, op.Authority.Src)}
	case *InitAssociatedToken:
		return []string{fmt.Sprintf("created as associated token account of `%s` for `%s`", op.Authority.Src, op.Mint.Src)}
	case *InitIfNeeded:
		var out []string
		for _, inner := range op.Init {
			for _, line := range describe(inner) {
				out = append(out, "if not yet created: "+line)
			}
		}
		return out
	case *BindState:
		return []string{"state bound as `" + op.Name + "State`"}
	case *ReleaseState:
		return []string{"state released"}
	case *HasOne:
		return []string{fmt.Sprintf("`%s` equals `%s`", op.Field, op.Join) + errSuffix(op.Error)}
	case *TokenConstraint:
		out := []string{"mint is `" + op.Mint.Src + "`" + errSuffix(op.MintError)}
		if !op.Owner.IsZero() {
			out = append(out, "owner is `"+op.Owner.Src+"`"+errSuffix(op.OwnerError))
		}
		return out
	case *MintConstraint:
		var out []string
		if !op.Decimals.IsZero() {
			out = append(out, "decimals are `"+op.Decimals.Src+"`")
		}
		if !op.Authority.IsZero() {
			out = append(out, "mint authority is `"+op.Authority.Src+"`")
		}
		if !op.FreezeAuthority.IsZero() {
			out = append(out, "freeze authority is `"+op.FreezeAuthority.Src+"`")
		}
		return out
	case *AssociatedTokenCheck:
		return []string{fmt.Sprintf("associated token account of `%s` for `%s`", op.Authority.Src, op.Mint.Src)}
	case *Assert:
		return []string{"`" + op.Cond.Src + "` holds" + errSuffix(op.Error)}
	case *Address:
		return []string{"address is `" + op.Want.Src + "`" + errSuffix(op.Error)}
	}
	return []string{fmt.Sprintf("%T", op)}
}

func errSuffix(name string) string {
	if name == "" {
		return ""
	}
	return ", else " + name
}

// ContextFile is the generated file name of a context.
func ContextFile(context string) string {
	return schema.ToSnake(context) + "_accounts.go"
}
