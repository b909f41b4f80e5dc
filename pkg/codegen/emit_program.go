package codegen

import (
	"fmt"
	"strings"

	"github.com/ninja0404/ctxgen/pkg/schema"
)

// ProgramSource prints the program id, the well-known program ids the
// generated routines refer to and the declared constants.
func (g *Generator) ProgramSource() ([]byte, error) {
	var b strings.Builder
	if g.prog.Docs != "" {
		comment(&b, g.prog.Docs)
		b.WriteString("\n")
	}
	comment(&b, "ProgramID is the address the "+g.prog.Name+" program is deployed at.")
	b.WriteString(fmt.Sprintf("var ProgramID = solana.MustPublicKeyFromBase58(%q)\n\n", g.prog.Key().String()))
	b.WriteString("var (\n")
	b.WriteString("SystemProgramID = solana.SystemProgramID\n")
	b.WriteString("TokenProgramID = solana.TokenProgramID\n")
	b.WriteString("Token2022ProgramID = solana.Token2022ProgramID\n")
	b.WriteString("AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID\n")
	b.WriteString(")\n")

	if len(g.prog.Constants) > 0 {
		b.WriteString("\n")
	}
	for _, c := range g.prog.Constants {
		v, err := c.Eval()
		if err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case uint64:
			b.WriteString(fmt.Sprintf("const %s uint64 = %d\n", c.Name, v))
		case []byte:
			b.WriteString(fmt.Sprintf("var %s = %s\n", c.Name, bytesLiteral("[]byte", v)))
		default:
			b.WriteString(fmt.Sprintf("var %s = solana.MustPublicKeyFromBase58(%q)\n", c.Name, fmt.Sprint(v)))
		}
	}
	return g.render(b.String())
}

// StateSource prints every account state type with its discriminator,
// loader, store helper and seeds holder.
func (g *Generator) StateSource() ([]byte, error) {
	var b strings.Builder
	for i := range g.prog.Accounts {
		s := &g.prog.Accounts[i]
		name := schema.ToExport(s.Name)

		if s.Docs != "" {
			comment(&b, s.Docs)
		}
		b.WriteString("type " + name + " struct {\n")
		for _, f := range s.Fields {
			b.WriteString(schema.ToExport(f.Name) + " " + schema.GoType(f.Type) + "\n")
		}
		b.WriteString("}\n\n")

		b.WriteString("var " + name + "Discriminator = " + bytesLiteral("[]byte", s.DiscriminatorBytes()) + "\n\n")

		comment(&b, fmt.Sprintf("Load%s decodes %s from account data, discriminator included.", name, name))
		b.WriteString("func Load" + name + "(data []byte) (*" + name + ", error) {\n")
		b.WriteString("if !runtime.DiscriminatorMatches(" + name + "Discriminator, data) {\nreturn nil, types.ErrAccountDiscriminatorMismatch\n}\n")
		b.WriteString("var out " + name + "\n")
		b.WriteString("if err := bin.NewBorshDecoder(data[len(" + name + "Discriminator):]).Decode(&out); err != nil {\nreturn nil, err\n}\n")
		b.WriteString("return &out, nil\n}\n\n")

		comment(&b, fmt.Sprintf("Store%s encodes v into the data of an initialized %s account.", name, name))
		b.WriteString("func Store" + name + "(a *runtime.AccountInfo, v *" + name + ") error {\n")
		b.WriteString("payload, err := bin.MarshalBorsh(v)\nif err != nil {\nreturn err\n}\n")
		b.WriteString("return runtime.StoreState(a, " + name + "Discriminator, payload, a.Key().String())\n}\n\n")

		if len(s.Seeds) == 0 {
			continue
		}
		comment(&b, fmt.Sprintf("%sSeeds holds the key fields deriving a %s address.", name, name))
		b.WriteString("type " + name + "Seeds struct {\n")
		for _, k := range s.Seeds {
			f, _ := s.Field(k)
			b.WriteString(schema.ToExport(f.Name) + " " + schema.GoType(f.Type) + "\n")
		}
		b.WriteString("}\n\n")

		seeds := []string{fmt.Sprintf("[]byte(%q)", s.BaseSeed())}
		for _, k := range s.Seeds {
			seeds = append(seeds, "runtime.SeedBytes(s."+schema.ToExport(k)+")")
		}
		comment(&b, "Seeds returns the derivation seeds, base seed first and bump excluded.")
		b.WriteString("func (s " + name + "Seeds) Seeds() [][]byte {\nreturn [][]byte{" + strings.Join(seeds, ", ") + "}\n}\n\n")
		comment(&b, "Address finds the canonical address and bump under program.")
		b.WriteString("func (s " + name + "Seeds) Address(program solana.PublicKey) (solana.PublicKey, uint8, error) {\nreturn solana.FindProgramAddress(s.Seeds(), program)\n}\n\n")
	}
	return g.render(b.String())
}

// ErrorsSource prints the program-declared errors.
func (g *Generator) ErrorsSource() ([]byte, error) {
	var b strings.Builder
	if len(g.prog.Errors) > 0 {
		b.WriteString("var (\n")
		for _, e := range g.prog.Errors {
			def, _ := g.prog.ErrorDef(e.Name)
			b.WriteString(fmt.Sprintf("Err%s = types.NewProgramError(%d, %q, %q)\n", schema.ToExport(def.Name), def.Code, def.Name, def.Message))
		}
		b.WriteString(")\n\n")
	}
	comment(&b, "Errors lists the program-declared errors by code.")
	b.WriteString("var Errors = map[types.ErrorCode]*types.ProgramError{\n")
	for _, e := range g.prog.Errors {
		def, _ := g.prog.ErrorDef(e.Name)
		b.WriteString(fmt.Sprintf("%d: Err%s,\n", def.Code, schema.ToExport(def.Name)))
	}
	b.WriteString("}\n")
	return g.render(b.String())
}
