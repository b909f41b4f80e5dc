// Package schema loads the YAML description of a program: its account state
// types, errors, constants and instruction contexts.
package schema

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"

	"github.com/ninja0404/ctxgen/pkg/constants"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// Program is the root of a schema file.
type Program struct {
	Name      string      `yaml:"name"`
	ID        string      `yaml:"id"`
	Docs      string      `yaml:"docs"`
	Constants []Constant  `yaml:"constants"`
	Errors    []ErrorDef  `yaml:"errors"`
	Accounts  []StateType `yaml:"accounts"`
	Contexts  []Context   `yaml:"contexts"`

	key  solana.PublicKey
	file *ast.File
}

// Constant is a named value usable in constraint expressions.
type Constant struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

// ErrorDef declares a program error. Code defaults to 6000 plus its index.
type ErrorDef struct {
	Name    string `yaml:"name"`
	Code    uint32 `yaml:"code"`
	Message string `yaml:"message"`
}

// StateType is an account data layout owned by the program.
type StateType struct {
	Name string `yaml:"name"`
	Docs string `yaml:"docs"`
	// Version, when set, is mixed into the discriminator.
	Version *uint8 `yaml:"version"`
	// DiscriminatorLen defaults to 8.
	DiscriminatorLen int `yaml:"discriminator_len"`
	// Discriminator overrides the derived bytes.
	Discriminator []byte     `yaml:"discriminator"`
	Fields        []FieldDef `yaml:"fields"`
	// Seeds names the key fields that, after the base seed, derive the
	// account's address.
	Seeds []string `yaml:"seeds"`
}

// FieldDef is one named, typed field of a state type or args record.
type FieldDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Context declares the accounts and arguments of one instruction.
type Context struct {
	Name     string  `yaml:"name"`
	Docs     string  `yaml:"docs"`
	Args     *Args   `yaml:"args"`
	Accounts []Field `yaml:"accounts"`
}

// Args is the instruction argument record decoded after the discriminator.
type Args struct {
	// Encoding is "fixed" (little-endian record) or "borsh".
	Encoding string     `yaml:"encoding"`
	Fields   []FieldDef `yaml:"fields"`
}

// Field is one declared account of a context.
type Field struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Constraints string `yaml:"constraints"`
	Docs        string `yaml:"docs"`
}

// Args encodings
const (
	EncodingFixed = "fixed"
	EncodingBorsh = "borsh"
)

// Load reads and validates a schema file.
func Load(path string) (*Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates schema source.
func Parse(src []byte) (*Program, error) {
	if len(src) == 0 {
		return nil, types.ErrEmptySchema
	}
	file, err := parser.ParseBytes(src, 0)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %s", yaml.FormatError(err, false, true))
	}
	var p Program
	if err := yaml.UnmarshalWithOptions(src, &p, yaml.Strict(), yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("decode schema: %s", yaml.FormatError(err, false, true))
	}
	p.file = file
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Key returns the program id.
func (p *Program) Key() solana.PublicKey {
	return p.key
}

// SetKey overrides the program id, for deployments under another address.
func (p *Program) SetKey(k solana.PublicKey) {
	p.key = k
	p.ID = k.String()
}

// Position resolves a YAML path such as "$.contexts[0].accounts[1]" to its
// line and column in the source.
func (p *Program) Position(path string) types.Position {
	pos := types.Position{Path: path}
	if p.file == nil {
		return pos
	}
	yp, err := yaml.PathString(path)
	if err != nil {
		return pos
	}
	node, err := yp.FilterFile(p.file)
	if err != nil || node == nil {
		return pos
	}
	tk := node.GetToken()
	if tk == nil || tk.Position == nil {
		return pos
	}
	pos.Line = tk.Position.Line
	pos.Column = tk.Position.Column
	return pos
}

// Errorf builds a generation error located at path.
func (p *Program) Errorf(path, ctx, field, format string, args ...interface{}) *types.GenerationError {
	return &types.GenerationError{
		Pos:     p.Position(path),
		Context: ctx,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ContextPath returns the YAML path of a context.
func ContextPath(ctx int) string {
	return fmt.Sprintf("$.contexts[%d]", ctx)
}

// FieldPath returns the YAML path of a context's account field.
func FieldPath(ctx, field int) string {
	return fmt.Sprintf("$.contexts[%d].accounts[%d]", ctx, field)
}

// Context returns the context named name.
func (p *Program) Context(name string) (*Context, int, error) {
	for i := range p.Contexts {
		if p.Contexts[i].Name == name {
			return &p.Contexts[i], i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %s", types.ErrUnknownContext, name)
}

// StateType returns the state type named name.
func (p *Program) StateType(name string) (*StateType, bool) {
	for i := range p.Accounts {
		if p.Accounts[i].Name == name {
			return &p.Accounts[i], true
		}
	}
	return nil, false
}

// ErrorDef returns the program error named name with its resolved code.
func (p *Program) ErrorDef(name string) (ErrorDef, bool) {
	for i, e := range p.Errors {
		if e.Name == name {
			if e.Code == 0 {
				e.Code = uint32(types.CustomErrorOffset) + uint32(i)
			}
			return e, true
		}
	}
	return ErrorDef{}, false
}

// ProgramErrors returns every declared error with resolved codes.
func (p *Program) ProgramErrors() []*types.ProgramError {
	out := make([]*types.ProgramError, 0, len(p.Errors))
	for _, e := range p.Errors {
		def, _ := p.ErrorDef(e.Name)
		out = append(out, types.NewProgramError(types.ErrorCode(def.Code), def.Name, def.Message))
	}
	return out
}

func (p *Program) validate() error {
	if err := types.ValidateIdentifier("name", p.Name); err != nil {
		return p.wrap("$.name", err)
	}
	key, err := types.ParsePublicKey("id", p.ID)
	if err != nil {
		return p.wrap("$.id", fmt.Errorf("%w: %v", types.ErrMalformedProgramID, err))
	}
	p.key = key

	seen := map[string]string{}
	claim := func(path, name string) error {
		if err := types.ValidateIdentifier("name", name); err != nil {
			return p.wrap(path, err)
		}
		if prev, ok := seen[name]; ok {
			return p.wrap(path, fmt.Errorf("%w: %s (first declared at %s)", types.ErrDuplicateName, name, prev))
		}
		seen[name] = path
		return nil
	}

	for i, c := range p.Constants {
		path := fmt.Sprintf("$.constants[%d]", i)
		if err := claim(path, c.Name); err != nil {
			return err
		}
		if _, err := c.Eval(); err != nil {
			return p.wrap(path, err)
		}
	}
	for i, e := range p.Errors {
		path := fmt.Sprintf("$.errors[%d]", i)
		if err := claim(path, e.Name); err != nil {
			return err
		}
		if _, builtin := types.ErrorFromName(e.Name); builtin {
			return p.wrap(path, fmt.Errorf("%w: %s shadows a framework error", types.ErrDuplicateName, e.Name))
		}
	}
	for i := range p.Accounts {
		path := fmt.Sprintf("$.accounts[%d]", i)
		if err := claim(path, p.Accounts[i].Name); err != nil {
			return err
		}
		if err := p.Accounts[i].validate(); err != nil {
			return p.wrap(path, err)
		}
	}
	for i := range p.Contexts {
		if err := claim(ContextPath(i), p.Contexts[i].Name); err != nil {
			return err
		}
		if err := p.validateContext(i); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateContext(ci int) error {
	c := &p.Contexts[ci]
	if c.Args != nil {
		path := ContextPath(ci) + ".args"
		switch c.Args.Encoding {
		case "":
			c.Args.Encoding = EncodingBorsh
		case EncodingFixed, EncodingBorsh:
		default:
			return p.wrap(path, fmt.Errorf("unknown args encoding %q", c.Args.Encoding))
		}
		if err := validateFields(c.Args.Fields); err != nil {
			return p.wrap(path, err)
		}
		if c.Args.Encoding == EncodingFixed {
			for _, f := range c.Args.Fields {
				if _, fixed := FieldSize(f.Type); !fixed {
					return p.wrap(path, fmt.Errorf("fixed args cannot hold variable-size field %s", f.Name))
				}
			}
		}
	}

	names := map[string]bool{}
	for fi, f := range c.Accounts {
		path := FieldPath(ci, fi)
		if err := types.ValidateIdentifier("account", f.Name); err != nil {
			return p.wrap(path, err)
		}
		if constants.ReservedNames[f.Name] {
			return p.wrap(path, fmt.Errorf("%w: %s", types.ErrReservedName, f.Name))
		}
		if names[f.Name] {
			return p.wrap(path, fmt.Errorf("%w: %s", types.ErrDuplicateName, f.Name))
		}
		names[f.Name] = true
		t, err := ParseAccountType(f.Type)
		if err != nil {
			return p.wrap(path+".type", err)
		}
		if t.Kind == KindAccount {
			if _, ok := p.StateType(t.State); !ok {
				return p.wrap(path+".type", fmt.Errorf("%w: %s", types.ErrUnknownStateType, t.State))
			}
		}
		if t.Kind == KindProgram && t.Program != p.Name {
			if _, ok := ProgramKey(t.Program); !ok {
				return p.wrap(path+".type", fmt.Errorf("unknown program %s", t.Program))
			}
		}
	}
	return nil
}

func (p *Program) wrap(path string, err error) *types.GenerationError {
	return &types.GenerationError{Pos: p.Position(path), Message: "invalid schema", Err: err}
}
