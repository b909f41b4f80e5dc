package codegen

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ninja0404/ctxgen/pkg/config"
	"github.com/ninja0404/ctxgen/pkg/constraint"
	"github.com/ninja0404/ctxgen/pkg/linker"
	"github.com/ninja0404/ctxgen/pkg/schema"
	"github.com/ninja0404/ctxgen/pkg/toposort"
	"github.com/ninja0404/ctxgen/pkg/types"
)

// ErrDependencyCycle is returned for cyclic contexts when strict cycle
// checking is enabled.
var ErrDependencyCycle = errors.New("dependency cycle")

// Generator lowers the contexts of one program.
type Generator struct {
	prog *schema.Program
	cfg  config.GeneratorConfig
	log  zerolog.Logger
}

// New creates a generator for prog.
func New(prog *schema.Program, cfg config.GeneratorConfig) *Generator {
	return &Generator{
		prog: prog,
		cfg:  cfg,
		log:  cfg.Logger.With().Str("program", prog.Name).Logger(),
	}
}

// Program returns the schema the generator lowers.
func (g *Generator) Program() *schema.Program {
	return g.prog
}

// Plans lowers every context in declaration order.
func (g *Generator) Plans() ([]*Plan, error) {
	out := make([]*Plan, 0, len(g.prog.Contexts))
	for i := range g.prog.Contexts {
		p, err := g.plan(i)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Plan lowers the context named name.
func (g *Generator) Plan(name string) (*Plan, error) {
	_, ci, err := g.prog.Context(name)
	if err != nil {
		return nil, err
	}
	return g.plan(ci)
}

type account struct {
	decl  schema.Declaration
	link  *linker.Link
	set   constraint.Set
	state *schema.StateType
	index int
}

type lowering struct {
	g         *Generator
	ci        int
	ctx       *schema.Context
	accounts  map[string]*account
	order     []string
	needState map[string]bool
}

func (g *Generator) plan(ci int) (*Plan, error) {
	ctx := &g.prog.Contexts[ci]
	log := g.log.With().Str("context", ctx.Name).Logger()

	decls, err := g.prog.Declarations(ci)
	if err != nil {
		return nil, err
	}
	declared := make(map[string]bool, len(decls))
	for _, d := range decls {
		declared[d.Name] = true
	}

	l := &lowering{
		g:         g,
		ci:        ci,
		ctx:       ctx,
		accounts:  make(map[string]*account, len(decls)),
		needState: map[string]bool{},
	}
	names := make([]string, 0, len(decls))
	links := make([]*linker.Link, 0, len(decls))
	for _, d := range decls {
		set, err := constraint.Parse(d.Constraints)
		if err != nil {
			return nil, l.wrap(d, ".constraints", err)
		}
		link, err := linker.Resolve(d.Name, set, declared)
		if err != nil {
			return nil, l.wrap(d, ".constraints", err)
		}
		a := &account{decl: d, link: link}
		if d.Type.Kind == schema.KindAccount {
			a.state, _ = g.prog.StateType(d.Type.State)
		}
		l.accounts[d.Name] = a
		names = append(names, d.Name)
		links = append(links, link)
	}

	order, unordered := toposort.Sort(names, linker.DepMap(links))
	if len(unordered) > 0 {
		log.Warn().Strs("accounts", unordered).Msg("dependency cycle, appending unordered accounts in name order")
		if g.cfg.StrictCycles {
			return nil, &types.GenerationError{
				Pos:     g.prog.Position(schema.ContextPath(ci)),
				Context: ctx.Name,
				Message: fmt.Sprintf("accounts %v are in or depend on a dependency cycle", unordered),
				Err:     ErrDependencyCycle,
			}
		}
	}
	log.Debug().Strs("order", order).Msg("sorted accounts")
	l.order = order
	for i, n := range order {
		l.accounts[n].index = i
	}

	if err := l.collectStateNeeds(); err != nil {
		return nil, err
	}
	for _, n := range order {
		a := l.accounts[n]
		if a.set, err = l.normalize(a); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		Context:       ctx.Name,
		Args:          ctx.Args,
		Order:         order,
		Unordered:     unordered,
		Discriminator: schema.InstructionDiscriminator(ctx.Name),
		Docs:          ctx.Docs,
	}
	for _, d := range decls {
		plan.Slots = append(plan.Slots, Slot{
			Name:        d.Name,
			Type:        d.Type,
			Base:        d.Base,
			Element:     d.Element,
			Size:        d.Size,
			Docs:        d.Docs,
			Constraints: d.Constraints,
		})
	}
	for _, n := range order {
		frag, err := l.lower(l.accounts[n])
		if err != nil {
			return nil, err
		}
		log.Debug().Str("account", n).Int("ops", len(frag.Ops)).Msg("lowered account")
		for _, op := range frag.Ops {
			if d, ok := op.(*DerivePDA); ok && d.Mode == PDAFind {
				plan.Bumps = append(plan.Bumps, n)
			}
		}
		plan.Fragments = append(plan.Fragments, frag)
	}
	l.scheduleReleases(plan)
	return plan, nil
}

// collectStateNeeds records which accounts must bind their state and
// rejects reads the generated routine cannot satisfy.
func (l *lowering) collectStateNeeds() error {
	for _, n := range l.order {
		a := l.accounts[n]
		if a.set == nil {
			a.set = a.link.Constraints
		}
		for _, r := range a.link.StateRefs {
			l.needState[r] = true
		}
		if a.set.Has(constraint.HasOne) {
			l.needState[n] = true
		}
		if c, ok := a.set.Get(constraint.Seeded); ok && !c.List {
			l.needState[n] = true
		}
	}
	for _, n := range l.order {
		a := l.accounts[n]
		for _, r := range a.link.StateRefs {
			ra := l.accounts[r]
			switch {
			case ra.decl.Type.Optional && r != n:
				return l.errorf(a.decl, "state of optional account %s cannot be read by %s", r, n)
			case r != n && ra.index > a.index:
				return l.errorf(a.decl, "state of %s is read before %s is validated", r, r)
			}
		}
	}
	for n := range l.needState {
		a := l.accounts[n]
		switch a.decl.Type.Kind {
		case schema.KindAccount, schema.KindTokenAccount, schema.KindMint:
		default:
			return l.errorf(a.decl, "%s has no typed state to read", n)
		}
		if a.set.Initializes() && l.readsOwnStateEarly(a) {
			return l.errorf(a.decl, "%s is initialized here, its seeds cannot read its own state", n)
		}
	}
	return nil
}

// scheduleReleases drops every typed state binding in the fragment of its
// last reader.
func (l *lowering) scheduleReleases(plan *Plan) {
	for _, n := range l.order {
		a := l.accounts[n]
		if !l.needState[n] || a.decl.Type.Kind != schema.KindAccount {
			continue
		}
		last := a.index
		for _, m := range l.order {
			other := l.accounts[m]
			for _, r := range other.link.StateRefs {
				if r == n && other.index > last {
					last = other.index
				}
			}
		}
		plan.Fragments[last].Release = append(plan.Fragments[last].Release, ReleaseState{Acct{Name: n}})
	}
}
