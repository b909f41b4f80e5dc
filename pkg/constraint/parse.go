package constraint

import (
	"fmt"
	"go/token"
	"strings"
)

// Parse parses a comma separated constraint attribute string. The result is
// sorted by precedence; constraints of equal precedence keep source order.
func Parse(src string) (Set, error) {
	items, err := splitTop(src, ',')
	if err != nil {
		return nil, err
	}

	p := &setParser{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if err := p.item(item); err != nil {
			return nil, err
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	p.set.sort()
	return p.set, nil
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(src string) Set {
	s, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return s
}

type setParser struct {
	set   Set
	seen  map[string]bool
	token *TokenSpec
	mint  *MintSpec
	assoc *AssociatedTokenSpec
}

// Keywords that may appear more than once.
var repeatable = map[string]bool{
	"has_one": true,
	"assert":  true,
}

// Keywords accepting an "@ Error" suffix.
var customizable = map[string]bool{
	"has_one":      true,
	"token::mint":  true,
	"token::owner": true,
	"assert":       true,
	"address":      true,
}

func (p *setParser) item(item string) error {
	key, value, hasValue := splitKey(item)
	if key == "" {
		return fmt.Errorf("%w: %q", ErrMalformed, item)
	}
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	if p.seen[key] && !repeatable[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateConstraint, key)
	}
	p.seen[key] = true

	var custom string
	if hasValue {
		v, e, err := splitError(value)
		if err != nil {
			return err
		}
		if e != "" && !customizable[key] {
			return fmt.Errorf("%w: %s does not take a custom error", ErrMalformed, key)
		}
		value, custom = v, e
	}

	need := func() error {
		if !hasValue || strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s requires a value", ErrMalformed, key)
		}
		return nil
	}
	none := func() error {
		if hasValue {
			return fmt.Errorf("%w: %s takes no value", ErrMalformed, key)
		}
		return nil
	}
	expr := func() (Expr, error) {
		if err := need(); err != nil {
			return Expr{}, err
		}
		e, err := ParseExpr(strings.TrimSpace(value))
		if err != nil {
			return Expr{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		return e, nil
	}
	ident := func() (Expr, error) {
		e, err := expr()
		if err != nil {
			return e, err
		}
		if _, ok := e.Ident(); !ok {
			return Expr{}, fmt.Errorf("%w: %s expects an account name, got %q", ErrMalformed, key, e.Src)
		}
		return e, nil
	}

	switch key {
	case "init", "init_if_needed":
		if err := none(); err != nil {
			return err
		}
		if p.seen["init"] && p.seen["init_if_needed"] {
			return fmt.Errorf("%w: init and init_if_needed", ErrConflict)
		}
		k := Init
		if key == "init_if_needed" {
			k = InitIfNeeded
		}
		p.set = append(p.set, Constraint{Kind: k})

	case "payer", "has_one":
		e, err := ident()
		if err != nil {
			return err
		}
		k := Payer
		if key == "has_one" {
			k = HasOne
		}
		p.set = append(p.set, Constraint{Kind: k, Expr: e, Error: custom})

	case "space", "program", "assert", "address":
		e, err := expr()
		if err != nil {
			return err
		}
		k := map[string]Kind{"space": Space, "program": Program, "assert": Assert, "address": Address}[key]
		p.set = append(p.set, Constraint{Kind: k, Expr: e, Error: custom})

	case "bump":
		c := Constraint{Kind: Bump}
		if hasValue {
			e, err := expr()
			if err != nil {
				return err
			}
			c.Expr = e
		}
		p.set = append(p.set, c)

	case "seeds":
		if err := need(); err != nil {
			return err
		}
		exprs, err := parseList(key, value)
		if err != nil {
			return err
		}
		p.set = append(p.set, Constraint{Kind: Seeds, Exprs: exprs})

	case "seeded":
		c := Constraint{Kind: Seeded}
		if hasValue {
			exprs, err := parseList(key, value)
			if err != nil {
				return err
			}
			c.Exprs = exprs
			c.List = true
		}
		p.set = append(p.set, c)

	case "token::mint", "token::owner":
		e, err := expr()
		if err != nil {
			return err
		}
		if p.token == nil {
			p.token = &TokenSpec{}
		}
		if key == "token::mint" {
			p.token.Mint, p.token.MintError = e, custom
		} else {
			p.token.Owner, p.token.OwnerError = e, custom
		}

	case "mint::decimals", "mint::authority", "mint::freeze_authority":
		e, err := expr()
		if err != nil {
			return err
		}
		if p.mint == nil {
			p.mint = &MintSpec{}
		}
		switch key {
		case "mint::decimals":
			p.mint.Decimals = e
		case "mint::authority":
			p.mint.Authority = e
		default:
			p.mint.FreezeAuthority = e
		}

	case "associated_token::mint", "associated_token::authority":
		e, err := expr()
		if err != nil {
			return err
		}
		if p.assoc == nil {
			p.assoc = &AssociatedTokenSpec{}
		}
		if key == "associated_token::mint" {
			p.assoc.Mint = e
		} else {
			p.assoc.Authority = e
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownConstraint, key)
	}
	return nil
}

func (p *setParser) finish() error {
	initializing := p.set.Initializes()
	if p.token != nil {
		if p.token.Mint.IsZero() {
			return fmt.Errorf("%w: token constraint requires token::mint", ErrMissingSubField)
		}
		p.set = append(p.set, Constraint{Kind: Token, Token: p.token})
	}
	if p.mint != nil {
		if initializing && (p.mint.Decimals.IsZero() || p.mint.Authority.IsZero()) {
			return fmt.Errorf("%w: mint initialization requires mint::decimals and mint::authority", ErrMissingSubField)
		}
		p.set = append(p.set, Constraint{Kind: Mint, Mint: p.mint})
	}
	if p.assoc != nil {
		if p.assoc.Mint.IsZero() || p.assoc.Authority.IsZero() {
			return fmt.Errorf("%w: associated token requires associated_token::mint and associated_token::authority", ErrMissingSubField)
		}
		p.set = append(p.set, Constraint{Kind: AssociatedToken, Assoc: p.assoc})
	}

	switch {
	case p.set.Has(Seeds) && p.set.Has(Seeded):
		return fmt.Errorf("%w: seeds and seeded", ErrConflict)
	case p.set.Has(Bump) && !p.set.Derived():
		return fmt.Errorf("%w: bump requires seeds or seeded", ErrMissingSubField)
	case initializing && p.token != nil && p.assoc != nil:
		return fmt.Errorf("%w: token and associated_token initialization", ErrConflict)
	case initializing && p.token != nil && p.mint != nil:
		return fmt.Errorf("%w: token and mint initialization", ErrConflict)
	case initializing && p.mint != nil && p.assoc != nil:
		return fmt.Errorf("%w: mint and associated_token initialization", ErrConflict)
	case !initializing && p.set.Has(Payer):
		return fmt.Errorf("%w: payer requires init", ErrMissingSubField)
	case !initializing && p.set.Has(Space):
		return fmt.Errorf("%w: space requires init", ErrMissingSubField)
	}
	return nil
}

// splitKey separates "key = value". A bare keyword returns hasValue false.
func splitKey(item string) (key, value string, hasValue bool) {
	i := 0
	for i < len(item) && (isKeyByte(item[i])) {
		i++
	}
	key = item[:i]
	rest := strings.TrimSpace(item[i:])
	if rest == "" {
		return key, "", false
	}
	if rest[0] != '=' || strings.HasPrefix(rest, "==") {
		return "", "", false
	}
	return key, strings.TrimSpace(rest[1:]), true
}

func isKeyByte(b byte) bool {
	return b == '_' || b == ':' || (b >= 'a' && b <= 'z')
}

// splitError separates a trailing "@ ErrorName".
func splitError(value string) (string, string, error) {
	parts, err := splitTop(value, '@')
	if err != nil {
		return "", "", err
	}
	switch len(parts) {
	case 1:
		return value, "", nil
	case 2:
		name := strings.TrimSpace(parts[1])
		if !token.IsIdentifier(name) {
			return "", "", fmt.Errorf("%w: custom error %q", ErrMalformed, name)
		}
		return strings.TrimSpace(parts[0]), name, nil
	default:
		return "", "", fmt.Errorf("%w: more than one custom error in %q", ErrMalformed, value)
	}
}

func parseList(key, value string) ([]Expr, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, "]") {
		return nil, fmt.Errorf("%w: %s expects a [list]", ErrMalformed, key)
	}
	items, err := splitTop(value[1:len(value)-1], ',')
	if err != nil {
		return nil, err
	}
	out := []Expr{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		e, err := ParseExpr(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// splitTop splits s at sep, ignoring separators nested in brackets,
// parentheses, braces and string or rune literals.
func splitTop(s string, sep byte) ([]string, error) {
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced %q in %q", ErrMalformed, c, s)
			}
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("%w: unterminated group in %q", ErrMalformed, s)
	}
	return append(out, s[start:]), nil
}
