package interp

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"math/big"
	"reflect"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/ninja0404/ctxgen/pkg/runtime"
	"github.com/ninja0404/ctxgen/pkg/schema"
)

// ErrEval reports an expression the evaluator cannot give a value.
var ErrEval = errors.New("cannot evaluate expression")

// untyped is an integer constant that has not met a typed operand yet.
type untyped struct {
	v    *big.Int
	rune bool
}

// record is a decoded state or argument record addressed by exported field
// names.
type record struct {
	fields []schema.FieldDef
	values schema.Record
}

func (r record) get(name string) (interface{}, bool) {
	for _, f := range r.fields {
		if f.Name == name || schema.ToExport(f.Name) == name {
			v, ok := r.values[f.Name]
			return v, ok
		}
	}
	return nil, false
}

type scope map[string]interface{}

func evalErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrEval, fmt.Sprintf(format, args...))
}

func (s scope) eval(e ast.Expr) (interface{}, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return s.eval(e.X)
	case *ast.BasicLit:
		return literal(e)
	case *ast.Ident:
		switch e.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		v, ok := s[e.Name]
		if !ok {
			return nil, evalErr("undefined: %s", e.Name)
		}
		return v, nil
	case *ast.SelectorExpr:
		x, err := s.eval(e.X)
		if err != nil {
			return nil, err
		}
		return selectField(x, e.Sel.Name)
	case *ast.CallExpr:
		return s.call(e)
	case *ast.IndexExpr:
		x, err := s.eval(e.X)
		if err != nil {
			return nil, err
		}
		i, err := s.eval(e.Index)
		if err != nil {
			return nil, err
		}
		return index(x, i)
	case *ast.UnaryExpr:
		x, err := s.eval(e.X)
		if err != nil {
			return nil, err
		}
		return unary(e.Op, x)
	case *ast.BinaryExpr:
		return s.binary(e)
	case *ast.CompositeLit:
		if !isByteSlice(e.Type) {
			break
		}
		out := make([]byte, 0, len(e.Elts))
		for _, el := range e.Elts {
			v, err := s.eval(el)
			if err != nil {
				return nil, err
			}
			b, err := convert("byte", v)
			if err != nil {
				return nil, err
			}
			out = append(out, b.(uint8))
		}
		return out, nil
	}
	return nil, evalErr("unsupported expression %T", e)
}

func literal(e *ast.BasicLit) (interface{}, error) {
	switch e.Kind {
	case token.INT:
		v, ok := new(big.Int).SetString(e.Value, 0)
		if !ok {
			return nil, evalErr("bad integer %s", e.Value)
		}
		return untyped{v: v}, nil
	case token.CHAR:
		r, _, _, err := strconv.UnquoteChar(e.Value[1:len(e.Value)-1], '\'')
		if err != nil {
			return nil, evalErr("bad rune %s", e.Value)
		}
		return untyped{v: big.NewInt(int64(r)), rune: true}, nil
	case token.STRING:
		v, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, evalErr("bad string %s", e.Value)
		}
		return v, nil
	}
	return nil, evalErr("unsupported literal %s", e.Value)
}

func selectField(x interface{}, name string) (interface{}, error) {
	switch x := x.(type) {
	case record:
		if v, ok := x.get(name); ok {
			return v, nil
		}
		return nil, evalErr("no field %s", name)
	case *runtime.Env:
		if name == "ProgramID" {
			return x.ProgramID, nil
		}
	case *runtime.AccountInfo:
		return boundMethod{x, name}, nil
	case solana.PublicKey:
		return boundMethod{x, name}, nil
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(name); f.IsValid() {
			return f.Interface(), nil
		}
	}
	return nil, evalErr("%T has no field %s", x, name)
}

type boundMethod struct {
	recv interface{}
	name string
}

func (s scope) call(e *ast.CallExpr) (interface{}, error) {
	args := make([]interface{}, len(e.Args))
	for i, a := range e.Args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if isByteSlice(e.Fun) {
		if len(args) != 1 {
			return nil, evalErr("conversion takes one argument")
		}
		return convert("[]byte", args[0])
	}
	if id, ok := e.Fun.(*ast.Ident); ok {
		if _, shadowed := s[id.Name]; !shadowed {
			switch id.Name {
			case "len":
				if len(args) != 1 {
					return nil, evalErr("len takes one argument")
				}
				return length(args[0])
			case "bool", "byte", "string", "int", "int8", "int16", "int32", "int64",
				"uint8", "uint16", "uint32", "uint64":
				if len(args) != 1 {
					return nil, evalErr("conversion takes one argument")
				}
				return convert(id.Name, args[0])
			}
		}
	}

	fn, err := s.eval(e.Fun)
	if err != nil {
		return nil, err
	}
	m, ok := fn.(boundMethod)
	if !ok {
		return nil, evalErr("%T is not callable", fn)
	}
	return m.invoke(args)
}

func (m boundMethod) invoke(args []interface{}) (interface{}, error) {
	switch r := m.recv.(type) {
	case *runtime.AccountInfo:
		if len(args) != 0 {
			break
		}
		if r == nil {
			return nil, evalErr("%s called on a skipped optional account", m.name)
		}
		switch m.name {
		case "Key":
			return r.Key(), nil
		case "Owner":
			return r.Owner(), nil
		case "Lamports":
			return r.Lamports(), nil
		case "DataLen":
			return r.DataLen(), nil
		case "IsSigner":
			return r.IsSigner(), nil
		case "IsWritable":
			return r.IsWritable(), nil
		case "Executable":
			return r.Executable(), nil
		}
	case solana.PublicKey:
		switch {
		case m.name == "IsZero" && len(args) == 0:
			return r.IsZero(), nil
		case m.name == "String" && len(args) == 0:
			return r.String(), nil
		case m.name == "Bytes" && len(args) == 0:
			return r.Bytes(), nil
		case m.name == "Equals" && len(args) == 1:
			o, ok := args[0].(solana.PublicKey)
			if !ok {
				return nil, evalErr("Equals takes a public key")
			}
			return r.Equals(o), nil
		}
	}
	return nil, evalErr("unsupported call %T.%s", m.recv, m.name)
}

func isByteSlice(e ast.Expr) bool {
	at, ok := e.(*ast.ArrayType)
	if !ok || at.Len != nil {
		return false
	}
	id, ok := at.Elt.(*ast.Ident)
	return ok && (id.Name == "byte" || id.Name == "uint8")
}

func length(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case string:
		return len(v), nil
	case []byte:
		return len(v), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array || rv.Kind() == reflect.Slice {
		return rv.Len(), nil
	}
	return nil, evalErr("len of %T", v)
}

func index(x, i interface{}) (interface{}, error) {
	n, ok := toBig(i)
	if !ok || !n.IsInt64() {
		return nil, evalErr("index must be an integer")
	}
	idx := int(n.Int64())
	var raw []byte
	switch x := x.(type) {
	case []byte:
		raw = x
	case string:
		raw = []byte(x)
	case solana.PublicKey:
		raw = x[:]
	default:
		return nil, evalErr("cannot index %T", x)
	}
	if idx < 0 || idx >= len(raw) {
		return nil, evalErr("index %d out of range", idx)
	}
	return raw[idx], nil
}

// toBig returns the integer value of v.
func toBig(v interface{}) (*big.Int, bool) {
	switch v := v.(type) {
	case untyped:
		return new(big.Int).Set(v.v), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case int:
		return big.NewInt(int64(v)), true
	case bin.Uint128:
		out := new(big.Int).SetUint64(v.Hi)
		out.Lsh(out, 64)
		return out.Or(out, new(big.Int).SetUint64(v.Lo)), true
	}
	return nil, false
}

var mask64 = new(big.Int).SetUint64(^uint64(0))

// fromBig converts n to the type of like, wrapping like a Go conversion.
func fromBig(n *big.Int, like interface{}) interface{} {
	lo := new(big.Int).And(n, mask64).Uint64()
	switch like.(type) {
	case uint8:
		return uint8(lo)
	case uint16:
		return uint16(lo)
	case uint32:
		return uint32(lo)
	case uint64:
		return lo
	case int8:
		return int8(lo)
	case int16:
		return int16(lo)
	case int32:
		return int32(lo)
	case int64:
		return int64(lo)
	case int:
		return int(lo)
	case bin.Uint128:
		hi := new(big.Int).Rsh(n, 64)
		return bin.Uint128{Lo: lo, Hi: new(big.Int).And(hi, mask64).Uint64(), Endianness: bin.LE}
	}
	return untyped{v: n}
}

func convert(to string, v interface{}) (interface{}, error) {
	switch to {
	case "[]byte":
		switch v := v.(type) {
		case string:
			return []byte(v), nil
		case []byte:
			return v, nil
		}
		return nil, evalErr("cannot convert %T to []byte", v)
	case "string":
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return nil, evalErr("cannot convert %T to string", v)
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, evalErr("cannot convert %T to bool", v)
		}
		return b, nil
	}
	n, ok := toBig(v)
	if !ok {
		return nil, evalErr("cannot convert %T to %s", v, to)
	}
	var like interface{}
	switch to {
	case "byte", "uint8":
		like = uint8(0)
	case "uint16":
		like = uint16(0)
	case "uint32":
		like = uint32(0)
	case "uint64":
		like = uint64(0)
	case "int8":
		like = int8(0)
	case "int16":
		like = int16(0)
	case "int32":
		like = int32(0)
	case "int64":
		like = int64(0)
	default:
		like = 0
	}
	return fromBig(n, like), nil
}

// concrete gives untyped constants their default Go type.
func concrete(v interface{}) interface{} {
	if u, ok := v.(untyped); ok {
		if u.rune {
			return fromBig(u.v, int32(0))
		}
		return fromBig(u.v, 0)
	}
	return v
}

func unary(op token.Token, x interface{}) (interface{}, error) {
	switch op {
	case token.NOT:
		b, ok := x.(bool)
		if !ok {
			return nil, evalErr("! of %T", x)
		}
		return !b, nil
	case token.SUB, token.XOR, token.ADD:
		n, ok := toBig(x)
		if !ok {
			return nil, evalErr("%s of %T", op, x)
		}
		switch op {
		case token.SUB:
			n.Neg(n)
		case token.XOR:
			n.Not(n)
		}
		return fromBig(n, x), nil
	}
	return nil, evalErr("unsupported operator %s", op)
}

func (s scope) binary(e *ast.BinaryExpr) (interface{}, error) {
	x, err := s.eval(e.X)
	if err != nil {
		return nil, err
	}
	if e.Op == token.LAND || e.Op == token.LOR {
		l, ok := x.(bool)
		if !ok {
			return nil, evalErr("%s of %T", e.Op, x)
		}
		if (e.Op == token.LAND && !l) || (e.Op == token.LOR && l) {
			return l, nil
		}
		y, err := s.eval(e.Y)
		if err != nil {
			return nil, err
		}
		r, ok := y.(bool)
		if !ok {
			return nil, evalErr("%s of %T", e.Op, y)
		}
		return r, nil
	}
	y, err := s.eval(e.Y)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case token.EQL, token.NEQ:
		eq, err := equal(x, y)
		if err != nil {
			return nil, err
		}
		return eq == (e.Op == token.EQL), nil
	}

	a, okA := toBig(x)
	b, okB := toBig(y)
	if !okA || !okB {
		if sx, ok := x.(string); ok && e.Op == token.ADD {
			if sy, ok := y.(string); ok {
				return sx + sy, nil
			}
		}
		return nil, evalErr("%T %s %T", x, e.Op, y)
	}
	like := x
	if _, ok := x.(untyped); ok {
		like = y
	}

	switch e.Op {
	case token.LSS:
		return a.Cmp(b) < 0, nil
	case token.LEQ:
		return a.Cmp(b) <= 0, nil
	case token.GTR:
		return a.Cmp(b) > 0, nil
	case token.GEQ:
		return a.Cmp(b) >= 0, nil
	}

	out := new(big.Int)
	switch e.Op {
	case token.ADD:
		out.Add(a, b)
	case token.SUB:
		out.Sub(a, b)
	case token.MUL:
		out.Mul(a, b)
	case token.QUO, token.REM:
		if b.Sign() == 0 {
			return nil, evalErr("division by zero")
		}
		if e.Op == token.QUO {
			out.Quo(a, b)
		} else {
			out.Rem(a, b)
		}
	case token.AND:
		out.And(a, b)
	case token.OR:
		out.Or(a, b)
	case token.XOR:
		out.Xor(a, b)
	case token.AND_NOT:
		out.AndNot(a, b)
	case token.SHL, token.SHR:
		if !b.IsUint64() || b.Uint64() > 256 {
			return nil, evalErr("shift count %s", b)
		}
		if e.Op == token.SHL {
			out.Lsh(a, uint(b.Uint64()))
		} else {
			out.Rsh(a, uint(b.Uint64()))
		}
		// The shift result takes the type of the left operand.
		like = x
	default:
		return nil, evalErr("unsupported operator %s", e.Op)
	}
	return fromBig(out, like), nil
}

func equal(x, y interface{}) (bool, error) {
	if a, ok := toBig(x); ok {
		b, ok := toBig(y)
		if !ok {
			return false, evalErr("%T == %T", x, y)
		}
		return a.Cmp(b) == 0, nil
	}
	switch a := x.(type) {
	case []byte:
		if b, ok := y.([]byte); ok {
			return bytes.Equal(a, b), nil
		}
	case *solana.PublicKey:
		if b, ok := y.(solana.PublicKey); ok {
			return a != nil && *a == b, nil
		}
		if y == nil {
			return a == nil, nil
		}
	case *runtime.AccountInfo:
		if y == nil {
			return a == nil, nil
		}
	}
	if reflect.TypeOf(x) != reflect.TypeOf(y) || !reflect.TypeOf(x).Comparable() {
		return false, evalErr("%T == %T", x, y)
	}
	return x == y, nil
}
