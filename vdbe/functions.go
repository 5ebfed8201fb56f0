package vdbe

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Func computes one value from its arguments.
type Func func(args []value.Value) (value.Value, error)

// AnyArity registers a function for every argument count.
const AnyArity = -1

// FuncRegistry maps function names and arities to implementations. Names
// are case-insensitive; an exact arity wins over AnyArity.
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]map[int]Func
	aggs  map[string]map[int]AggFunc
}

func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{
		funcs: make(map[string]map[int]Func),
		aggs:  make(map[string]map[int]AggFunc),
	}
}

// Register adds or replaces a function.
func (r *FuncRegistry) Register(name string, arity int, fn Func) error {
	if name == "" || fn == nil || arity < AnyArity {
		return terror.ErrMisuse.Gen("bad function registration %q/%d", name, arity)
	}
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	byArity, ok := r.funcs[name]
	if !ok {
		byArity = make(map[int]Func)
		r.funcs[name] = byArity
	}
	byArity[arity] = fn
	return nil
}

// Lookup finds the implementation of name for nargs arguments.
func (r *FuncRegistry) Lookup(name string, nargs int) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byArity := r.funcs[strings.ToLower(name)]
	if fn, ok := byArity[nargs]; ok {
		return fn, true
	}
	fn, ok := byArity[AnyArity]
	return fn, ok
}

// Builtins returns a registry with the core scalar and aggregate
// functions.
func Builtins() *FuncRegistry {
	r := NewFuncRegistry()
	r.Register("length", 1, fnLength)
	r.Register("lower", 1, func(a []value.Value) (value.Value, error) { return mapText(a[0], strings.ToLower), nil })
	r.Register("upper", 1, func(a []value.Value) (value.Value, error) { return mapText(a[0], strings.ToUpper), nil })
	r.Register("typeof", 1, func(a []value.Value) (value.Value, error) { return value.Text(typeName(a[0].Kind())), nil })
	r.Register("abs", 1, fnAbs)
	r.Register("coalesce", AnyArity, fnCoalesce)
	r.Register("ifnull", 2, fnCoalesce)
	registerAggregates(r)
	return r
}

func typeName(k value.Kind) string {
	switch k {
	case value.KindInteger:
		return "integer"
	case value.KindReal:
		return "real"
	case value.KindText:
		return "text"
	case value.KindBlob:
		return "blob"
	}
	return "null"
}

func fnLength(a []value.Value) (value.Value, error) {
	switch v := a[0]; v.Kind() {
	case value.KindNull:
		return value.Null, nil
	case value.KindBlob:
		return value.Int(int64(len(v.Bytes()))), nil
	default:
		return value.Int(int64(utf8.RuneCountInString(v.Str()))), nil
	}
}

func mapText(v value.Value, fn func(string) string) value.Value {
	if v.IsNull() {
		return v
	}
	return value.Text(fn(v.Str()))
}

func fnAbs(a []value.Value) (value.Value, error) {
	v := value.Apply(a[0], value.AffNumeric)
	switch v.Kind() {
	case value.KindNull:
		return v, nil
	case value.KindInteger:
		i := v.Int()
		if i == math.MinInt64 {
			return value.Null, terror.ErrType.Gen("integer overflow")
		}
		if i < 0 {
			i = -i
		}
		return value.Int(i), nil
	case value.KindReal:
		return value.Real(math.Abs(v.Float())), nil
	}
	return value.Real(0), nil
}

func fnCoalesce(a []value.Value) (value.Value, error) {
	for _, v := range a {
		if !v.IsNull() {
			return v, nil
		}
	}
	return value.Null, nil
}
