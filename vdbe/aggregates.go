package vdbe

import (
	"math"
	"strings"

	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Aggregate accumulates the rows of one group. Step sees the arguments of
// every row; Final produces the result once the group is complete.
type Aggregate interface {
	Step(args []value.Value) error
	Final() (value.Value, error)
}

// AggFunc creates an empty accumulator.
type AggFunc func() Aggregate

// RegisterAggregate adds or replaces an aggregate function.
func (r *FuncRegistry) RegisterAggregate(name string, arity int, fn AggFunc) error {
	if name == "" || fn == nil || arity < AnyArity {
		return terror.ErrMisuse.Gen("bad aggregate registration %q/%d", name, arity)
	}
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	byArity, ok := r.aggs[name]
	if !ok {
		byArity = make(map[int]AggFunc)
		r.aggs[name] = byArity
	}
	byArity[arity] = fn
	return nil
}

// LookupAggregate finds the aggregate name for nargs arguments.
func (r *FuncRegistry) LookupAggregate(name string, nargs int) (AggFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byArity := r.aggs[strings.ToLower(name)]
	if fn, ok := byArity[nargs]; ok {
		return fn, true
	}
	fn, ok := byArity[AnyArity]
	return fn, ok
}

func registerAggregates(r *FuncRegistry) {
	r.RegisterAggregate("count", 0, func() Aggregate { return &countAgg{star: true} })
	r.RegisterAggregate("count", 1, func() Aggregate { return &countAgg{} })
	r.RegisterAggregate("sum", 1, func() Aggregate { return &sumAgg{} })
	r.RegisterAggregate("total", 1, func() Aggregate { return &sumAgg{total: true} })
	r.RegisterAggregate("avg", 1, func() Aggregate { return &avgAgg{} })
	r.RegisterAggregate("min", 1, func() Aggregate { return &extremeAgg{sign: -1} })
	r.RegisterAggregate("max", 1, func() Aggregate { return &extremeAgg{sign: 1} })
}

// countAgg counts rows, or the non-NULL arguments.
type countAgg struct {
	star bool
	n    int64
}

func (a *countAgg) Step(args []value.Value) error {
	if a.star || !args[0].IsNull() {
		a.n++
	}
	return nil
}

func (a *countAgg) Final() (value.Value, error) { return value.Int(a.n), nil }

// sumAgg adds the non-NULL arguments. sum is NULL over no values and
// fails on integer overflow; total is always real.
type sumAgg struct {
	total  bool
	seen   bool
	isReal bool
	i      int64
	f      float64
}

func (a *sumAgg) Step(args []value.Value) error {
	if args[0].IsNull() {
		return nil
	}
	n := value.Cast(args[0], value.AffNumeric)
	a.seen = true
	if n.Kind() == value.KindReal && !a.isReal {
		a.isReal, a.f = true, float64(a.i)
	}
	if a.isReal {
		a.f += n.Float()
		return nil
	}
	x := n.Int()
	if (x > 0 && a.i > math.MaxInt64-x) || (x < 0 && a.i < math.MinInt64-x) {
		if !a.total {
			return terror.ErrType.Gen("integer overflow in sum")
		}
		a.isReal, a.f = true, float64(a.i)+float64(x)
		return nil
	}
	a.i += x
	return nil
}

func (a *sumAgg) Final() (value.Value, error) {
	switch {
	case a.total && a.isReal:
		return value.Real(a.f), nil
	case a.total:
		return value.Real(float64(a.i)), nil
	case !a.seen:
		return value.Null, nil
	case a.isReal:
		return value.Real(a.f), nil
	}
	return value.Int(a.i), nil
}

type avgAgg struct {
	sum float64
	n   int64
}

func (a *avgAgg) Step(args []value.Value) error {
	if args[0].IsNull() {
		return nil
	}
	a.sum += value.Cast(args[0], value.AffNumeric).Float()
	a.n++
	return nil
}

func (a *avgAgg) Final() (value.Value, error) {
	if a.n == 0 {
		return value.Null, nil
	}
	return value.Real(a.sum / float64(a.n)), nil
}

// extremeAgg keeps the smallest (sign -1) or largest (sign 1) non-NULL
// argument.
type extremeAgg struct {
	sign int
	seen bool
	best value.Value
}

func (a *extremeAgg) Step(args []value.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	if !a.seen || value.Compare(v, a.best, nil)*a.sign > 0 {
		a.best, a.seen = v, true
	}
	return nil
}

func (a *extremeAgg) Final() (value.Value, error) {
	if !a.seen {
		return value.Null, nil
	}
	return a.best, nil
}
