package value

import (
	"math"

	"github.com/zhukovaskychina/xvdbe/terror"
)

// Op is a binary arithmetic operator.
type Op uint8

const (
	OpAdd Op = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpRemainder
)

var opNames = [...]string{"+", "-", "*", "/", "%"}

func (o Op) String() string { return opNames[o] }

// operand coerces v for arithmetic. Text that is not a number and blobs
// are type errors.
func operand(v Value) (Value, error) {
	switch v.kind {
	case KindInteger, KindReal, KindNull:
		return v, nil
	case KindText:
		if n, ok := parseNumber(v.s); ok {
			return n, nil
		}
		return Null, terror.ErrType.Gen("cannot use text %q in arithmetic", v.s)
	}
	return Null, terror.ErrType.Gen("cannot use a blob in arithmetic")
}

// Arith computes a op b. NULL operands give NULL, division by zero gives
// NULL, and integer overflow falls back to real arithmetic.
func Arith(op Op, a, b Value) (Value, error) {
	a, err := operand(a)
	if err != nil {
		return Null, err
	}
	b, err = operand(b)
	if err != nil {
		return Null, err
	}
	if a.IsNull() || b.IsNull() {
		return Null, nil
	}

	if a.kind == KindInteger && b.kind == KindInteger {
		if r, ok := intArith(op, a.i, b.i); ok {
			return r, nil
		}
	}
	return realArith(op, a.Float(), b.Float()), nil
}

// intArith reports ok=false when the result does not fit an int64.
func intArith(op Op, x, y int64) (Value, bool) {
	switch op {
	case OpAdd:
		r := x + y
		if (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0) {
			return Null, false
		}
		return Int(r), true
	case OpSubtract:
		r := x - y
		if (x >= 0 && y < 0 && r < 0) || (x < 0 && y > 0 && r >= 0) {
			return Null, false
		}
		return Int(r), true
	case OpMultiply:
		if x == 0 || y == 0 {
			return Int(0), true
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return Null, false
		}
		return Int(r), true
	case OpDivide:
		if y == 0 {
			return Null, true
		}
		if x == math.MinInt64 && y == -1 {
			return Null, false
		}
		return Int(x / y), true
	case OpRemainder:
		if y == 0 {
			return Null, true
		}
		if y == -1 {
			return Int(0), true
		}
		return Int(x % y), true
	}
	return Null, true
}

func realArith(op Op, x, y float64) Value {
	switch op {
	case OpAdd:
		return Real(x + y)
	case OpSubtract:
		return Real(x - y)
	case OpMultiply:
		return Real(x * y)
	case OpDivide:
		if y == 0 {
			return Null
		}
		return Real(x / y)
	case OpRemainder:
		if y == 0 {
			return Null
		}
		return Real(math.Mod(x, y))
	}
	return Null
}

// Negate returns -v.
func Negate(v Value) (Value, error) {
	v, err := operand(v)
	if err != nil || v.IsNull() {
		return Null, err
	}
	if v.kind == KindInteger {
		if v.i == math.MinInt64 {
			return Real(-float64(v.i)), nil
		}
		return Int(-v.i), nil
	}
	return Real(-v.f), nil
}

// Concat joins the text forms of a and b. A NULL operand gives NULL.
func Concat(a, b Value) Value {
	if a.IsNull() || b.IsNull() {
		return Null
	}
	return Text(a.Str() + b.Str())
}

// Truth returns the boolean meaning of v. null is true for NULL.
func Truth(v Value) (truth, null bool) {
	switch v.kind {
	case KindNull:
		return false, true
	case KindInteger:
		return v.i != 0, false
	case KindReal:
		return v.f != 0, false
	}
	return Cast(v, AffNumeric).Float() != 0, false
}

// Not is three-valued negation.
func Not(v Value) Value {
	t, null := Truth(v)
	if null {
		return Null
	}
	return Bool(!t)
}

// And is three-valued conjunction: false wins over NULL.
func And(a, b Value) Value {
	ta, na := Truth(a)
	tb, nb := Truth(b)
	switch {
	case (!na && !ta) || (!nb && !tb):
		return Int(0)
	case na || nb:
		return Null
	}
	return Int(1)
}

// Or is three-valued disjunction: true wins over NULL.
func Or(a, b Value) Value {
	ta, na := Truth(a)
	tb, nb := Truth(b)
	switch {
	case (!na && ta) || (!nb && tb):
		return Int(1)
	case na || nb:
		return Null
	}
	return Int(0)
}
