// Package value implements the dynamically typed values held in registers
// and records.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the storage class of a Value. Kinds are declared in sort order.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

var kindNames = [...]string{"null", "integer", "real", "text", "blob"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is an immutable tagged value. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

var Null = Value{}

func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

func Real(f float64) Value { return Value{kind: KindReal, f: f} }

func Text(s string) Value { return Value{kind: KindText, s: s} }

// Blob wraps b without copying it.
func Blob(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBlob, b: b}
}

func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsNumeric() bool { return v.kind == KindInteger || v.kind == KindReal }

// Int returns the integer form of v. Reals are truncated and text is parsed
// by its longest numeric prefix.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return realToInt(v.f)
	case KindText:
		return Cast(v, AffInteger).i
	case KindBlob:
		return Cast(Text(string(v.b)), AffInteger).i
	}
	return 0
}

// Float returns the float form of v.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInteger:
		return float64(v.i)
	case KindReal:
		return v.f
	case KindText:
		return Cast(v, AffReal).f
	case KindBlob:
		return Cast(Text(string(v.b)), AffReal).f
	}
	return 0
}

// Str renders v as text. NULL renders as the empty string.
func (v Value) Str() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return formatReal(v.f)
	case KindText:
		return v.s
	case KindBlob:
		return string(v.b)
	}
	return ""
}

// Bytes returns the blob content, or the text rendering of other kinds.
func (v Value) Bytes() []byte {
	if v.kind == KindBlob {
		return v.b
	}
	if v.kind == KindNull {
		return nil
	}
	return []byte(v.Str())
}

// Size is the payload size in bytes of a text or blob value.
func (v Value) Size() int {
	switch v.kind {
	case KindText:
		return len(v.s)
	case KindBlob:
		return len(v.b)
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	}
	return v.Str()
}

func formatReal(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func realToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
