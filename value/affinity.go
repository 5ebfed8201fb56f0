package value

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Affinity is the preferred storage class of a column. The byte values are
// the characters used in affinity strings.
type Affinity byte

const (
	AffNone    Affinity = 'A'
	AffBlob    Affinity = 'A'
	AffText    Affinity = 'B'
	AffNumeric Affinity = 'C'
	AffInteger Affinity = 'D'
	AffReal    Affinity = 'E'
)

func (a Affinity) String() string {
	switch a {
	case AffBlob:
		return "BLOB"
	case AffText:
		return "TEXT"
	case AffNumeric:
		return "NUMERIC"
	case AffInteger:
		return "INTEGER"
	case AffReal:
		return "REAL"
	}
	return "NONE"
}

// ParseAffinity maps a type name to an affinity by the usual substring
// rules: INT, CHAR/CLOB/TEXT, BLOB or empty, REAL/FLOA/DOUB, else NUMERIC.
func ParseAffinity(typeName string) Affinity {
	t := strings.ToUpper(typeName)
	switch {
	case strings.Contains(t, "INT"):
		return AffInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return AffText
	case t == "", strings.Contains(t, "BLOB"):
		return AffBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return AffReal
	}
	return AffNumeric
}

var (
	maxInt = decimal.New(math.MaxInt64, 0)
	minInt = decimal.New(math.MinInt64, 0)
)

// parseNumber parses s as a whole number. ok is false when s, ignoring
// surrounding spaces, is not a number.
func parseNumber(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !looksNumeric(s) {
		return Null, false
	}
	if !strings.ContainsAny(s, ".eE") {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Null, false
		}
		if d.Cmp(maxInt) <= 0 && d.Cmp(minInt) >= 0 {
			return Int(d.IntPart()), true
		}
	}
	// out of range exponents give an infinity or zero
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Null, false
	}
	return Real(f), true
}

// looksNumeric rejects forms the parsers accept that are not numeric
// literals.
func looksNumeric(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '.', c == '-', c == '+', c == 'e', c == 'E':
		default:
			return false
		}
	}
	return true
}

// numericPrefix returns the longest prefix of s that is a number.
func numericPrefix(s string) string {
	s = strings.TrimLeft(s, " \t\n\r")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		if k > j {
			i = k
		}
	}
	return strings.TrimSuffix(s[:i], ".")
}

// integral reports whether f has no fractional part and fits an int64.
func integral(f float64) bool {
	return f == math.Trunc(f) && f >= -9.2233720368547758e18 && f < 9.2233720368547758e18
}

// Apply coerces v toward aff. It never fails: a value that cannot be
// converted is returned unchanged.
func Apply(v Value, aff Affinity) Value {
	switch aff {
	case AffText:
		if v.IsNumeric() {
			return Text(v.Str())
		}
	case AffNumeric, AffInteger:
		switch v.kind {
		case KindText:
			if n, ok := parseNumber(v.s); ok {
				if n.kind == KindReal && integral(n.f) {
					return Int(int64(n.f))
				}
				return n
			}
		case KindReal:
			if integral(v.f) {
				return Int(int64(v.f))
			}
		}
	case AffReal:
		switch v.kind {
		case KindText:
			if n, ok := parseNumber(v.s); ok {
				return Real(n.Float())
			}
		case KindInteger:
			return Real(float64(v.i))
		}
	}
	return v
}

// Cast converts v to aff the way CAST does: text that is not a number
// becomes 0, and NULL stays NULL.
func Cast(v Value, aff Affinity) Value {
	if v.kind == KindNull {
		return v
	}
	switch aff {
	case AffText:
		return Text(v.Str())
	case AffBlob:
		if v.kind == KindBlob {
			return v
		}
		return Blob([]byte(v.Str()))
	case AffInteger:
		switch v.kind {
		case KindInteger:
			return v
		case KindReal:
			return Int(realToInt(v.f))
		}
		n := prefixNumber(v.Str())
		if n.kind == KindReal {
			return Int(realToInt(n.f))
		}
		return n
	case AffReal:
		switch v.kind {
		case KindInteger:
			return Real(float64(v.i))
		case KindReal:
			return v
		}
		return Real(prefixNumber(v.Str()).Float())
	case AffNumeric:
		if v.IsNumeric() {
			return v
		}
		n := prefixNumber(v.Str())
		if n.kind == KindReal && integral(n.f) {
			return Int(int64(n.f))
		}
		return n
	}
	return v
}

func prefixNumber(s string) Value {
	p := numericPrefix(s)
	if p == "" {
		return Int(0)
	}
	if n, ok := parseNumber(p); ok {
		return n
	}
	return Int(0)
}
