package value

import (
	"bytes"
	"strings"
)

// Collation orders two text values.
type Collation func(a, b string) int

// Built-in collations.
var (
	Binary Collation = strings.Compare
	NoCase Collation = func(a, b string) int {
		return strings.Compare(foldASCII(a), foldASCII(b))
	}
	RTrim Collation = func(a, b string) int {
		return strings.Compare(strings.TrimRight(a, " "), strings.TrimRight(b, " "))
	}
)

var collations = map[string]Collation{
	"BINARY": Binary,
	"NOCASE": NoCase,
	"RTRIM":  RTrim,
}

// LookupCollation returns the named collation, case-insensitively. The
// empty name is BINARY.
func LookupCollation(name string) (Collation, bool) {
	if name == "" {
		return Binary, true
	}
	c, ok := collations[strings.ToUpper(name)]
	return c, ok
}

// foldASCII lowercases ASCII letters only.
func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// Compare orders a and b: NULL < numbers < text < blob. Numbers compare by
// value across integer and real, text by coll (BINARY when nil), blobs
// byte-wise.
func Compare(a, b Value, coll Collation) int {
	ca, cb := sortClass(a.kind), sortClass(b.kind)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch ca {
	case 0:
		return 0
	case 1:
		return compareNumbers(a, b)
	case 2:
		if coll == nil {
			coll = Binary
		}
		return coll(a.s, b.s)
	default:
		return bytes.Compare(a.b, b.b)
	}
}

func sortClass(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInteger, KindReal:
		return 1
	case KindText:
		return 2
	}
	return 3
}

func compareNumbers(a, b Value) int {
	if a.kind == KindInteger && b.kind == KindInteger {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	if a.kind == KindInteger {
		return -compareIntReal(b.f, a.i)
	}
	if b.kind == KindInteger {
		return compareIntReal(a.f, b.i)
	}
	switch {
	case a.f < b.f:
		return -1
	case a.f > b.f:
		return 1
	}
	return 0
}

// compareIntReal compares f with i without losing integer precision when
// f is integral.
func compareIntReal(f float64, i int64) int {
	if f != f {
		return -1
	}
	if integral(f) {
		fi := int64(f)
		switch {
		case fi < i:
			return -1
		case fi > i:
			return 1
		}
		return 0
	}
	switch {
	case f < float64(i):
		return -1
	case f > float64(i):
		return 1
	}
	return 0
}

// Equal reports whether a and b have the same kind and content.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	return Compare(a, b, Binary) == 0
}
