package record

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// KeyInfo describes how the fields of an index key compare. Fields without
// a collation use BINARY. A nil *KeyInfo compares everything as BINARY.
type KeyInfo struct {
	Colls []value.Collation
	Names []string
}

// NewKeyInfo resolves collation names, one per key field.
func NewKeyInfo(names ...string) (*KeyInfo, error) {
	ki := &KeyInfo{Colls: make([]value.Collation, len(names)), Names: names}
	for i, name := range names {
		c, ok := value.LookupCollation(name)
		if !ok {
			return nil, terror.ErrMisuse.Gen("no such collation sequence: %s", name)
		}
		ki.Colls[i] = c
	}
	return ki, nil
}

func (ki *KeyInfo) coll(i int) value.Collation {
	if ki == nil || i >= len(ki.Colls) || ki.Colls[i] == nil {
		return value.Binary
	}
	return ki.Colls[i]
}

// CompareValues compares two unpacked keys field by field. When one key is
// a prefix of the other they compare equal, so a partial probe matches
// every key it prefixes.
func (ki *KeyInfo) CompareValues(a, b []value.Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := value.Compare(a[i], b[i], ki.coll(i)); c != 0 {
			return c
		}
	}
	return 0
}

// Compare compares probe against the packed key rec.
func (ki *KeyInfo) Compare(probe []value.Value, rec []byte) (int, error) {
	h, err := parseHeader(rec)
	if err != nil {
		return 0, err
	}
	n := len(probe)
	if len(h.types) < n {
		n = len(h.types)
	}
	for i := 0; i < n; i++ {
		if c := value.Compare(probe[i], h.column(rec, i), ki.coll(i)); c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// CompareRecords compares two packed keys. Equal prefixes order the shorter
// key first.
func (ki *KeyInfo) CompareRecords(a, b []byte) (int, error) {
	va, err := Decode(a)
	if err != nil {
		return 0, err
	}
	vb, err := Decode(b)
	if err != nil {
		return 0, err
	}
	if c := ki.CompareValues(va, vb); c != 0 {
		return c, nil
	}
	switch {
	case len(va) < len(vb):
		return -1, nil
	case len(va) > len(vb):
		return 1, nil
	}
	return 0, nil
}
