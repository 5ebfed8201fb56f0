package vdbe

import (
	gbtree "github.com/google/btree"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

const ephemeralDegree = 16

type ephRow struct {
	rowid int64
	rec   []byte        // payload of a table row, the key of an index entry
	key   []value.Value // decoded key of an index entry
}

// ephemeral is a transient table or index kept in memory for the life of
// the cursor.
type ephemeral struct {
	ki    *record.KeyInfo
	index bool
	tree  *gbtree.BTreeG[*ephRow]
	cur   *ephRow
	// gone is set when cur was deleted; moves continue from its place.
	gone bool
}

func newEphemeral(ki *record.KeyInfo) *ephemeral {
	e := &ephemeral{ki: ki, index: ki != nil}
	e.tree = gbtree.NewG(ephemeralDegree, e.less)
	return e
}

func (e *ephemeral) less(a, b *ephRow) bool {
	if !e.index {
		return a.rowid < b.rowid
	}
	if c := e.ki.CompareValues(a.key, b.key); c != 0 {
		return c < 0
	}
	return len(a.key) < len(b.key)
}

func (e *ephemeral) IsIndex() bool            { return e.index }
func (e *ephemeral) KeyInfo() *record.KeyInfo { return e.ki }
func (e *ephemeral) Count() (int64, error)    { return int64(e.tree.Len()), nil }
func (e *ephemeral) Close()                   { e.tree.Clear(false) }

func (e *ephemeral) land(r *ephRow, ok bool) (bool, error) {
	e.gone = false
	if !ok {
		e.cur = nil
		return false, nil
	}
	e.cur = r
	return true, nil
}

func (e *ephemeral) First() (bool, error) { return e.land(e.tree.Min()) }

func (e *ephemeral) Last() (bool, error) { return e.land(e.tree.Max()) }

// after returns the first row strictly after pivot.
func (e *ephemeral) after(pivot *ephRow) (*ephRow, bool) {
	var out *ephRow
	e.tree.AscendGreaterOrEqual(pivot, func(r *ephRow) bool {
		if !e.less(pivot, r) {
			return true
		}
		out = r
		return false
	})
	return out, out != nil
}

// before returns the last row strictly before pivot.
func (e *ephemeral) before(pivot *ephRow) (*ephRow, bool) {
	var out *ephRow
	e.tree.DescendLessOrEqual(pivot, func(r *ephRow) bool {
		if !e.less(r, pivot) {
			return true
		}
		out = r
		return false
	})
	return out, out != nil
}

func (e *ephemeral) Next() (bool, error) {
	if e.cur == nil {
		return false, nil
	}
	return e.land(e.after(e.cur))
}

func (e *ephemeral) Prev() (bool, error) {
	if e.cur == nil {
		return false, nil
	}
	return e.land(e.before(e.cur))
}

func (e *ephemeral) SeekRowid(rowid int64, mode btree.SeekMode) (bool, error) {
	if e.index {
		return false, terror.ErrMisuse.Gen("rowid seek on an ephemeral index")
	}
	pivot := &ephRow{rowid: rowid}
	switch mode {
	case btree.SeekEQ:
		return e.land(e.tree.Get(pivot))
	case btree.SeekGE:
		if r, ok := e.tree.Get(pivot); ok {
			return e.land(r, ok)
		}
		return e.land(e.after(pivot))
	case btree.SeekGT:
		return e.land(e.after(pivot))
	case btree.SeekLE:
		if r, ok := e.tree.Get(pivot); ok {
			return e.land(r, ok)
		}
		return e.land(e.before(pivot))
	case btree.SeekLT:
		return e.land(e.before(pivot))
	}
	return false, terror.ErrMisuse.Gen("bad seek mode %d", mode)
}

// Seek positions by a possibly partial key. Rows whose key starts with
// the probe match it.
func (e *ephemeral) Seek(key []value.Value, mode btree.SeekMode) (bool, error) {
	if !e.index {
		return false, terror.ErrMisuse.Gen("key seek on an ephemeral table")
	}
	pivot := &ephRow{key: key}
	cmp := func(r *ephRow) int { return e.ki.CompareValues(r.key, key) }

	// first row not below the probe; prefix matches sort after the pivot
	first, ok := e.tree.Get(pivot)
	if !ok {
		first, ok = e.after(pivot)
	}
	switch mode {
	case btree.SeekGE:
		return e.land(first, ok)
	case btree.SeekEQ:
		return e.land(first, ok && cmp(first) == 0)
	case btree.SeekGT:
		for ok && cmp(first) == 0 {
			first, ok = e.after(first)
		}
		return e.land(first, ok)
	case btree.SeekLE:
		var last *ephRow
		for ok && cmp(first) == 0 {
			last = first
			first, ok = e.after(first)
		}
		if last != nil {
			return e.land(last, true)
		}
		return e.land(e.before(pivot))
	case btree.SeekLT:
		r, ok := e.before(pivot)
		for ok && cmp(r) == 0 {
			r, ok = e.before(r)
		}
		return e.land(r, ok)
	}
	return false, terror.ErrMisuse.Gen("bad seek mode %d", mode)
}

func (e *ephemeral) current() (*ephRow, error) {
	if e.cur == nil || e.gone {
		return nil, terror.ErrMisuse.Gen("ephemeral cursor is not on a row")
	}
	return e.cur, nil
}

func (e *ephemeral) Rowid() (int64, error) {
	r, err := e.current()
	if err != nil {
		return 0, err
	}
	if e.index {
		return keyRowid(r.rec)
	}
	return r.rowid, nil
}

func (e *ephemeral) Record() ([]byte, error) {
	r, err := e.current()
	if err != nil {
		return nil, err
	}
	return r.rec, nil
}

func (e *ephemeral) Insert(rowid int64, payload []byte) error {
	if e.index {
		return terror.ErrMisuse.Gen("rowid insert into an ephemeral index")
	}
	r := &ephRow{rowid: rowid, rec: append([]byte(nil), payload...)}
	e.tree.ReplaceOrInsert(r)
	e.cur, e.gone = r, false
	return nil
}

func (e *ephemeral) InsertKey(key []byte) error {
	if !e.index {
		return terror.ErrMisuse.Gen("key insert into an ephemeral table")
	}
	vals, err := record.Decode(key)
	if err != nil {
		return err
	}
	r := &ephRow{rec: append([]byte(nil), key...), key: vals}
	e.tree.ReplaceOrInsert(r)
	e.cur, e.gone = r, false
	return nil
}

func (e *ephemeral) Delete() error {
	r, err := e.current()
	if err != nil {
		return err
	}
	e.tree.Delete(r)
	e.gone = true
	return nil
}
