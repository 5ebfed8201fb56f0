package vdbe

import (
	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Cursor is what the interpreter needs from a cursor. Tree cursors,
// ephemeral cursors and pseudo cursors implement it.
type Cursor interface {
	IsIndex() bool
	KeyInfo() *record.KeyInfo

	First() (bool, error)
	Last() (bool, error)
	Next() (bool, error)
	Prev() (bool, error)
	SeekRowid(rowid int64, mode btree.SeekMode) (bool, error)
	Seek(key []value.Value, mode btree.SeekMode) (bool, error)

	Rowid() (int64, error)
	// Record returns the payload of a table entry or the key of an index
	// entry.
	Record() ([]byte, error)

	Insert(rowid int64, payload []byte) error
	InsertKey(key []byte) error
	Delete() error
	Count() (int64, error)
	Close()
}

// treeCursor adapts a b-tree cursor.
type treeCursor struct {
	*btree.Cursor
	ki *record.KeyInfo
}

func newTreeCursor(c *btree.Cursor, ki *record.KeyInfo) *treeCursor {
	return &treeCursor{Cursor: c, ki: ki}
}

func (c *treeCursor) IsIndex() bool { return c.Kind() == btree.IndexTree }

func (c *treeCursor) KeyInfo() *record.KeyInfo { return c.ki }

func (c *treeCursor) Record() ([]byte, error) {
	if c.IsIndex() {
		return c.Key()
	}
	return c.Payload()
}

// Rowid of an index entry is its last key field.
func (c *treeCursor) Rowid() (int64, error) {
	if !c.IsIndex() {
		return c.Cursor.Rowid()
	}
	key, err := c.Key()
	if err != nil {
		return 0, err
	}
	return keyRowid(key)
}

func keyRowid(key []byte) (int64, error) {
	n, err := record.NumFields(key)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, terror.ErrCorrupt.Gen("empty index key")
	}
	v, err := record.Column(key, n-1)
	if err != nil {
		return 0, err
	}
	return v.Int(), nil
}

// pseudoCursor is a single row whose record lives in a register.
type pseudoCursor struct {
	regs *Registers
	reg  int
}

func (c *pseudoCursor) misuse(op string) error {
	return terror.ErrMisuse.Gen("%s on a pseudo cursor", op)
}

func (c *pseudoCursor) IsIndex() bool             { return false }
func (c *pseudoCursor) KeyInfo() *record.KeyInfo  { return nil }
func (c *pseudoCursor) First() (bool, error)      { return true, nil }
func (c *pseudoCursor) Last() (bool, error)       { return true, nil }
func (c *pseudoCursor) Next() (bool, error)       { return false, nil }
func (c *pseudoCursor) Prev() (bool, error)       { return false, nil }
func (c *pseudoCursor) Count() (int64, error)     { return 1, nil }
func (c *pseudoCursor) Close()                    {}
func (c *pseudoCursor) Rowid() (int64, error)     { return 0, c.misuse("Rowid") }
func (c *pseudoCursor) Delete() error             { return c.misuse("Delete") }
func (c *pseudoCursor) InsertKey(key []byte) error { return c.misuse("InsertKey") }

func (c *pseudoCursor) SeekRowid(int64, btree.SeekMode) (bool, error) {
	return false, c.misuse("SeekRowid")
}

func (c *pseudoCursor) Seek([]value.Value, btree.SeekMode) (bool, error) {
	return false, c.misuse("Seek")
}

func (c *pseudoCursor) Insert(int64, []byte) error { return c.misuse("Insert") }

func (c *pseudoCursor) Record() ([]byte, error) {
	v, err := c.regs.Get(c.reg)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return record.Encode(nil), nil
	}
	return v.Bytes(), nil
}

// slot is one entry of the cursor table. The decoded row is cached until
// the cursor moves or any cursor writes.
type slot struct {
	cur     Cursor
	nullRow bool
	pseudo  bool

	cacheTick uint64
	cacheOK   bool
	row       []value.Value
}

// CursorTable maps integer handles to open cursors.
type CursorTable struct {
	slots []*slot
	// tick advances on every move and write, invalidating cached rows.
	tick uint64
}

func NewCursorTable(n int) *CursorTable {
	return &CursorTable{slots: make([]*slot, n)}
}

func (t *CursorTable) check(i int) error {
	if i < 0 || i >= len(t.slots) {
		return terror.ErrMisuse.Gen("cursor %d out of range", i)
	}
	return nil
}

// Open installs c under handle i, closing a cursor already open there.
func (t *CursorTable) Open(i int, c Cursor) error {
	if err := t.check(i); err != nil {
		c.Close()
		return err
	}
	if old := t.slots[i]; old != nil {
		old.cur.Close()
	}
	_, pseudo := c.(*pseudoCursor)
	t.slots[i] = &slot{cur: c, pseudo: pseudo}
	return nil
}

func (t *CursorTable) get(i int) (*slot, error) {
	if err := t.check(i); err != nil {
		return nil, err
	}
	s := t.slots[i]
	if s == nil {
		return nil, terror.ErrMisuse.Gen("cursor %d is not open", i)
	}
	return s, nil
}

// Get returns the cursor under handle i.
func (t *CursorTable) Get(i int) (Cursor, error) {
	s, err := t.get(i)
	if err != nil {
		return nil, err
	}
	return s.cur, nil
}

// Close closes the cursor under handle i, if any.
func (t *CursorTable) Close(i int) error {
	if err := t.check(i); err != nil {
		return err
	}
	if s := t.slots[i]; s != nil {
		s.cur.Close()
		t.slots[i] = nil
	}
	return nil
}

// CloseAll closes every open cursor.
func (t *CursorTable) CloseAll() {
	for i, s := range t.slots {
		if s != nil {
			s.cur.Close()
			t.slots[i] = nil
		}
	}
}

// NumOpen returns the number of open cursors.
func (t *CursorTable) NumOpen() int {
	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// NumTreeCursors returns the number of open b-tree cursors.
func (t *CursorTable) NumTreeCursors() int {
	n := 0
	for _, s := range t.slots {
		if s == nil {
			continue
		}
		if _, ok := s.cur.(*treeCursor); ok {
			n++
		}
	}
	return n
}

func (t *CursorTable) touch() { t.tick++ }

// column returns field i of the current row of s.
func (t *CursorTable) column(s *slot, i int) (value.Value, bool, error) {
	if s.nullRow {
		return value.Null, true, nil
	}
	if s.pseudo {
		rec, err := s.cur.Record()
		if err != nil {
			return value.Null, false, err
		}
		n, err := record.NumFields(rec)
		if err != nil {
			return value.Null, false, err
		}
		if i >= n {
			return value.Null, false, nil
		}
		v, err := record.Column(rec, i)
		return v, true, err
	}
	if !s.cacheOK || s.cacheTick != t.tick {
		rec, err := s.cur.Record()
		if err != nil {
			return value.Null, false, err
		}
		row, err := record.Decode(rec)
		if err != nil {
			return value.Null, false, err
		}
		s.row, s.cacheOK, s.cacheTick = row, true, t.tick
	}
	if i >= len(s.row) {
		return value.Null, false, nil
	}
	return s.row[i], true, nil
}
