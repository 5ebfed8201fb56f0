package btree

import (
	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// SeekMode selects which entry a seek lands on relative to the probe.
type SeekMode uint8

const (
	SeekEQ SeekMode = iota
	SeekGE
	SeekGT
	SeekLE
	SeekLT
)

func (m SeekMode) String() string {
	return [...]string{"EQ", "GE", "GT", "LE", "LT"}[m]
}

// probe is a search key: a rowid for tables, a possibly partial unpacked
// key for indexes.
type probe struct {
	rowid int64
	key   []value.Value
}

// Cursor walks the entries of one tree in key order.
type Cursor struct {
	tx       *Tx
	root     uint32
	kind     Kind
	ki       *record.KeyInfo
	writable bool

	path   []frame
	valid  bool
	closed bool

	// gen is the tree generation the path was built under. The saved key
	// lets the cursor find its place again after the tree changed.
	gen        uint64
	hasSaved   bool
	savedRowid int64
	savedKey   []byte
	stale      bool
}

func (c *Cursor) Root() uint32 { return c.root }

func (c *Cursor) Kind() Kind { return c.kind }

// Valid reports whether the cursor stands on an entry.
func (c *Cursor) Valid() bool { return c.valid && !c.closed }

// Close detaches the cursor from its transaction.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.valid = false
	for i, o := range c.tx.cursors {
		if o == c {
			c.tx.cursors = append(c.tx.cursors[:i], c.tx.cursors[i+1:]...)
			break
		}
	}
}

func (c *Cursor) check() error {
	if c.closed {
		return terror.ErrMisuse.Gen("cursor on tree %d is closed", c.root)
	}
	if c.tx.ptx.Done() {
		return terror.ErrTxDone
	}
	return nil
}

// cmp returns the sign of (cell key - probe).
func (c *Cursor) cmp(cl *cell, p *probe) (int, error) {
	if c.kind == TableTree {
		switch {
		case cl.rowid < p.rowid:
			return -1, nil
		case cl.rowid > p.rowid:
			return 1, nil
		}
		return 0, nil
	}
	r, err := c.ki.Compare(p.key, cl.key)
	return -r, err
}

// bound returns the first cell index whose key is >= p, or > p when strict.
func (c *Cursor) bound(n *node, p *probe, strict bool) (int, error) {
	lo, hi := 0, len(n.cells)
	for lo < hi {
		mid := (lo + hi) / 2
		r, err := c.cmp(&n.cells[mid], p)
		if err != nil {
			return 0, err
		}
		if r < 0 || (strict && r == 0) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// descend extends the path from pgno down to a leaf, taking the child that
// pick selects at each interior node. The leaf frame's index is left 0.
func (c *Cursor) descend(pgno uint32, pick func(n *node) (int, error)) error {
	for {
		if len(c.path) > maxDepth {
			return terror.ErrCorrupt.GenWithPage(pgno, "tree %d deeper than %d", c.root, maxDepth)
		}
		for _, f := range c.path {
			if f.n.pgno == pgno {
				return terror.ErrCycle.GenWithPage(pgno, "page %d appears twice on a path of tree %d", pgno, c.root)
			}
		}
		n, err := c.tx.load(pgno)
		if err != nil {
			return err
		}
		if len(c.path) > 0 && n.table() != (c.kind == TableTree) {
			return badPage(pgno, "page %d has the wrong kind for tree %d", pgno, c.root)
		}
		if n.leaf() {
			c.path = append(c.path, frame{n: n})
			return nil
		}
		i, err := pick(n)
		if err != nil {
			return err
		}
		c.path = append(c.path, frame{n: n, ci: i})
		pgno = n.child(i)
	}
}

func leftmost(*node) (int, error) { return 0, nil }

func rightmost(n *node) (int, error) { return len(n.cells), nil }

func (c *Cursor) leaf() *frame { return &c.path[len(c.path)-1] }

// locate descends to the leaf where p belongs and points at the first cell
// >= p (or > p when strict), possibly one past the last cell.
func (c *Cursor) locate(p *probe, strict bool) error {
	c.path = c.path[:0]
	c.gen = c.tx.gen(c.root)
	err := c.descend(c.root, func(n *node) (int, error) { return c.bound(n, p, strict) })
	if err != nil {
		c.valid = false
		return err
	}
	leaf := c.leaf()
	leaf.ci, err = c.bound(leaf.n, p, strict)
	return err
}

// seekBound positions on the first entry >= p (> p when strict).
func (c *Cursor) seekBound(p *probe, strict bool) (bool, error) {
	if err := c.locate(p, strict); err != nil {
		return false, err
	}
	c.valid = true
	if c.leaf().ci >= len(c.leaf().n.cells) {
		return c.nextLeaf()
	}
	return true, nil
}

// nextLeaf moves to the first entry of the next non-empty leaf.
func (c *Cursor) nextLeaf() (bool, error) {
	for {
		level := len(c.path) - 2
		for level >= 0 && c.path[level].ci >= len(c.path[level].n.cells) {
			level--
		}
		if level < 0 {
			c.valid = false
			return false, nil
		}
		c.path[level].ci++
		c.path = c.path[:level+1]
		if err := c.descend(c.path[level].n.child(c.path[level].ci), leftmost); err != nil {
			c.valid = false
			return false, err
		}
		if len(c.leaf().n.cells) > 0 {
			c.leaf().ci = 0
			c.valid = true
			return true, nil
		}
	}
}

// prevLeaf moves to the last entry of the previous non-empty leaf.
func (c *Cursor) prevLeaf() (bool, error) {
	for {
		level := len(c.path) - 2
		for level >= 0 && c.path[level].ci == 0 {
			level--
		}
		if level < 0 {
			c.valid = false
			return false, nil
		}
		c.path[level].ci--
		c.path = c.path[:level+1]
		if err := c.descend(c.path[level].n.child(c.path[level].ci), rightmost); err != nil {
			c.valid = false
			return false, err
		}
		if n := len(c.leaf().n.cells); n > 0 {
			c.leaf().ci = n - 1
			c.valid = true
			return true, nil
		}
	}
}

func (c *Cursor) step(dir int) (bool, error) {
	leaf := c.leaf()
	if dir > 0 {
		leaf.ci++
		if leaf.ci < len(leaf.n.cells) {
			return true, nil
		}
		return c.nextLeaf()
	}
	leaf.ci--
	if leaf.ci >= 0 {
		return true, nil
	}
	return c.prevLeaf()
}

// save remembers the key under the cursor.
func (c *Cursor) save() {
	if !c.valid {
		c.hasSaved = false
		return
	}
	cl := &c.leaf().n.cells[c.leaf().ci]
	c.hasSaved = true
	if c.kind == TableTree {
		c.savedRowid = cl.rowid
	} else {
		c.savedKey = append(c.savedKey[:0], cl.key...)
	}
	c.gen = c.tx.gen(c.root)
}

func (c *Cursor) savedProbe() (*probe, error) {
	if c.kind == TableTree {
		return &probe{rowid: c.savedRowid}, nil
	}
	vals, err := record.Decode(c.savedKey)
	if err != nil {
		return nil, err
	}
	return &probe{key: vals}, nil
}

func (c *Cursor) exact(p *probe) (bool, error) {
	if !c.valid {
		return false, nil
	}
	r, err := c.cmp(&c.leaf().n.cells[c.leaf().ci], p)
	return r == 0, err
}

// restore rebuilds the path of a cursor whose tree changed. It reports
// whether the cursor now already stands where a move in direction dir
// would have taken it, which is the case when its entry was deleted.
func (c *Cursor) restore(dir int) (bool, error) {
	if !c.stale && c.gen == c.tx.gen(c.root) {
		return false, nil
	}
	c.stale = false
	if !c.hasSaved {
		c.valid = false
		c.gen = c.tx.gen(c.root)
		return false, nil
	}
	p, err := c.savedProbe()
	if err != nil {
		return false, err
	}

	var ok bool
	if dir < 0 {
		ok, err = c.seekBound(p, true)
		if err == nil {
			if ok {
				ok, err = c.step(-1)
			} else {
				ok, err = c.last()
			}
		}
	} else {
		ok, err = c.seekBound(p, false)
	}
	if err != nil {
		return false, err
	}
	exact, err := c.exact(p)
	if err != nil {
		return false, err
	}
	if dir == 0 {
		if !exact {
			c.valid = false
		}
		return false, nil
	}
	if !ok {
		return true, nil
	}
	return !exact, nil
}

func (c *Cursor) first() (bool, error) {
	c.path = c.path[:0]
	c.gen = c.tx.gen(c.root)
	c.stale = false
	if err := c.descend(c.root, leftmost); err != nil {
		c.valid = false
		return false, err
	}
	c.valid = true
	if len(c.leaf().n.cells) == 0 {
		return c.nextLeaf()
	}
	return true, nil
}

func (c *Cursor) last() (bool, error) {
	c.path = c.path[:0]
	c.gen = c.tx.gen(c.root)
	c.stale = false
	if err := c.descend(c.root, rightmost); err != nil {
		c.valid = false
		return false, err
	}
	c.valid = true
	if n := len(c.leaf().n.cells); n > 0 {
		c.leaf().ci = n - 1
		return true, nil
	}
	return c.prevLeaf()
}

// First moves to the smallest entry and reports whether there is one.
func (c *Cursor) First() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ok, err := c.first()
	c.save()
	return ok, err
}

// Last moves to the largest entry.
func (c *Cursor) Last() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	ok, err := c.last()
	c.save()
	return ok, err
}

// Next moves to the following entry. After Delete it moves to the entry
// that followed the deleted one.
func (c *Cursor) Next() (bool, error) {
	return c.move(1)
}

// Prev moves to the preceding entry.
func (c *Cursor) Prev() (bool, error) {
	return c.move(-1)
}

func (c *Cursor) move(dir int) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	moved, err := c.restore(dir)
	if err != nil {
		return false, err
	}
	if !moved {
		if !c.valid {
			return false, nil
		}
		if _, err := c.step(dir); err != nil {
			return false, err
		}
	}
	c.save()
	return c.valid, nil
}

// SeekRowid positions a table cursor relative to rowid. For SeekEQ the
// result reports an exact match; otherwise whether an entry qualifies.
func (c *Cursor) SeekRowid(rowid int64, mode SeekMode) (bool, error) {
	if c.kind != TableTree {
		return false, terror.ErrMisuse.Gen("rowid seek on index tree %d", c.root)
	}
	return c.seek(&probe{rowid: rowid}, mode)
}

// Seek positions an index cursor relative to key, which may hold fewer
// fields than the stored keys: the missing fields match anything.
func (c *Cursor) Seek(key []value.Value, mode SeekMode) (bool, error) {
	if c.kind != IndexTree {
		return false, terror.ErrMisuse.Gen("key seek on table tree %d", c.root)
	}
	return c.seek(&probe{key: key}, mode)
}

func (c *Cursor) seek(p *probe, mode SeekMode) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	c.stale = false

	var ok bool
	var err error
	switch mode {
	case SeekEQ:
		ok, err = c.seekBound(p, false)
		if err == nil && ok {
			ok, err = c.exact(p)
			if !ok {
				c.valid = false
			}
		}
	case SeekGE:
		ok, err = c.seekBound(p, false)
	case SeekGT:
		ok, err = c.seekBound(p, true)
	case SeekLE, SeekLT:
		// one before the first entry > p (LE) or >= p (LT)
		ok, err = c.seekBound(p, mode == SeekLE)
		if err == nil {
			if ok {
				ok, err = c.step(-1)
			} else {
				ok, err = c.last()
			}
		}
	default:
		return false, terror.ErrMisuse.Gen("bad seek mode %d", mode)
	}
	if err != nil {
		c.valid = false
		return false, err
	}
	c.save()
	return ok, nil
}

func (c *Cursor) current() (*cell, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if _, err := c.restore(0); err != nil {
		return nil, err
	}
	if !c.valid {
		return nil, terror.ErrMisuse.Gen("cursor on tree %d is not on an entry", c.root)
	}
	return &c.leaf().n.cells[c.leaf().ci], nil
}

// Rowid returns the rowid of the current table entry.
func (c *Cursor) Rowid() (int64, error) {
	if c.kind != TableTree {
		return 0, terror.ErrMisuse.Gen("rowid of index tree %d", c.root)
	}
	cl, err := c.current()
	if err != nil {
		return 0, err
	}
	return cl.rowid, nil
}

// Payload returns the payload of the current table entry, following its
// overflow chain. The result must not be modified.
func (c *Cursor) Payload() ([]byte, error) {
	if c.kind != TableTree {
		return nil, terror.ErrMisuse.Gen("payload of index tree %d", c.root)
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return c.tx.payload(cl)
}

// Key returns the current index key. The result must not be modified.
func (c *Cursor) Key() ([]byte, error) {
	if c.kind != IndexTree {
		return nil, terror.ErrMisuse.Gen("key of table tree %d", c.root)
	}
	cl, err := c.current()
	if err != nil {
		return nil, err
	}
	return cl.key, nil
}

func (c *Cursor) writeCheck() error {
	if err := c.check(); err != nil {
		return err
	}
	if !c.writable {
		return terror.ErrReadOnly.Gen("cursor on tree %d is read-only", c.root)
	}
	return c.tx.writeCheck()
}

// Insert stores payload under rowid, replacing an existing entry. The
// cursor is left on the new entry.
func (c *Cursor) Insert(rowid int64, payload []byte) error {
	if err := c.writeCheck(); err != nil {
		return err
	}
	if c.kind != TableTree {
		return terror.ErrMisuse.Gen("rowid insert into index tree %d", c.root)
	}
	p := &probe{rowid: rowid}
	if err := c.locate(p, false); err != nil {
		return err
	}

	nc, err := c.tx.newTableLeafCell(rowid, payload)
	if err != nil {
		return err
	}
	leaf := c.leaf()
	if leaf.ci < len(leaf.n.cells) && leaf.n.cells[leaf.ci].rowid == rowid {
		if old := leaf.n.cells[leaf.ci].ovfl; old != 0 {
			if err := c.tx.freeOverflow(old); err != nil {
				return err
			}
		}
		leaf.n.cells[leaf.ci] = nc
	} else {
		leaf.n.insertCell(leaf.ci, nc)
	}
	return c.finishWrite(p)
}

// InsertKey adds key to an index tree. Keys longer than the local limit
// fail with terror.ErrKeyTooLarge. An equal key is replaced.
func (c *Cursor) InsertKey(key []byte) error {
	if err := c.writeCheck(); err != nil {
		return err
	}
	if c.kind != IndexTree {
		return terror.ErrMisuse.Gen("key insert into table tree %d", c.root)
	}
	if len(key) > c.tx.e.maxLocal {
		return terror.ErrKeyTooLarge.Gen("index key of %d bytes exceeds %d", len(key), c.tx.e.maxLocal)
	}
	vals, err := record.Decode(key)
	if err != nil {
		return err
	}
	p := &probe{key: vals}
	if err := c.locate(p, false); err != nil {
		return err
	}

	nc := indexLeafCell(key)
	leaf := c.leaf()
	replace := false
	if leaf.ci < len(leaf.n.cells) {
		r, err := c.ki.CompareRecords(leaf.n.cells[leaf.ci].key, key)
		if err != nil {
			return err
		}
		replace = r == 0
	}
	if replace {
		leaf.n.cells[leaf.ci] = nc
	} else {
		leaf.n.insertCell(leaf.ci, nc)
	}
	return c.finishWrite(p)
}

func (c *Cursor) finishWrite(p *probe) error {
	if err := c.tx.balance(c.path[:len(c.path)-1], c.leaf().n); err != nil {
		c.valid = false
		return err
	}
	c.tx.bump(c.root)
	_, err := c.seek(p, SeekEQ)
	return err
}

// Delete removes the current entry. The cursor stays between the
// neighbours of the deleted entry: Next returns the one after it and Prev
// the one before.
func (c *Cursor) Delete() error {
	if err := c.writeCheck(); err != nil {
		return err
	}
	cl, err := c.current()
	if err != nil {
		return err
	}
	if cl.ovfl != 0 {
		if err := c.tx.freeOverflow(cl.ovfl); err != nil {
			return err
		}
	}
	c.save()
	leaf := c.leaf()
	leaf.n.removeCell(leaf.ci)
	if err := c.tx.balance(c.path[:len(c.path)-1], leaf.n); err != nil {
		c.valid = false
		return err
	}
	c.tx.bump(c.root)
	c.valid = false
	c.stale = true
	return nil
}

// Count returns the number of entries in the tree.
func (c *Cursor) Count() (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	st, err := c.tx.Stats(c.root)
	if err != nil {
		return 0, err
	}
	return st.Entries, nil
}
