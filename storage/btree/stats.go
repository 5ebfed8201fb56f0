package btree

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
)

// Stats summarises the shape of one tree.
type Stats struct {
	Depth         int
	Pages         int64
	OverflowPages int64
	Entries       int64
	// MinFill is the lowest fill percentage of a non-root page, 100 for a
	// single-page tree.
	MinFill float64
}

// Stats walks the tree rooted at root.
func (tx *Tx) Stats(root uint32) (*Stats, error) {
	if tx.ptx.Done() {
		return nil, terror.ErrTxDone
	}
	st := &Stats{MinFill: 100}
	seen := make(map[uint32]bool)
	if err := tx.walk(root, 1, true, seen, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (tx *Tx) walk(pgno uint32, depth int, isRoot bool, seen map[uint32]bool, st *Stats) error {
	if depth > maxDepth {
		return terror.ErrCorrupt.GenWithPage(pgno, "tree deeper than %d", maxDepth)
	}
	if seen[pgno] {
		return terror.ErrCycle.GenWithPage(pgno, "page %d reached twice", pgno)
	}
	seen[pgno] = true

	n, err := tx.load(pgno)
	if err != nil {
		return err
	}
	st.Pages++
	if depth > st.Depth {
		st.Depth = depth
	}
	if !isRoot {
		if f := n.fill(tx.e.pageSize); f < st.MinFill {
			st.MinFill = f
		}
	}
	if n.leaf() {
		st.Entries += int64(len(n.cells))
		for i := range n.cells {
			if c := &n.cells[i]; c.ovfl != 0 {
				per := tx.e.pageSize - overflowHeaderSize
				rest := int(c.size) - len(c.local)
				st.OverflowPages += int64((rest + per - 1) / per)
			}
		}
		return nil
	}
	for i := 0; i <= len(n.cells); i++ {
		if err := tx.walk(n.child(i), depth+1, false, seen, st); err != nil {
			return err
		}
	}
	return nil
}

// CellInfo is the decoded form of one cell, as exposed to page checkers.
type CellInfo struct {
	Left        uint32 // interior cells
	Rowid       int64  // table cells
	Key         []byte // index cells
	PayloadSize uint64 // table leaf cells
	Local       int
	Overflow    uint32
}

// PageInfo is the decoded form of one b-tree page.
type PageInfo struct {
	Pgno  uint32
	Type  byte
	Right uint32
	Cells []CellInfo
}

func (pi *PageInfo) Leaf() bool  { return isLeafType(pi.Type) }
func (pi *PageInfo) Table() bool { return isTableType(pi.Type) }

// Child returns child pointer i of an interior page; i == len(Cells) is the
// right-most child.
func (pi *PageInfo) Child(i int) uint32 {
	if i >= len(pi.Cells) {
		return pi.Right
	}
	return pi.Cells[i].Left
}

// Inspect decodes page image page as b-tree page pgno. It fails with a
// corruption error when the page is not a well formed b-tree page.
func Inspect(pgno uint32, page []byte) (*PageInfo, error) {
	n, err := decodeNode(pgno, page, MaxLocal(len(page)))
	if err != nil {
		return nil, err
	}
	if n.used() > len(page) {
		return nil, badPage(pgno, "cells of page %d overlap", pgno)
	}
	pi := &PageInfo{Pgno: pgno, Type: n.typ, Right: n.right, Cells: make([]CellInfo, len(n.cells))}
	for i := range n.cells {
		c := &n.cells[i]
		pi.Cells[i] = CellInfo{
			Left:        c.left,
			Rowid:       c.rowid,
			Key:         c.key,
			PayloadSize: c.size,
			Local:       len(c.local),
			Overflow:    c.ovfl,
		}
	}
	return pi, nil
}

// OverflowNext returns the next page of an overflow page, and whether page
// is an overflow page at all.
func OverflowNext(page []byte) (uint32, bool) {
	if page[0] != TypeOverflow {
		return 0, false
	}
	return util.ReadUB4(page, 4), true
}

// OverflowCapacity is the number of payload bytes one overflow page holds.
func OverflowCapacity(pageSize int) int { return pageSize - overflowHeaderSize }
