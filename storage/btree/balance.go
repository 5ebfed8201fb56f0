package btree

import (
	"github.com/zhukovaskychina/xvdbe/terror"
)

// frame is one level of a root-to-leaf path: the node and the index of the
// child followed, or the cell index at the leaf.
type frame struct {
	n  *node
	ci int
}

// balance restores the size bounds of n after a change and stores every
// page it touches. anc are the ancestors of n, root first, each with the
// index of the child pointer leading towards n.
func (tx *Tx) balance(anc []frame, n *node) error {
	ps := tx.e.pageSize

	if n.used() > ps {
		if len(anc) == 0 {
			return tx.splitRoot(n)
		}
		parent := anc[len(anc)-1]
		left, sep, err := tx.split(n)
		if err != nil {
			return err
		}
		parent.n.insertCell(parent.ci, interiorCell(parent.n.table(), left.pgno, sep))
		if err := tx.store(left); err != nil {
			return err
		}
		if err := tx.store(n); err != nil {
			return err
		}
		return tx.balance(anc[:len(anc)-1], parent.n)
	}

	if len(anc) == 0 {
		return tx.balanceRoot(n)
	}
	if n.fill(ps) < float64(tx.e.opts.MinFillPercent) {
		return tx.rebalance(anc, n)
	}
	return tx.store(n)
}

// splitRoot moves the overflowing root content into a new child and splits
// that child, so the root page number stays the same.
func (tx *Tx) splitRoot(root *node) error {
	pgno, _, err := tx.ptx.Allocate()
	if err != nil {
		return err
	}
	child := &node{pgno: pgno, typ: root.typ, right: root.right, cells: root.cells}
	root.typ = interiorType(leafType(root.typ))
	root.cells = nil
	root.right = pgno
	return tx.balance([]frame{{n: root, ci: 0}}, child)
}

// balanceRoot collapses a root left with a single child.
func (tx *Tx) balanceRoot(root *node) error {
	for !root.leaf() && len(root.cells) == 0 {
		child, err := tx.load(root.right)
		if err != nil {
			return err
		}
		if child.table() != root.table() {
			return badPage(child.pgno, "child of page %d has a different tree kind", root.pgno)
		}
		root.typ, root.cells, root.right = child.typ, child.cells, child.right
		if err := tx.ptx.Free(child.pgno); err != nil {
			return err
		}
	}
	return tx.store(root)
}

// split moves the lower half of n to a new page and returns it with the
// cell whose key separates the halves. n keeps the upper half.
func (tx *Tx) split(n *node) (*node, cell, error) {
	pgno, _, err := tx.ptx.Allocate()
	if err != nil {
		return nil, cell{}, err
	}
	left := &node{pgno: pgno, typ: n.typ}
	cells := n.cells
	m := splitPoint(cells, !n.leaf())

	if n.leaf() {
		left.cells = append([]cell(nil), cells[:m]...)
		n.cells = append([]cell(nil), cells[m:]...)
		return left, left.cells[len(left.cells)-1], nil
	}
	left.cells = append([]cell(nil), cells[:m]...)
	left.right = cells[m].left
	sep := cells[m]
	n.cells = append([]cell(nil), cells[m+1:]...)
	return left, sep, nil
}

// splitPoint picks where to cut cells so that both sides hold about the
// same number of bytes. For interior nodes cell m moves up to the parent.
func splitPoint(cells []cell, interior bool) int {
	total := cellsSize(cells)
	if !interior {
		acc := 0
		for i := range cells {
			acc += cellPointerSize + len(cells[i].raw)
			if 2*acc >= total {
				return clamp(i+1, 1, len(cells)-1)
			}
		}
		return len(cells) - 1
	}

	best, bestDiff := 1, -1
	left := 0
	for i := range cells {
		size := cellPointerSize + len(cells[i].raw)
		right := total - left - size
		diff := left - right
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
		left += size
	}
	return clamp(best, 1, len(cells)-2)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rebalance merges an underfull n with a sibling, or moves cells over from
// the sibling when both do not fit one page.
func (tx *Tx) rebalance(anc []frame, n *node) error {
	parent := anc[len(anc)-1]
	p, ci := parent.n, parent.ci

	if len(p.cells) == 0 {
		// only child, the parent itself is fixed next
		if err := tx.store(n); err != nil {
			return err
		}
		return tx.balance(anc[:len(anc)-1], p)
	}

	var left, right *node
	var sepIdx int
	if ci > 0 {
		sib, err := tx.load(p.child(ci - 1))
		if err != nil {
			return err
		}
		left, right, sepIdx = sib, n, ci-1
	} else {
		sib, err := tx.load(p.child(ci + 1))
		if err != nil {
			return err
		}
		left, right, sepIdx = n, sib, ci
	}
	if left.typ != right.typ {
		return terror.ErrCorrupt.GenWithPage(p.pgno, "children %d and %d of page %d differ in type", left.pgno, right.pgno, p.pgno)
	}

	var cells []cell
	cells = append(cells, left.cells...)
	if !left.leaf() {
		cells = append(cells, interiorCell(p.table(), left.right, p.cells[sepIdx]))
	}
	cells = append(cells, right.cells...)

	if nodeHeaderSize+cellsSize(cells) <= tx.e.pageSize {
		right.cells = cells
		p.removeCell(sepIdx)
		if err := tx.ptx.Free(left.pgno); err != nil {
			return err
		}
		if err := tx.store(right); err != nil {
			return err
		}
		return tx.balance(anc[:len(anc)-1], p)
	}

	m := splitPoint(cells, !left.leaf())
	var sep cell
	if left.leaf() {
		left.cells = append([]cell(nil), cells[:m]...)
		right.cells = append([]cell(nil), cells[m:]...)
		sep = left.cells[len(left.cells)-1]
	} else {
		left.cells = append([]cell(nil), cells[:m]...)
		left.right = cells[m].left
		sep = cells[m]
		right.cells = append([]cell(nil), cells[m+1:]...)
	}
	p.cells[sepIdx] = interiorCell(p.table(), left.pgno, sep)
	if err := tx.store(left); err != nil {
		return err
	}
	if err := tx.store(right); err != nil {
		return err
	}
	return tx.balance(anc[:len(anc)-1], p)
}
