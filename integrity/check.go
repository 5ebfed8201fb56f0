// Package integrity walks a database inside one read transaction and
// reports structural damage: broken trees, a bad freelist, pages that
// belong nowhere and indexes out of step with their tables.
package integrity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/util"
	"github.com/zhukovaskychina/xvdbe/value"
)

// DefaultMaxFindings bounds the findings of one check.
const DefaultMaxFindings = 100

// OK is the single finding of a clean check.
const OK = "ok"

// maxDepth is the deepest tree the checker descends into.
const maxDepth = 40

// tree is one tree to verify.
type tree struct {
	name string
	root uint32
	kind btree.Kind
	ki   *record.KeyInfo
}

type checker struct {
	tx       *btree.Tx
	ptx      *pager.Tx
	hdr      pager.Header
	max      int
	findings []string
	seen     *util.BitVec
	// bad holds the roots of trees step one found damaged.
	bad map[uint32]bool

	pageSize  int
	leafDepth int
}

// Check verifies the database visible to tx. It returns ["ok"] when
// nothing is wrong and otherwise up to maxFindings messages. Trees not in
// the catalog are checked when their roots are passed in extra. An
// unreadable header ends the check with a single finding and an error.
func Check(tx *btree.Tx, maxFindings int, extra ...uint32) ([]string, error) {
	if maxFindings <= 0 {
		maxFindings = DefaultMaxFindings
	}
	hdr, err := tx.Pager().ReadHeader()
	if err != nil {
		return []string{fmt.Sprintf("Page 1: unreadable database header: %v", err)},
			errors.Wrap(err, "integrity check")
	}

	c := &checker{
		tx:       tx,
		ptx:      tx.Pager(),
		hdr:      hdr,
		max:      maxFindings,
		seen:     util.NewBitVec(hdr.PageCount),
		bad:      make(map[uint32]bool),
		pageSize: tx.PageSize(),
	}
	c.seen.Set(1)

	cat, trees := c.collect(extra)
	for _, t := range trees {
		if c.full() {
			break
		}
		c.checkTree(t)
	}
	if !c.full() {
		c.checkFreelist()
	}
	if !c.full() {
		c.checkUnused()
	}
	if cat != nil {
		for _, name := range indexNames(cat) {
			if c.full() {
				break
			}
			idx, _ := cat.GetIndex(name)
			c.checkIndex(cat, idx)
		}
	}

	log := logger.WithComponent("integrity").WithField("pages", hdr.PageCount)
	if len(c.findings) == 0 {
		log.Infof("integrity check ok, %d trees", len(trees))
		return []string{OK}, nil
	}
	log.Infof("integrity check found %d problems", len(c.findings))
	return c.findings, nil
}

func (c *checker) add(format string, args ...interface{}) {
	if len(c.findings) < c.max {
		c.findings = append(c.findings, fmt.Sprintf(format, args...))
	}
}

func (c *checker) full() bool { return len(c.findings) >= c.max }

// collect lists the catalog tree, every table and index, and the extra
// roots.
func (c *checker) collect(extra []uint32) (*schema.Catalog, []tree) {
	var trees []tree
	listed := make(map[uint32]bool)
	push := func(t tree) {
		if !listed[t.root] {
			listed[t.root] = true
			trees = append(trees, t)
		}
	}

	var cat *schema.Catalog
	if root := schema.Root(c.tx); root != 0 {
		push(tree{name: "catalog", root: root, kind: btree.TableTree})
		var err error
		if cat, err = schema.Load(c.tx); err != nil {
			c.add("catalog: %v", err)
			cat = nil
		}
	}
	if cat != nil {
		for _, name := range cat.TableNames() {
			t, _ := cat.GetTable(name)
			push(tree{name: "table " + t.Name, root: t.Root, kind: btree.TableTree})
		}
		for _, name := range indexNames(cat) {
			idx, _ := cat.GetIndex(name)
			ki, err := idx.KeyInfo()
			if err != nil {
				c.add("index %s: %v", idx.Name, err)
				continue
			}
			push(tree{name: "index " + idx.Name, root: idx.Root, kind: btree.IndexTree, ki: ki})
		}
	}
	for _, root := range extra {
		push(tree{name: fmt.Sprintf("tree %d", root), root: root})
	}
	return cat, trees
}

func indexNames(cat *schema.Catalog) []string {
	names := make([]string, 0, len(cat.Indexes))
	for _, idx := range cat.Indexes {
		names = append(names, idx.Name)
	}
	sort.Strings(names)
	return names
}

// bounds is the key range a page must stay in: above lo, at most hi.
type bounds struct {
	loRowid, hiRowid int64
	hasLo, hasHi     bool
	loKey, hiKey     []byte
}

func (c *checker) checkTree(t tree) {
	if t.root < 2 || t.root > c.hdr.PageCount {
		c.add("%s: root page %d out of range", t.name, t.root)
		c.bad[t.root] = true
		return
	}
	before := len(c.findings)
	c.leafDepth = 0
	c.checkPage(&t, t.root, 1, bounds{})
	if len(c.findings) != before {
		c.bad[t.root] = true
	}
}

func (c *checker) checkPage(t *tree, pgno uint32, depth int, b bounds) {
	if c.full() {
		return
	}
	if depth > maxDepth {
		c.add("Page %d: %s deeper than %d levels", pgno, t.name, maxDepth)
		return
	}
	if c.seen.Set(pgno) {
		c.add("Page %d referenced multiple times", pgno)
		return
	}
	buf, err := c.ptx.Get(pgno)
	if err != nil {
		c.add("Page %d: unable to read page: %v", pgno, err)
		return
	}
	pi, err := btree.Inspect(pgno, buf)
	if err != nil {
		c.add("Page %d: invalid btree page: %v", pgno, err)
		return
	}
	if t.kind == 0 {
		t.kind = btree.IndexTree
		if pi.Table() {
			t.kind = btree.TableTree
		}
	}
	if pi.Table() != (t.kind == btree.TableTree) {
		c.add("Page %d: %s page in %s", pgno, kindOf(pi), t.name)
		return
	}

	if pi.Leaf() {
		if c.leafDepth == 0 {
			c.leafDepth = depth
		} else if depth != c.leafDepth {
			c.add("Page %d: leaf at depth %d, other leaves of %s are at depth %d", pgno, depth, t.name, c.leafDepth)
		}
	} else if len(pi.Cells) == 0 && pi.Right == 0 {
		c.add("Page %d: interior page without children", pgno)
		return
	}

	if !c.checkOrder(t, pi, b) {
		return
	}
	if pi.Leaf() {
		if pi.Table() {
			for i := range pi.Cells {
				c.checkOverflow(pgno, i, &pi.Cells[i])
			}
		}
		return
	}

	for i := 0; i <= len(pi.Cells); i++ {
		if c.full() {
			return
		}
		child := pi.Child(i)
		if child < 2 || child > c.hdr.PageCount {
			c.add("Page %d: child pointer %d (page %d) out of range", pgno, i, child)
			continue
		}
		c.checkPage(t, child, depth+1, childBounds(pi, i, b))
	}
}

func kindOf(pi *btree.PageInfo) string {
	if pi.Table() {
		return "table"
	}
	return "index"
}

// childBounds narrows b to child i of interior page pi. The separator of
// cell i is the largest key under child i.
func childBounds(pi *btree.PageInfo, i int, b bounds) bounds {
	nb := b
	if i > 0 {
		prev := &pi.Cells[i-1]
		nb.hasLo, nb.loRowid, nb.loKey = true, prev.Rowid, prev.Key
	}
	if i < len(pi.Cells) {
		sep := &pi.Cells[i]
		nb.hasHi, nb.hiRowid, nb.hiKey = true, sep.Rowid, sep.Key
	}
	return nb
}

// checkOrder verifies that keys increase strictly and stay inside b.
func (c *checker) checkOrder(t *tree, pi *btree.PageInfo, b bounds) bool {
	for i := range pi.Cells {
		cl := &pi.Cells[i]
		if pi.Table() {
			switch {
			case i > 0 && cl.Rowid <= pi.Cells[i-1].Rowid:
				c.add("Page %d: cell %d out of order (rowid %d)", pi.Pgno, i, cl.Rowid)
				return false
			case b.hasLo && cl.Rowid <= b.loRowid, b.hasHi && cl.Rowid > b.hiRowid:
				c.add("Page %d: cell %d rowid %d outside the parent range", pi.Pgno, i, cl.Rowid)
				return false
			}
			continue
		}

		if i > 0 {
			cmp, err := t.ki.CompareRecords(pi.Cells[i-1].Key, cl.Key)
			if err != nil {
				c.add("Page %d: cell %d: %v", pi.Pgno, i, err)
				return false
			}
			if cmp >= 0 {
				c.add("Page %d: cell %d out of order (key %s)", pi.Pgno, i, formatKey(cl.Key))
				return false
			}
		}
		if b.hasLo {
			if cmp, err := t.ki.CompareRecords(cl.Key, b.loKey); err != nil || cmp <= 0 {
				c.add("Page %d: cell %d key %s outside the parent range", pi.Pgno, i, formatKey(cl.Key))
				return false
			}
		}
		if b.hasHi {
			if cmp, err := t.ki.CompareRecords(cl.Key, b.hiKey); err != nil || cmp > 0 {
				c.add("Page %d: cell %d key %s outside the parent range", pi.Pgno, i, formatKey(cl.Key))
				return false
			}
		}
	}
	return true
}

// checkOverflow follows the overflow chain of cell i on page pgno.
func (c *checker) checkOverflow(pgno uint32, i int, cl *btree.CellInfo) {
	rest := int64(cl.PayloadSize) - int64(cl.Local)
	switch {
	case rest > 0 && cl.Overflow == 0:
		c.add("Page %d: cell %d missing overflow pointer", pgno, i)
		return
	case rest <= 0 && cl.Overflow != 0:
		c.add("Page %d: cell %d has unexpected overflow pointer", pgno, i)
		return
	}

	per := int64(btree.OverflowCapacity(c.pageSize))
	for next, steps := cl.Overflow, uint32(0); next != 0; steps++ {
		if c.full() {
			return
		}
		if next < 2 || next > c.hdr.PageCount {
			c.add("Overflow page %d out of range (page %d cell %d)", next, pgno, i)
			return
		}
		if c.seen.Set(next) {
			c.add("Overflow page %d referenced multiple times", next)
			return
		}
		buf, err := c.ptx.Get(next)
		if err != nil {
			c.add("Overflow page %d unreadable: %v", next, err)
			return
		}
		following, ok := btree.OverflowNext(buf)
		if !ok {
			c.add("Overflow page %d is not an overflow page", next)
			return
		}
		rest -= per
		switch {
		case rest <= 0 && following != 0:
			c.add("Overflow page %d chain too long", next)
			return
		case rest > 0 && following == 0:
			c.add("Overflow page %d chain too short", next)
			return
		case steps > c.hdr.PageCount:
			c.add("Overflow chain of page %d cell %d contains a loop", pgno, i)
			return
		}
		next = following
	}
}

// checkFreelist walks the freelist and compares it with the header.
func (c *checker) checkFreelist() {
	var n uint32
	for pgno := c.hdr.FreelistHead; pgno != 0; n++ {
		if c.full() {
			return
		}
		if n > c.hdr.PageCount {
			c.add("Freelist contains a loop")
			return
		}
		if pgno < 2 || pgno > c.hdr.PageCount {
			c.add("Freelist: page %d out of range", pgno)
			return
		}
		if c.seen.Set(pgno) {
			c.add("Freelist: page %d is also in use", pgno)
			return
		}
		buf, err := c.ptx.Get(pgno)
		if err != nil {
			c.add("Freelist: page %d unreadable: %v", pgno, err)
			return
		}
		if !pager.IsFreePage(buf) {
			c.add("Freelist: page %d is not marked free", pgno)
			return
		}
		pgno = pager.FreeNext(buf)
	}
	if n != c.hdr.FreelistCount {
		c.add("Freelist: header counts %d pages, chain holds %d", c.hdr.FreelistCount, n)
	}
}

func (c *checker) checkUnused() {
	for pgno := uint32(2); pgno <= c.hdr.PageCount; pgno++ {
		if c.full() {
			return
		}
		if !c.seen.Test(pgno) {
			c.add("Page %d is never used", pgno)
		}
	}
}

func formatKey(rec []byte) string {
	vals, err := record.Decode(rec)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return formatValues(vals)
}

func formatValues(vals []value.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}
