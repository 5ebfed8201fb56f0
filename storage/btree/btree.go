// Package btree implements table and index b+trees over pager pages.
//
// Table trees are keyed by a signed 64-bit rowid and carry a payload. Index
// trees are keyed by a packed record and carry nothing else. Interior cells
// hold the largest key of the subtree to their left; keys greater than the
// last separator live under the right-most child. The root page of a tree
// never moves.
package btree

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
)

// Kind is the kind of a tree.
type Kind uint8

const (
	TableTree Kind = iota + 1
	IndexTree
)

func (k Kind) String() string {
	if k == TableTree {
		return "table"
	}
	return "index"
}

// maxDepth bounds every descent; deeper trees are treated as corrupt.
const maxDepth = 40

// Options configures an Engine.
type Options struct {
	// MinFillPercent is the occupancy below which a non-root page is merged
	// with or refilled from a sibling.
	MinFillPercent int
}

const DefaultMinFillPercent = 40

// Engine builds trees on top of a pager.
type Engine struct {
	pager    *pager.Pager
	opts     Options
	pageSize int
	maxLocal int
}

func New(p *pager.Pager, opts Options) *Engine {
	if opts.MinFillPercent <= 0 {
		opts.MinFillPercent = DefaultMinFillPercent
	}
	return &Engine{
		pager:    p,
		opts:     opts,
		pageSize: p.PageSize(),
		maxLocal: MaxLocal(p.PageSize()),
	}
}

func (e *Engine) Pager() *pager.Pager { return e.pager }

// MaxKeySize is the largest index key accepted.
func (e *Engine) MaxKeySize() int { return e.maxLocal }

// Begin starts a transaction.
func (e *Engine) Begin(writable bool) (*Tx, error) {
	ptx, err := e.pager.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &Tx{e: e, ptx: ptx, gens: make(map[uint32]uint64)}, nil
}

// Tx is a b-tree transaction. Each tree carries a generation stamp that
// every insert or delete advances, cursors positioned under an older stamp
// re-seek before their next operation.
type Tx struct {
	e       *Engine
	ptx     *pager.Tx
	gens    map[uint32]uint64
	cursors []*Cursor
}

// Pager returns the underlying pager transaction.
func (tx *Tx) Pager() *pager.Tx { return tx.ptx }

func (tx *Tx) Writable() bool { return tx.ptx.Writable() }

func (tx *Tx) Done() bool { return tx.ptx.Done() }

func (tx *Tx) PageSize() int { return tx.e.pageSize }

func (tx *Tx) OnCommit(fn func()) { tx.ptx.OnCommit(fn) }

func (tx *Tx) OnRollback(fn func()) { tx.ptx.OnRollback(fn) }

// Commit closes the cursors of the transaction and commits it. On
// terror.ErrBusy the transaction stays open.
func (tx *Tx) Commit() error {
	if err := tx.ptx.Commit(); err != nil {
		return err
	}
	tx.closeCursors()
	return nil
}

func (tx *Tx) Rollback() error {
	tx.closeCursors()
	return tx.ptx.Rollback()
}

func (tx *Tx) closeCursors() {
	for _, c := range tx.cursors {
		c.closed = true
		c.valid = false
	}
	tx.cursors = nil
}

func (tx *Tx) gen(root uint32) uint64 { return tx.gens[root] }

func (tx *Tx) bump(root uint32) { tx.gens[root]++ }

func (tx *Tx) load(pgno uint32) (*node, error) {
	buf, err := tx.ptx.Get(pgno)
	if err != nil {
		return nil, err
	}
	return decodeNode(pgno, buf, tx.e.maxLocal)
}

func (tx *Tx) store(n *node) error {
	if n.used() > tx.e.pageSize {
		return terror.ErrInternal.GenWithPage(n.pgno, "node of %d bytes stored on a %d byte page", n.used(), tx.e.pageSize)
	}
	buf, err := tx.ptx.Modify(n.pgno)
	if err != nil {
		return err
	}
	copy(buf, n.encode(tx.e.pageSize))
	return nil
}

func (tx *Tx) writeCheck() error {
	if tx.ptx.Done() {
		return terror.ErrTxDone
	}
	if !tx.ptx.Writable() {
		return terror.ErrReadOnly
	}
	return nil
}

// CreateTree allocates the root page of an empty tree.
func (tx *Tx) CreateTree(kind Kind) (uint32, error) {
	if err := tx.writeCheck(); err != nil {
		return 0, err
	}
	pgno, _, err := tx.ptx.Allocate()
	if err != nil {
		return 0, errors.Wrap(err, "create tree")
	}
	typ := byte(TypeTableLeaf)
	if kind == IndexTree {
		typ = TypeIndexLeaf
	}
	if err := tx.store(&node{pgno: pgno, typ: typ}); err != nil {
		return 0, err
	}
	return pgno, nil
}

// Kind returns the kind of the tree rooted at root.
func (tx *Tx) Kind(root uint32) (Kind, error) {
	n, err := tx.load(root)
	if err != nil {
		return 0, err
	}
	if n.table() {
		return TableTree, nil
	}
	return IndexTree, nil
}

// DropTree frees every page of the tree, the root included.
func (tx *Tx) DropTree(root uint32) error {
	if err := tx.writeCheck(); err != nil {
		return err
	}
	if err := tx.freeSubtree(root, true, 0); err != nil {
		return errors.Wrapf(err, "drop tree %d", root)
	}
	tx.bump(root)
	return nil
}

// ClearTree deletes every entry and returns how many there were. The root
// page is kept.
func (tx *Tx) ClearTree(root uint32) (int64, error) {
	if err := tx.writeCheck(); err != nil {
		return 0, err
	}
	st, err := tx.Stats(root)
	if err != nil {
		return 0, err
	}
	n, err := tx.load(root)
	if err != nil {
		return 0, err
	}
	if err := tx.freeSubtree(root, false, 0); err != nil {
		return 0, errors.Wrapf(err, "clear tree %d", root)
	}
	if err := tx.store(&node{pgno: root, typ: leafType(n.typ)}); err != nil {
		return 0, err
	}
	tx.bump(root)
	return st.Entries, nil
}

func (tx *Tx) freeSubtree(pgno uint32, freeSelf bool, depth int) error {
	if depth > maxDepth {
		return terror.ErrCorrupt.GenWithPage(pgno, "tree deeper than %d", maxDepth)
	}
	n, err := tx.load(pgno)
	if err != nil {
		return err
	}
	if n.leaf() {
		for i := range n.cells {
			if n.cells[i].ovfl != 0 {
				if err := tx.freeOverflow(n.cells[i].ovfl); err != nil {
					return err
				}
			}
		}
	} else {
		for i := 0; i <= len(n.cells); i++ {
			if err := tx.freeSubtree(n.child(i), true, depth+1); err != nil {
				return err
			}
		}
	}
	if freeSelf {
		return tx.ptx.Free(pgno)
	}
	return nil
}

// Cursor opens a cursor on the tree rooted at root. ki orders index keys
// and is ignored for tables. A writable cursor needs a write transaction.
func (tx *Tx) Cursor(root uint32, ki *record.KeyInfo, writable bool) (*Cursor, error) {
	if tx.ptx.Done() {
		return nil, terror.ErrTxDone
	}
	if writable && !tx.ptx.Writable() {
		return nil, terror.ErrReadOnly
	}
	kind, err := tx.Kind(root)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tx: tx, root: root, kind: kind, ki: ki, writable: writable}
	tx.cursors = append(tx.cursors, c)
	return c, nil
}
