package schema

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Catalog rows live in a table tree whose root is kept in a meta slot.
// Row layout: type, name, table, root, unique, column count, then name,
// type and collation for every column.
const (
	typeTable = "table"
	typeIndex = "index"

	fixedFields = 6
)

// Generation returns the schema generation seen by tx.
func Generation(tx *btree.Tx) uint32 {
	return tx.Pager().Meta(pager.MetaSchemaGeneration)
}

// Bump advances the schema generation of a write transaction.
func Bump(tx *btree.Tx) (uint32, error) {
	gen := Generation(tx) + 1
	if err := tx.Pager().SetMeta(pager.MetaSchemaGeneration, gen); err != nil {
		return 0, err
	}
	return gen, nil
}

// Root returns the root of the catalog tree, 0 before the first DDL.
func Root(tx *btree.Tx) uint32 {
	return tx.Pager().Meta(pager.MetaSchemaRoot)
}

func ensureRoot(tx *btree.Tx) (uint32, error) {
	if root := Root(tx); root != 0 {
		return root, nil
	}
	root, err := tx.CreateTree(btree.TableTree)
	if err != nil {
		return 0, err
	}
	if err := tx.Pager().SetMeta(pager.MetaSchemaRoot, root); err != nil {
		return 0, err
	}
	return root, nil
}

func encodeTable(t *Table) []byte {
	vals := []value.Value{
		value.Text(typeTable), value.Text(t.Name), value.Text(t.Name),
		value.Int(int64(t.Root)), value.Int(0), value.Int(int64(len(t.Columns))),
	}
	for _, c := range t.Columns {
		vals = append(vals, value.Text(c.Name), value.Text(c.Type), value.Text(c.Collation))
	}
	return record.Encode(vals)
}

func encodeIndex(idx *Index) []byte {
	vals := []value.Value{
		value.Text(typeIndex), value.Text(idx.Name), value.Text(idx.Table),
		value.Int(int64(idx.Root)), value.Bool(idx.Unique), value.Int(int64(len(idx.Columns))),
	}
	for i, c := range idx.Columns {
		coll := ""
		if i < len(idx.Collations) {
			coll = idx.Collations[i]
		}
		vals = append(vals, value.Text(c), value.Null, value.Text(coll))
	}
	return record.Encode(vals)
}

type row struct {
	rowid int64
	typ   string
	name  string
	table *Table
	index *Index
}

func decodeRow(rowid int64, payload []byte) (*row, error) {
	vals, err := record.Decode(payload)
	if err != nil {
		return nil, err
	}
	if len(vals) < fixedFields {
		return nil, terror.ErrCorrupt.Gen("catalog row %d has %d fields", rowid, len(vals))
	}
	ncols := int(vals[5].Int())
	if ncols < 0 || len(vals) != fixedFields+3*ncols {
		return nil, terror.ErrCorrupt.Gen("catalog row %d declares %d columns in %d fields", rowid, ncols, len(vals))
	}

	r := &row{rowid: rowid, typ: vals[0].Str(), name: vals[1].Str()}
	root := uint32(vals[3].Int())
	switch r.typ {
	case typeTable:
		t := &Table{Name: r.name, Root: root}
		for i := 0; i < ncols; i++ {
			f := vals[fixedFields+3*i:]
			t.Columns = append(t.Columns, &Column{Name: f[0].Str(), Type: f[1].Str(), Collation: f[2].Str()})
		}
		r.table = t
	case typeIndex:
		idx := &Index{Name: r.name, Table: vals[2].Str(), Root: root, Unique: vals[4].Int() != 0}
		for i := 0; i < ncols; i++ {
			f := vals[fixedFields+3*i:]
			idx.Columns = append(idx.Columns, f[0].Str())
			idx.Collations = append(idx.Collations, f[2].Str())
		}
		r.index = idx
	default:
		return nil, terror.ErrCorrupt.Gen("catalog row %d has unknown type %q", rowid, r.typ)
	}
	return r, nil
}

func scan(tx *btree.Tx, fn func(r *row) error) error {
	root := Root(tx)
	if root == 0 {
		return nil
	}
	c, err := tx.Cursor(root, nil, false)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}
	defer c.Close()

	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		rowid, err := c.Rowid()
		if err != nil {
			return err
		}
		payload, err := c.Payload()
		if err != nil {
			return err
		}
		r, err := decodeRow(rowid, payload)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return err
}

// Load reads the catalog visible to tx.
func Load(tx *btree.Tx) (*Catalog, error) {
	cat := NewCatalog(Generation(tx))
	var indexes []*Index
	err := scan(tx, func(r *row) error {
		if r.table != nil {
			return cat.AddTable(r.table)
		}
		indexes = append(indexes, r.index)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load catalog")
	}
	for _, idx := range indexes {
		if err := cat.AddIndex(idx); err != nil {
			return nil, errors.Wrapf(err, "load index %s", idx.Name)
		}
	}
	return cat, nil
}

func insertRow(tx *btree.Tx, payload []byte) error {
	root, err := ensureRoot(tx)
	if err != nil {
		return err
	}
	c, err := tx.Cursor(root, nil, true)
	if err != nil {
		return err
	}
	defer c.Close()

	rowid := int64(1)
	ok, err := c.Last()
	if err != nil {
		return err
	}
	if ok {
		last, err := c.Rowid()
		if err != nil {
			return err
		}
		rowid = last + 1
	}
	return c.Insert(rowid, payload)
}

// CreateTable allocates the tree of t, records it and bumps the generation.
func CreateTable(tx *btree.Tx, t *Table) error {
	cat, err := Load(tx)
	if err != nil {
		return err
	}
	if _, ok := cat.GetTable(t.Name); ok {
		return terror.ErrConstraint.Gen("table %s already exists", t.Name)
	}
	if _, ok := cat.GetIndex(t.Name); ok {
		return terror.ErrConstraint.Gen("there is already an index named %s", t.Name)
	}
	for _, c := range t.Columns {
		if c.Collation != "" {
			if _, ok := value.LookupCollation(c.Collation); !ok {
				return terror.ErrMisuse.Gen("no such collation sequence: %s", c.Collation)
			}
		}
	}

	root, err := tx.CreateTree(btree.TableTree)
	if err != nil {
		return err
	}
	t.Root = root
	if err := insertRow(tx, encodeTable(t)); err != nil {
		return errors.Wrapf(err, "create table %s", t.Name)
	}
	_, err = Bump(tx)
	return err
}

// CreateIndex allocates the tree of idx, records it and bumps the
// generation. The index starts empty; filling it is up to the caller.
func CreateIndex(tx *btree.Tx, idx *Index) error {
	cat, err := Load(tx)
	if err != nil {
		return err
	}
	if _, ok := cat.GetTable(idx.Name); ok {
		return terror.ErrConstraint.Gen("there is already a table named %s", idx.Name)
	}
	if err := cat.AddIndex(idx); err != nil {
		return err
	}

	root, err := tx.CreateTree(btree.IndexTree)
	if err != nil {
		return err
	}
	idx.Root = root
	if err := insertRow(tx, encodeIndex(idx)); err != nil {
		return errors.Wrapf(err, "create index %s", idx.Name)
	}
	_, err = Bump(tx)
	return err
}

// Drop removes a table with its indexes, or a single index, frees their
// trees and bumps the generation.
func Drop(tx *btree.Tx, name string) error {
	var doomed []*row
	err := scan(tx, func(r *row) error {
		if strings.EqualFold(r.name, name) ||
			(r.index != nil && strings.EqualFold(r.index.Table, name)) {
			doomed = append(doomed, r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(doomed) == 0 {
		return terror.ErrMisuse.Gen("no such table or index: %s", name)
	}

	c, err := tx.Cursor(Root(tx), nil, true)
	if err != nil {
		return err
	}
	defer c.Close()
	for _, r := range doomed {
		var root uint32
		if r.table != nil {
			root = r.table.Root
		} else {
			root = r.index.Root
		}
		if err := tx.DropTree(root); err != nil {
			return err
		}
		ok, err := c.SeekRowid(r.rowid, btree.SeekEQ)
		if err != nil {
			return err
		}
		if !ok {
			return terror.ErrInternal.Gen("catalog row %d vanished", r.rowid)
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	_, err = Bump(tx)
	return err
}
