package engine

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// CreateTable creates t and sets t.Root.
func (c *Conn) CreateTable(t *schema.Table) error {
	return c.ddl(func(tx *btree.Tx) error {
		return schema.CreateTable(tx, t)
	})
}

// CreateIndex creates idx and fills it from the rows of its table. A
// unique index over duplicate values fails with a constraint error.
func (c *Conn) CreateIndex(idx *schema.Index) error {
	return c.ddl(func(tx *btree.Tx) error {
		if err := schema.CreateIndex(tx, idx); err != nil {
			return err
		}
		return fillIndex(tx, idx)
	})
}

// Drop removes a table and its indexes, or one index.
func (c *Conn) Drop(name string) error {
	return c.ddl(func(tx *btree.Tx) error {
		return schema.Drop(tx, name)
	})
}

// SetUserVersion stores v in the user version meta slot.
func (c *Conn) SetUserVersion(v uint32) error {
	tx, owned, err := c.writeTx()
	if err != nil {
		return err
	}
	if err := tx.Pager().SetMeta(pager.MetaUserVersion, v); err != nil {
		if owned {
			tx.Rollback()
		}
		return err
	}
	if !owned {
		return nil
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

func fillIndex(tx *btree.Tx, idx *schema.Index) error {
	cat, err := schema.Load(tx)
	if err != nil {
		return err
	}
	t, ok := cat.GetTable(idx.Table)
	if !ok {
		return terror.ErrMisuse.Gen("no such table: %s", idx.Table)
	}
	cols := make([]int, len(idx.Columns))
	for i, name := range idx.Columns {
		if _, cols[i], ok = t.GetColumn(name); !ok {
			return terror.ErrMisuse.Gen("table %s has no column named %s", t.Name, name)
		}
	}
	ki, err := idx.KeyInfo()
	if err != nil {
		return err
	}

	tc, err := tx.Cursor(t.Root, nil, false)
	if err != nil {
		return err
	}
	defer tc.Close()
	ic, err := tx.Cursor(idx.Root, ki, true)
	if err != nil {
		return err
	}
	defer ic.Close()

	ok, err = tc.First()
	for ; ok && err == nil; ok, err = tc.Next() {
		rowid, err := tc.Rowid()
		if err != nil {
			return err
		}
		payload, err := tc.Payload()
		if err != nil {
			return err
		}
		key, err := indexKey(payload, cols, rowid)
		if err != nil {
			return errors.Wrapf(err, "index %s row %d", idx.Name, rowid)
		}
		if idx.Unique {
			if dup, err := hasDuplicate(ic, key[:len(key)-1]); err != nil {
				return err
			} else if dup {
				return terror.ErrUnique.Gen("%s.%v", t.Name, idx.Columns)
			}
		}
		if err := ic.InsertKey(record.Encode(key)); err != nil {
			return err
		}
	}
	return err
}

// indexKey picks the indexed columns of a row and appends the rowid.
// Columns missing from a short record are NULL.
func indexKey(payload []byte, cols []int, rowid int64) ([]value.Value, error) {
	n, err := record.NumFields(payload)
	if err != nil {
		return nil, err
	}
	key := make([]value.Value, 0, len(cols)+1)
	for _, col := range cols {
		if col >= n {
			key = append(key, value.Null)
			continue
		}
		v, err := record.Column(payload, col)
		if err != nil {
			return nil, err
		}
		key = append(key, v)
	}
	return append(key, value.Int(rowid)), nil
}

// hasDuplicate reports whether an entry with the same indexed values
// exists. NULLs never collide.
func hasDuplicate(ic *btree.Cursor, prefix []value.Value) (bool, error) {
	for _, v := range prefix {
		if v.IsNull() {
			return false, nil
		}
	}
	return ic.Seek(prefix, btree.SeekEQ)
}
