package integrity

import (
	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/value"
)

// expectedKey builds the index key of a table row: the indexed columns
// followed by the rowid.
func expectedKey(t *schema.Table, idx *schema.Index, rowid int64, payload []byte) ([]value.Value, error) {
	row, err := record.Decode(payload)
	if err != nil {
		return nil, err
	}
	key := make([]value.Value, 0, len(idx.Columns)+1)
	for _, name := range idx.Columns {
		v := value.Null
		if _, pos, ok := t.GetColumn(name); ok && pos < len(row) {
			v = row[pos]
		}
		key = append(key, v)
	}
	return append(key, value.Int(rowid)), nil
}

// checkIndex cross-checks idx against its table in both directions and
// compares their entry counts. Damaged trees are skipped.
func (c *checker) checkIndex(cat *schema.Catalog, idx *schema.Index) {
	t, ok := cat.GetTable(idx.Table)
	if !ok {
		c.add("index %s: no such table %s", idx.Name, idx.Table)
		return
	}
	if c.bad[t.Root] || c.bad[idx.Root] {
		return
	}
	ki, err := idx.KeyInfo()
	if err != nil {
		return
	}

	tc, err := c.tx.Cursor(t.Root, nil, false)
	if err != nil {
		c.add("table %s: %v", t.Name, err)
		return
	}
	defer tc.Close()
	ic, err := c.tx.Cursor(idx.Root, ki, false)
	if err != nil {
		c.add("index %s: %v", idx.Name, err)
		return
	}
	defer ic.Close()

	rows, ok := c.rowsInIndex(t, idx, tc, ic)
	if !ok {
		return
	}
	entries, ok := c.entriesInTable(t, idx, ki, tc, ic)
	if !ok {
		return
	}
	if rows != entries {
		c.add("wrong # of entries in index %s: %d rows in %s, %d entries", idx.Name, rows, t.Name, entries)
	}
}

// rowsInIndex looks up the key of every table row in the index.
func (c *checker) rowsInIndex(t *schema.Table, idx *schema.Index, tc, ic *btree.Cursor) (int64, bool) {
	var n int64
	more, err := tc.First()
	for ; more && err == nil && !c.full(); more, err = tc.Next() {
		n++
		rowid, err := tc.Rowid()
		if err != nil {
			c.add("table %s: %v", t.Name, err)
			return n, false
		}
		payload, err := tc.Payload()
		if err != nil {
			c.add("table %s row %d: %v", t.Name, rowid, err)
			return n, false
		}
		key, err := expectedKey(t, idx, rowid, payload)
		if err != nil {
			c.add("table %s row %d: %v", t.Name, rowid, err)
			continue
		}
		found, err := ic.Seek(key, btree.SeekEQ)
		if err != nil {
			c.add("index %s: %v", idx.Name, err)
			return n, false
		}
		if !found {
			c.add("row %d missing from index %s, key %s", rowid, idx.Name, formatValues(key))
		}
	}
	if err != nil {
		c.add("table %s: %v", t.Name, err)
		return n, false
	}
	return n, !c.full()
}

// entriesInTable looks up the row of every index entry and checks that
// the row still produces the entry.
func (c *checker) entriesInTable(t *schema.Table, idx *schema.Index, ki *record.KeyInfo, tc, ic *btree.Cursor) (int64, bool) {
	var n int64
	more, err := ic.First()
	for ; more && err == nil && !c.full(); more, err = ic.Next() {
		n++
		entry, err := ic.Key()
		if err != nil {
			c.add("index %s: %v", idx.Name, err)
			return n, false
		}
		vals, err := record.Decode(entry)
		if err != nil || len(vals) == 0 {
			c.add("index %s: undecodable entry %x", idx.Name, entry)
			continue
		}
		rowid := vals[len(vals)-1].Int()

		found, err := tc.SeekRowid(rowid, btree.SeekEQ)
		if err != nil {
			c.add("table %s: %v", t.Name, err)
			return n, false
		}
		if found {
			payload, err := tc.Payload()
			if err != nil {
				c.add("table %s row %d: %v", t.Name, rowid, err)
				return n, false
			}
			key, err := expectedKey(t, idx, rowid, payload)
			found = err == nil && ki.CompareValues(key, vals) == 0 && len(key) == len(vals)
		}
		if !found {
			c.add("index %s entry %s missing from table %s", idx.Name, formatValues(vals), t.Name)
		}
	}
	if err != nil {
		c.add("index %s: %v", idx.Name, err)
		return n, false
	}
	return n, !c.full()
}
