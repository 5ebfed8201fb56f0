package integrity

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/util"
	"github.com/zhukovaskychina/xvdbe/value"
)

type fixture struct {
	t     *testing.T
	file  *pager.MemFile
	e     *btree.Engine
	table *schema.Table
	index *schema.Index
}

func newFixture(t *testing.T, pageSize int) *fixture {
	t.Helper()
	file := pager.NewMemFile()
	p, err := pager.Open(pager.Options{File: file, Journal: pager.NewMemFile(), PageSize: pageSize})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &fixture{t: t, file: file, e: btree.New(p, btree.Options{})}
}

func (f *fixture) begin(writable bool) *btree.Tx {
	f.t.Helper()
	tx, err := f.e.Begin(writable)
	require.NoError(f.t, err)
	return tx
}

// createPeople creates table people(name, age) and, with indexed, the
// index people_name on name.
func (f *fixture) createPeople(indexed bool) {
	f.t.Helper()
	tx := f.begin(true)
	f.table = schema.NewTable("people",
		&schema.Column{Name: "name", Type: "TEXT"},
		&schema.Column{Name: "age", Type: "INTEGER"},
	)
	require.NoError(f.t, schema.CreateTable(tx, f.table))
	if indexed {
		f.index = &schema.Index{Name: "people_name", Table: "people", Columns: []string{"name"}}
		require.NoError(f.t, schema.CreateIndex(tx, f.index))
	}
	require.NoError(f.t, tx.Commit())
}

func personName(rowid int64) string { return fmt.Sprintf("person-%04d", rowid) }

// insert adds rows and their index entries; payloadSize pads the name.
func (f *fixture) insert(from, to int64, payloadSize int) {
	f.t.Helper()
	tx := f.begin(true)
	tc, err := tx.Cursor(f.table.Root, nil, true)
	require.NoError(f.t, err)
	var ic *btree.Cursor
	if f.index != nil {
		ki, err := f.index.KeyInfo()
		require.NoError(f.t, err)
		ic, err = tx.Cursor(f.index.Root, ki, true)
		require.NoError(f.t, err)
	}
	for rowid := from; rowid <= to; rowid++ {
		name := personName(rowid)
		payload := record.Encode([]value.Value{value.Text(name), value.Int(rowid % 90)})
		if payloadSize > 0 {
			payload = record.Encode([]value.Value{value.Text(name + strings.Repeat("x", payloadSize)), value.Int(0)})
		}
		require.NoError(f.t, tc.Insert(rowid, payload))
		if ic != nil {
			require.NoError(f.t, ic.InsertKey(record.Encode([]value.Value{value.Text(name), value.Int(rowid)})))
		}
	}
	require.NoError(f.t, tx.Commit())
}

func (f *fixture) check(maxFindings int) []string {
	f.t.Helper()
	tx := f.begin(false)
	defer tx.Rollback()
	findings, err := Check(tx, maxFindings)
	require.NoError(f.t, err)
	return findings
}

func containing(findings []string, parts ...string) bool {
	for _, s := range findings {
		all := true
		for _, p := range parts {
			all = all && strings.Contains(s, p)
		}
		if all {
			return true
		}
	}
	return false
}

func TestFreshTableIsOK(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(true)
	assert.Empty(t, assertions.ShouldResemble(f.check(0), []string{OK}))

	f.insert(1, 50, 0)
	assert.Empty(t, assertions.ShouldResemble(f.check(0), []string{OK}))
}

func TestEmptyDatabaseIsOK(t *testing.T) {
	f := newFixture(t, 1024)
	assert.Equal(t, []string{OK}, f.check(10))
}

func TestThousandRows(t *testing.T) {
	f := newFixture(t, 4096)
	f.createPeople(true)
	f.insert(1, 1000, 0)

	tx := f.begin(false)
	st, err := tx.Stats(f.table.Root)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Depth, 3)
	assert.Equal(t, int64(1000), st.Entries)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, []string{OK}, f.check(0))

	// the freelist head pointed at a live tree page
	tx = f.begin(true)
	tx.Pager().Header().FreelistHead = f.table.Root
	tx.Pager().Header().FreelistCount = 1
	require.NoError(t, tx.Commit())
	findings := f.check(0)
	assert.True(t, containing(findings, "Freelist", fmt.Sprint(f.table.Root), "also in use"), "%v", findings)
}

func TestChildPointerOutOfRange(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(false)
	f.insert(1, 300, 0)

	tx := f.begin(true)
	buf, err := tx.Pager().Modify(f.table.Root)
	require.NoError(t, err)
	require.False(t, buf[0] == btree.TypeTableLeaf, "root must be an interior page")
	util.WriteUB4(buf, 8, 9999)
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	assert.True(t, containing(findings, fmt.Sprintf("Page %d", f.table.Root), "9999", "out of range"), "%v", findings)
	assert.True(t, containing(findings, "never used"), "the orphaned subtree is reported")
}

func TestRowDeletedWithoutIndexEntry(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(true)
	f.insert(1, 20, 0)

	tx := f.begin(true)
	c, err := tx.Cursor(f.table.Root, nil, true)
	require.NoError(t, err)
	found, err := c.SeekRowid(7, btree.SeekEQ)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, c.Delete())
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	assert.True(t, containing(findings, "missing from table", personName(7)), "%v", findings)
	assert.True(t, containing(findings, "wrong # of entries in index people_name"), "%v", findings)
}

func TestUndecodableRow(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(true)
	f.insert(1, 20, 0)

	t64 := uint64(1<<64 - 2)
	payload := util.AppendVarint(nil, uint64(1+util.VarintLen(t64)))
	payload = util.AppendVarint(payload, t64)
	payload = append(payload, 1, 2, 3, 4, 5, 6)

	tx := f.begin(true)
	c, err := tx.Cursor(f.table.Root, nil, true)
	require.NoError(t, err)
	require.NoError(t, c.Insert(5, payload))
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	assert.True(t, containing(findings, "table people row 5", "overruns"), "%v", findings)
	assert.True(t, containing(findings, "missing from table", personName(5)), "%v", findings)
}

func TestIndexEntryDeletedWithoutRow(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(true)
	f.insert(1, 20, 0)

	tx := f.begin(true)
	ki, err := f.index.KeyInfo()
	require.NoError(t, err)
	c, err := tx.Cursor(f.index.Root, ki, true)
	require.NoError(t, err)
	found, err := c.Seek([]value.Value{value.Text(personName(3))}, btree.SeekEQ)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, c.Delete())
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	assert.True(t, containing(findings, "row 3 missing from index people_name", personName(3)), "%v", findings)
}

func TestNeverUsedPagesAndLimit(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(false)

	tx := f.begin(true)
	var leaked []uint32
	for i := 0; i < 5; i++ {
		pgno, _, err := tx.Pager().Allocate()
		require.NoError(t, err)
		leaked = append(leaked, pgno)
	}
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	require.Len(t, findings, 5)
	for i, pgno := range leaked {
		assert.Equal(t, fmt.Sprintf("Page %d is never used", pgno), findings[i])
	}
	assert.Len(t, f.check(2), 2)
}

func TestOverflowChain(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(false)
	f.insert(1, 1, 3000)
	assert.Equal(t, []string{OK}, f.check(0))

	tx := f.begin(true)
	root, err := tx.Pager().Get(f.table.Root)
	require.NoError(t, err)
	pi, err := btree.Inspect(f.table.Root, root)
	require.NoError(t, err)
	require.Len(t, pi.Cells, 1)
	first := pi.Cells[0].Overflow
	require.NotZero(t, first)
	buf, err := tx.Pager().Modify(first)
	require.NoError(t, err)
	util.WriteUB4(buf, 4, 0)
	require.NoError(t, tx.Commit())

	findings := f.check(0)
	assert.True(t, containing(findings, fmt.Sprintf("Overflow page %d chain too short", first)), "%v", findings)
}

func TestUnreadableHeader(t *testing.T) {
	f := newFixture(t, 1024)
	f.createPeople(false)

	tx := f.begin(false)
	defer tx.Rollback()
	_, err := f.file.WriteAt(bytes.Repeat([]byte{0xFF}, 16), 0)
	require.NoError(t, err)

	findings, err := Check(tx, 0)
	assert.Error(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], "Page 1")
}
