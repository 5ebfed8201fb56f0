package vdbe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
)

func autoCommit(t *testing.T, h *testHost, p1, p2 int) error {
	t.Helper()
	b := NewBuilder(h.Generation())
	b.Add(OpAutoCommit, p1, p2, 0)
	_, err := run(t, h, mustProgram(t, b))
	return err
}

func TestExplicitTransaction(t *testing.T) {
	h := newTestHost(t)
	root := createTree(t, h, btree.TableTree)

	require.NoError(t, autoCommit(t, h, 0, 0))
	assert.False(t, h.AutoCommit())
	assert.True(t, terror.IsClass(autoCommit(t, h, 0, 0), terror.ClassMisuse))

	insertPeople(t, h, root, []string{"a", "b"})
	require.NotNil(t, h.Tx(), "statements share the explicit transaction")
	assert.True(t, h.Tx().Writable())
	assert.Len(t, scanPeople(t, h, root), 2, "own writes are visible")

	require.NoError(t, autoCommit(t, h, 1, 1))
	assert.True(t, h.AutoCommit())
	assert.Nil(t, h.Tx())
	assert.Empty(t, scanPeople(t, h, root), "rolled back")

	require.NoError(t, autoCommit(t, h, 0, 0))
	insertPeople(t, h, root, []string{"c"})
	require.NoError(t, autoCommit(t, h, 1, 0))
	assert.Len(t, scanPeople(t, h, root), 1)

	assert.True(t, terror.IsClass(autoCommit(t, h, 1, 0), terror.ClassMisuse), "no transaction is active")
}

func TestExplicitReadUpgrade(t *testing.T) {
	h := newTestHost(t)
	root := createTree(t, h, btree.TableTree)

	require.NoError(t, autoCommit(t, h, 0, 0))
	assert.Empty(t, scanPeople(t, h, root))
	require.NotNil(t, h.Tx())
	assert.False(t, h.Tx().Writable())

	insertPeople(t, h, root, []string{"a"})
	assert.True(t, h.Tx().Writable())
	require.NoError(t, autoCommit(t, h, 1, 0))
	assert.Len(t, scanPeople(t, h, root), 1)
}

func TestUpgradeWithOpenCursors(t *testing.T) {
	h := newTestHost(t)
	root := createTree(t, h, btree.TableTree)

	b := NewBuilder(0)
	b.Regs(3)
	b.Add(OpTransaction, 0, 0, 0)
	b.Add(OpOpenRead, 0, root, 0)
	b.Add(OpTransaction, 0, 1, 0)
	_, err := run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassMisuse), "%v", err)

	b = NewBuilder(0)
	b.Regs(3)
	b.Add(OpTransaction, 0, 0, 0)
	b.Add(OpOpenRead, 0, root, 0)
	b.Add(OpClose, 0, 0, 0)
	b.Add(OpTransaction, 0, 1, 0)
	b.Add(OpOpenWrite, 0, root, 0)
	b.Add(OpInteger, 7, 0, 0)
	b.AddP4(OpMakeRecord, 0, 1, 1, "D")
	b.Add(OpNewRowid, 0, 2, 0)
	b.Add(OpInsert, 0, 1, 2)
	_, err = run(t, h, mustProgram(t, b))
	require.NoError(t, err)

	rows := scanPeople(t, h, root)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0][1].Int())
}

func TestErrorAbortsExplicitTransaction(t *testing.T) {
	h := newTestHost(t)
	root := createTree(t, h, btree.TableTree)

	require.NoError(t, autoCommit(t, h, 0, 0))
	insertPeople(t, h, root, []string{"a"})

	b := NewBuilder(0)
	b.Add(OpTransaction, 0, 1, 0)
	b.AddP4(OpHalt, 1, 0, 0, "boom")
	_, err := run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassConstraint))
	assert.True(t, h.AutoCommit())
	assert.Nil(t, h.Tx())
	assert.Empty(t, scanPeople(t, h, root))
}

func TestCookiesAndTrees(t *testing.T) {
	h := newTestHost(t)

	b := NewBuilder(0)
	b.Regs(4)
	b.Add(OpTransaction, 0, 1, 0)
	b.Add(OpCreateBtree, 0, 0, 1)
	b.Add(OpCreateBtree, 0, 1, 2)
	b.Add(OpReadCookie, 0, 2, pager.MetaUserVersion)
	b.Add(OpSetCookie, 0, pager.MetaUserVersion, 42)
	b.Add(OpReadCookie, 0, 3, pager.MetaUserVersion)
	b.Add(OpResultRow, 0, 4, 0)
	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	table, index := int(rows[0][0].Int()), int(rows[0][1].Int())
	assert.NotEqual(t, table, index)
	assert.Equal(t, int64(0), rows[0][2].Int())
	assert.Equal(t, int64(42), rows[0][3].Int())

	tx, err := h.Begin(false)
	require.NoError(t, err)
	kind, err := tx.Kind(uint32(index))
	require.NoError(t, err)
	assert.Equal(t, btree.IndexTree, kind)
	assert.Equal(t, uint32(42), tx.Pager().Meta(pager.MetaUserVersion))
	require.NoError(t, tx.Rollback())

	insertPeople(t, h, table, []string{"a", "b", "c"})

	b = NewBuilder(0)
	b.Regs(1)
	b.Add(OpTransaction, 0, 1, 0)
	b.Add(OpInteger, 10, 0, 0)
	b.Add(OpClear, table, 0, 0)
	b.Add(OpDestroy, index, 0, 0)
	b.Add(OpResultRow, 0, 1, 0)
	rows, err = run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	assert.Equal(t, int64(10), rows[0][0].Int(), "P3 == 0 keeps the register")
	assert.Empty(t, scanPeople(t, h, table))

	// a read transaction can not change trees
	b = NewBuilder(0)
	b.Regs(1)
	b.Add(OpTransaction, 0, 0, 0)
	b.Add(OpCreateBtree, 0, 0, 1)
	_, err = run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))
}

func TestSchemaCookie(t *testing.T) {
	h := newTestHost(t)

	b := NewBuilder(0)
	b.Regs(1)
	b.Add(OpTransaction, 0, 1, 0)
	b.Add(OpSetCookie, 0, pager.MetaSchemaGeneration, 1)
	b.Add(OpParseSchema, 0, 0, 0)
	_, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	assert.Equal(t, 2, h.changed)
	assert.Equal(t, uint32(1), h.Generation(), "picked up at commit")

	// programs compiled before the change are stale now
	b = NewBuilder(0)
	b.Add(OpTransaction, 0, 0, 0)
	_, err = run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassSchema))

	b = NewBuilder(1)
	b.Add(OpTransaction, 0, 0, 0)
	_, err = run(t, h, mustProgram(t, b))
	assert.NoError(t, err)
}
