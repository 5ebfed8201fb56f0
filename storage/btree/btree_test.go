package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

func newEngine(t *testing.T, pageSize int) *Engine {
	t.Helper()
	p, err := pager.Open(pager.Options{
		File:     pager.NewMemFile(),
		Journal:  pager.NewMemFile(),
		PageSize: pageSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return New(p, Options{})
}

func begin(t *testing.T, e *Engine, writable bool) *Tx {
	t.Helper()
	tx, err := e.Begin(writable)
	require.NoError(t, err)
	return tx
}

func payloadFor(rowid int64, size int) []byte {
	b := bytes.Repeat([]byte{byte(rowid)}, size)
	copy(b, fmt.Sprintf("%d:", rowid))
	return b
}

func createTable(t *testing.T, e *Engine) uint32 {
	t.Helper()
	tx := begin(t, e, true)
	root, err := tx.CreateTree(TableTree)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return root
}

func insertRows(t *testing.T, e *Engine, root uint32, rowids []int64, size int) {
	t.Helper()
	tx := begin(t, e, true)
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)
	for _, r := range rowids {
		require.NoError(t, c.Insert(r, payloadFor(r, size)))
	}
	require.NoError(t, tx.Commit())
}

func scanRowids(t *testing.T, tx *Tx, root uint32) []int64 {
	t.Helper()
	c, err := tx.Cursor(root, nil, false)
	require.NoError(t, err)
	defer c.Close()
	var out []int64
	ok, err := c.First()
	for ; ok; ok, err = c.Next() {
		r, err := c.Rowid()
		require.NoError(t, err)
		out = append(out, r)
	}
	require.NoError(t, err)
	return out
}

func seq(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestTableInsertAndScan(t *testing.T) {
	e := newEngine(t, 4096)
	root := createTable(t, e)

	rowids := seq(1, 1000)
	rand.New(rand.NewSource(1)).Shuffle(len(rowids), func(i, j int) { rowids[i], rowids[j] = rowids[j], rowids[i] })
	insertRows(t, e, root, rowids, 20)

	tx := begin(t, e, false)
	defer tx.Rollback()
	assert.Equal(t, seq(1, 1000), scanRowids(t, tx, root))

	st, err := tx.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), st.Entries)
	assert.LessOrEqual(t, st.Depth, 3)
	assert.GreaterOrEqual(t, st.MinFill, 40.0)

	c, err := tx.Cursor(root, nil, false)
	require.NoError(t, err)
	ok, err := c.SeekRowid(500, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	p, err := c.Payload()
	require.NoError(t, err)
	assert.Equal(t, payloadFor(500, 20), p)

	ok, err = c.Last()
	require.NoError(t, err)
	require.True(t, ok)
	r, _ := c.Rowid()
	assert.Equal(t, int64(1000), r)
	ok, err = c.Prev()
	require.NoError(t, err)
	require.True(t, ok)
	r, _ = c.Rowid()
	assert.Equal(t, int64(999), r)

	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
}

func TestSeekModes(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	var rowids []int64
	for i := int64(0); i < 300; i++ {
		rowids = append(rowids, i*10)
	}
	insertRows(t, e, root, rowids, 30)

	tx := begin(t, e, false)
	defer tx.Rollback()
	c, err := tx.Cursor(root, nil, false)
	require.NoError(t, err)

	cases := []struct {
		rowid int64
		mode  SeekMode
		ok    bool
		want  int64
	}{
		{500, SeekEQ, true, 500},
		{505, SeekEQ, false, 0},
		{505, SeekGE, true, 510},
		{500, SeekGE, true, 500},
		{500, SeekGT, true, 510},
		{505, SeekLE, true, 500},
		{500, SeekLE, true, 500},
		{500, SeekLT, true, 490},
		{0, SeekLT, false, 0},
		{-5, SeekGE, true, 0},
		{2990, SeekGT, false, 0},
		{99999, SeekLE, true, 2990},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %d", tc.mode, tc.rowid), func(t *testing.T) {
			ok, err := c.SeekRowid(tc.rowid, tc.mode)
			require.NoError(t, err)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.ok, c.Valid())
			if ok {
				r, err := c.Rowid()
				require.NoError(t, err)
				assert.Equal(t, tc.want, r)
			}
		})
	}
}

func TestOverflowPayload(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)

	big := make([]byte, 10000)
	rand.New(rand.NewSource(7)).Read(big)

	tx := begin(t, e, true)
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)
	require.NoError(t, c.Insert(1, big))
	require.NoError(t, c.Insert(2, []byte("small")))
	require.NoError(t, tx.Commit())

	tx = begin(t, e, false)
	c, err = tx.Cursor(root, nil, false)
	require.NoError(t, err)
	ok, err := c.SeekRowid(1, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.Payload()
	require.NoError(t, err)
	assert.Equal(t, big, got)

	st, err := tx.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, int64((10000-e.MaxKeySize()+OverflowCapacity(1024)-1)/OverflowCapacity(1024)), st.OverflowPages)
	require.NoError(t, tx.Rollback())

	// replacing the row frees its chain
	before := e.Pager().Header().FreelistCount
	tx = begin(t, e, true)
	c, err = tx.Cursor(root, nil, true)
	require.NoError(t, err)
	require.NoError(t, c.Insert(1, []byte("tiny")))
	require.NoError(t, tx.Commit())
	assert.Equal(t, before+uint32(st.OverflowPages), e.Pager().Header().FreelistCount)
}

func TestRandomOperations(t *testing.T) {
	for _, ps := range []int{1024, 4096} {
		t.Run(fmt.Sprintf("page %d", ps), func(t *testing.T) {
			e := newEngine(t, ps)
			root := createTable(t, e)
			rnd := rand.New(rand.NewSource(int64(ps)))
			model := make(map[int64]bool)

			tx := begin(t, e, true)
			c, err := tx.Cursor(root, nil, true)
			require.NoError(t, err)
			for i := 0; i < 4000; i++ {
				r := rnd.Int63n(1500)
				if rnd.Intn(10) < 6 {
					require.NoError(t, c.Insert(r, payloadFor(r, 40)))
					model[r] = true
					continue
				}
				ok, err := c.SeekRowid(r, SeekEQ)
				require.NoError(t, err)
				require.Equal(t, model[r], ok, "rowid %d", r)
				if ok {
					require.NoError(t, c.Delete())
					delete(model, r)
				}
			}
			require.NoError(t, tx.Commit())

			want := make([]int64, 0, len(model))
			for r := range model {
				want = append(want, r)
			}
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

			tx = begin(t, e, false)
			defer tx.Rollback()
			assert.Equal(t, want, scanRowids(t, tx, root))
			st, err := tx.Stats(root)
			require.NoError(t, err)
			assert.Equal(t, int64(len(want)), st.Entries)
			if st.Pages > 1 {
				assert.GreaterOrEqual(t, st.MinFill, 40.0)
			}
		})
	}
}

func TestDeleteEverything(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	insertRows(t, e, root, seq(1, 500), 40)

	tx := begin(t, e, true)
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)
	ok, err := c.First()
	require.NoError(t, err)
	for ok {
		require.NoError(t, c.Delete())
		ok, err = c.Next()
		require.NoError(t, err)
	}
	st, err := tx.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Entries)
	assert.Equal(t, int64(1), st.Pages, "root collapses back to a leaf")
	require.NoError(t, tx.Commit())
}

func TestDeleteThenMove(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	insertRows(t, e, root, seq(1, 200), 40)

	tx := begin(t, e, true)
	defer tx.Rollback()
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)

	ok, err := c.SeekRowid(100, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Delete())
	assert.False(t, c.Valid())
	_, err = c.Rowid()
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))

	ok, err = c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	r, _ := c.Rowid()
	assert.Equal(t, int64(101), r)

	ok, err = c.SeekRowid(50, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Delete())
	ok, err = c.Prev()
	require.NoError(t, err)
	require.True(t, ok)
	r, _ = c.Rowid()
	assert.Equal(t, int64(49), r)

	ok, err = c.SeekRowid(200, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Delete())
	ok, err = c.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorSurvivesOtherWriter(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	insertRows(t, e, root, seq(1, 10), 40)

	tx := begin(t, e, true)
	defer tx.Rollback()
	reader, err := tx.Cursor(root, nil, false)
	require.NoError(t, err)
	writer, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)

	ok, err := reader.SeekRowid(3, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)

	// enough rows to split the root several times
	for r := int64(1000); r < 1300; r++ {
		require.NoError(t, writer.Insert(r, payloadFor(r, 40)))
	}
	ok, err = writer.SeekRowid(4, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, writer.Delete())

	ok, err = reader.Next()
	require.NoError(t, err)
	require.True(t, ok)
	r, _ := reader.Rowid()
	assert.Equal(t, int64(5), r)

	ok, err = writer.SeekRowid(5, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, writer.Delete())
	_, err = reader.Rowid()
	assert.Error(t, err, "entry under the reader is gone")
}

func indexKey(s string, rowid int64) []byte {
	return record.Encode([]value.Value{value.Text(s), value.Int(rowid)})
}

func TestIndexTree(t *testing.T) {
	e := newEngine(t, 1024)
	ki, err := record.NewKeyInfo("NOCASE")
	require.NoError(t, err)

	tx := begin(t, e, true)
	root, err := tx.CreateTree(IndexTree)
	require.NoError(t, err)
	c, err := tx.Cursor(root, ki, true)
	require.NoError(t, err)
	for i, s := range []string{"cherry", "apple", "Banana", "APPLE", "date"} {
		require.NoError(t, c.InsertKey(indexKey(s, int64(i+1))))
	}
	// an equal key replaces
	require.NoError(t, c.InsertKey(indexKey("date", 5)))
	require.NoError(t, tx.Commit())

	tx = begin(t, e, false)
	defer tx.Rollback()
	c, err = tx.Cursor(root, ki, false)
	require.NoError(t, err)

	var got []string
	ok, err := c.First()
	for ; ok; ok, err = c.Next() {
		k, err := c.Key()
		require.NoError(t, err)
		vals, err := record.Decode(k)
		require.NoError(t, err)
		got = append(got, fmt.Sprintf("%s/%d", vals[0].Str(), vals[1].Int()))
	}
	require.NoError(t, err)
	assert.Equal(t, []string{"apple/2", "APPLE/4", "Banana/3", "cherry/1", "date/5"}, got)

	ok, err = c.Seek([]value.Value{value.Text("BANANA")}, SeekEQ)
	require.NoError(t, err)
	require.True(t, ok)
	k, _ := c.Key()
	v, _ := record.Column(k, 1)
	assert.Equal(t, int64(3), v.Int())

	ok, err = c.Seek([]value.Value{value.Text("Apple")}, SeekGT)
	require.NoError(t, err)
	require.True(t, ok)
	k, _ = c.Key()
	v, _ = record.Column(k, 0)
	assert.Equal(t, "Banana", v.Str())

	ok, err = c.Seek([]value.Value{value.Text("apple")}, SeekLE)
	require.NoError(t, err)
	require.True(t, ok)
	k, _ = c.Key()
	v, _ = record.Column(k, 1)
	assert.Equal(t, int64(4), v.Int(), "last key with the prefix")

	ok, err = c.Seek([]value.Value{value.Text("blueberry")}, SeekEQ)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Valid())

	_, err = c.SeekRowid(1, SeekEQ)
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))
}

func TestIndexRandom(t *testing.T) {
	e := newEngine(t, 4096)
	tx := begin(t, e, true)
	root, err := tx.CreateTree(IndexTree)
	require.NoError(t, err)
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(3))
	model := make(map[string]bool)
	for i := 0; i < 3000; i++ {
		s := fmt.Sprintf("key-%06d-%s", rnd.Intn(2000), bytes.Repeat([]byte("x"), 30))
		if rnd.Intn(10) < 7 {
			require.NoError(t, c.InsertKey(indexKey(s, 1)))
			model[s] = true
			continue
		}
		ok, err := c.Seek([]value.Value{value.Text(s), value.Int(1)}, SeekEQ)
		require.NoError(t, err)
		require.Equal(t, model[s], ok)
		if ok {
			require.NoError(t, c.Delete())
			delete(model, s)
		}
	}
	st, err := tx.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, int64(len(model)), st.Entries)
	if st.Pages > 1 {
		assert.GreaterOrEqual(t, st.MinFill, 40.0)
	}

	var prev []byte
	ok, err := c.First()
	for ; ok; ok, err = c.Next() {
		k, err := c.Key()
		require.NoError(t, err)
		if prev != nil {
			r, err := (*record.KeyInfo)(nil).CompareRecords(prev, k)
			require.NoError(t, err)
			require.Less(t, r, 0)
		}
		prev = append(prev[:0], k...)
	}
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestKeyTooLarge(t *testing.T) {
	e := newEngine(t, 1024)
	tx := begin(t, e, true)
	defer tx.Rollback()
	root, err := tx.CreateTree(IndexTree)
	require.NoError(t, err)
	c, err := tx.Cursor(root, nil, true)
	require.NoError(t, err)

	key := record.Encode([]value.Value{value.Text(string(bytes.Repeat([]byte("k"), e.MaxKeySize())))})
	err = c.InsertKey(key)
	assert.ErrorIs(t, err, terror.ErrKeyTooLarge)

	key = record.Encode([]value.Value{value.Text("ok")})
	assert.NoError(t, c.InsertKey(key))
}

func TestClearAndDrop(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	insertRows(t, e, root, seq(1, 300), 200)

	tx := begin(t, e, true)
	n, err := tx.ClearTree(root)
	require.NoError(t, err)
	assert.Equal(t, int64(300), n)
	st, err := tx.Stats(root)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Pages)
	require.NoError(t, tx.DropTree(root))
	require.NoError(t, tx.Commit())

	h := e.Pager().Header()
	assert.Equal(t, h.PageCount-1, h.FreelistCount, "every page but the header is free")

	// freed pages are reused
	root = createTable(t, e)
	assert.NotEqual(t, uint32(0), root)
	assert.Equal(t, h.PageCount, e.Pager().Header().PageCount)
}

func TestCursorMisuse(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)

	tx := begin(t, e, false)
	_, err := tx.Cursor(root, nil, true)
	assert.ErrorIs(t, err, terror.ErrReadOnly)

	c, err := tx.Cursor(root, nil, false)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Insert(1, nil), terror.ErrReadOnly)
	require.NoError(t, tx.Rollback())

	_, err = c.First()
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))
}

func TestInspect(t *testing.T) {
	e := newEngine(t, 1024)
	root := createTable(t, e)
	insertRows(t, e, root, seq(1, 100), 40)

	tx := begin(t, e, false)
	defer tx.Rollback()
	buf, err := tx.Pager().Get(root)
	require.NoError(t, err)
	pi, err := Inspect(root, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(TypeTableInterior), pi.Type)
	assert.True(t, pi.Table())
	assert.False(t, pi.Leaf())
	assert.NotZero(t, pi.Child(len(pi.Cells)))

	_, err = Inspect(1, make([]byte, 1024))
	assert.ErrorIs(t, err, terror.ErrBadPage)
}
