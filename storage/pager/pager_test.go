package pager

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/terror"
)

var errInjected = errors.New("injected fault")

type disk struct {
	main, wal *MemFile
}

func newDisk() *disk {
	return &disk{main: NewMemFile(), wal: NewMemFile()}
}

func (d *disk) open(t *testing.T, opts Options) *Pager {
	t.Helper()
	opts.File, opts.Journal = d.main, d.wal
	if opts.PageSize == 0 {
		opts.PageSize = 512
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 20 * time.Millisecond
	}
	p, err := Open(opts)
	require.NoError(t, err)
	return p
}

// writePage allocates a page, fills its first bytes with s and commits.
func writePage(t *testing.T, p *Pager, s string) uint32 {
	t.Helper()
	tx, err := p.Begin(true)
	require.NoError(t, err)
	pgno, buf, err := tx.Allocate()
	require.NoError(t, err)
	copy(buf, s)
	require.NoError(t, tx.Commit())
	return pgno
}

func readPage(t *testing.T, p *Pager, pgno uint32, n int) string {
	t.Helper()
	tx, err := p.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()
	buf, err := tx.Get(pgno)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestOpenAndCommit(t *testing.T) {
	d := newDisk()
	p := d.open(t, Options{})

	h := p.Header()
	assert.Equal(t, uint32(1), h.PageCount)
	assert.Equal(t, uint32(512), h.PageSize)

	pgno := writePage(t, p, "hello")
	assert.Equal(t, uint32(2), pgno)
	assert.Equal(t, "hello", readPage(t, p, pgno, 5))
	assert.Equal(t, uint32(1), p.Header().ChangeCounter)
	require.NoError(t, p.Close())

	p = d.open(t, Options{PageSize: 4096})
	defer p.Close()
	assert.Equal(t, 512, p.PageSize(), "file page size wins")
	assert.Equal(t, "hello", readPage(t, p, pgno, 5))
	ok, msg := assertions.So(p.Header().PageCount, assertions.ShouldEqual, uint32(2))
	assert.True(t, ok, msg)
}

func TestRollback(t *testing.T) {
	p := newDisk().open(t, Options{})
	defer p.Close()

	pgno := writePage(t, p, "one")

	tx, err := p.Begin(true)
	require.NoError(t, err)
	buf, err := tx.Modify(pgno)
	require.NoError(t, err)
	copy(buf, "two")
	_, _, err = tx.Allocate()
	require.NoError(t, err)
	require.NoError(t, tx.SetMeta(MetaUserVersion, 9))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	assert.Equal(t, "one", readPage(t, p, pgno, 3))
	assert.Equal(t, uint32(2), p.Header().PageCount)
	assert.Equal(t, uint32(0), p.Header().Meta[MetaUserVersion])
	assert.Equal(t, uint64(1), p.Stats().Rollbacks)

	assert.ErrorIs(t, tx.Commit(), terror.ErrTxDone)
}

func TestFreelist(t *testing.T) {
	p := newDisk().open(t, Options{})
	defer p.Close()

	a := writePage(t, p, "a")
	b := writePage(t, p, "b")

	tx, err := p.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Free(a))
	require.NoError(t, tx.Free(b))
	assert.Error(t, tx.Free(1))
	require.NoError(t, tx.Commit())

	h := p.Header()
	assert.Equal(t, b, h.FreelistHead)
	assert.Equal(t, uint32(2), h.FreelistCount)

	tx, err = p.Begin(false)
	require.NoError(t, err)
	buf, err := tx.Get(b)
	require.NoError(t, err)
	assert.True(t, IsFreePage(buf))
	assert.Equal(t, a, FreeNext(buf))
	require.NoError(t, tx.Commit())

	tx, err = p.Begin(true)
	require.NoError(t, err)
	got1, buf, err := tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, b, got1)
	assert.False(t, IsFreePage(buf))
	got2, _, err := tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, got2)
	got3, _, err := tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got3)
	assert.Equal(t, uint32(0), tx.Header().FreelistCount)
	require.NoError(t, tx.Commit())
}

func TestOutOfSpace(t *testing.T) {
	p := newDisk().open(t, Options{MaxPages: 3})
	defer p.Close()

	tx, err := p.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()

	for i := 0; i < 2; i++ {
		_, _, err := tx.Allocate()
		require.NoError(t, err)
	}
	_, _, err = tx.Allocate()
	assert.True(t, terror.IsClass(err, terror.ClassFull), "%v", err)
}

func TestPageBounds(t *testing.T) {
	p := newDisk().open(t, Options{})
	defer p.Close()

	tx, err := p.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Get(0)
	assert.ErrorIs(t, err, terror.ErrBadPage)
	_, err = tx.Get(2)
	assert.ErrorIs(t, err, terror.ErrBadPage)
	assert.Equal(t, uint32(2), terror.PageOf(err))

	_, err = tx.Modify(1)
	assert.ErrorIs(t, err, terror.ErrReadOnly)
}

func TestCrashRecovery(t *testing.T) {
	t.Run("journal write fails", func(t *testing.T) {
		d := newDisk()
		p := d.open(t, Options{})
		pgno := writePage(t, p, "old")

		d.wal.SetFault(func(op Op, off int64, n int) error {
			if op == OpWrite {
				return errInjected
			}
			return nil
		})
		tx, err := p.Begin(true)
		require.NoError(t, err)
		buf, err := tx.Modify(pgno)
		require.NoError(t, err)
		copy(buf, "new")
		err = tx.Commit()
		assert.True(t, terror.IsClass(err, terror.ClassIO), "%v", err)
		assert.True(t, tx.Done())

		d.wal.SetFault(nil)
		assert.Equal(t, "old", readPage(t, p, pgno, 3))
	})

	t.Run("crash before commit marker", func(t *testing.T) {
		d := newDisk()
		p := d.open(t, Options{})
		pgno := writePage(t, p, "old")

		// page frames reach the journal, the marker does not
		writes := 0
		d.wal.SetFault(func(op Op, off int64, n int) error {
			if op == OpWrite {
				writes++
				if writes > 2 {
					return errInjected
				}
			}
			if op == OpTruncate {
				return errInjected
			}
			return nil
		})

		tx, err := p.Begin(true)
		require.NoError(t, err)
		buf, err := tx.Modify(pgno)
		require.NoError(t, err)
		copy(buf, "new")
		require.Error(t, tx.Commit())

		_, err = p.Begin(false)
		assert.True(t, terror.IsClass(err, terror.ClassIO))

		d.wal.SetFault(nil)
		size, _ := d.wal.Size()
		assert.NotZero(t, size, "uncommitted frames left behind")

		p = d.open(t, Options{})
		defer p.Close()
		assert.Equal(t, "old", readPage(t, p, pgno, 3))
		size, _ = d.wal.Size()
		assert.Zero(t, size)
	})

	t.Run("crash after commit marker", func(t *testing.T) {
		d := newDisk()
		p := d.open(t, Options{})
		pgno := writePage(t, p, "old")

		d.main.SetFault(func(op Op, off int64, n int) error {
			if op == OpWrite {
				return errInjected
			}
			return nil
		})

		tx, err := p.Begin(true)
		require.NoError(t, err)
		buf, err := tx.Modify(pgno)
		require.NoError(t, err)
		copy(buf, "new")
		extra, buf2, err := tx.Allocate()
		require.NoError(t, err)
		copy(buf2, "extra")
		require.Error(t, tx.Commit())
		require.NoError(t, p.Close())

		d.main.SetFault(nil)
		p = d.open(t, Options{})
		defer p.Close()
		assert.Equal(t, "new", readPage(t, p, pgno, 3))
		assert.Equal(t, "extra", readPage(t, p, extra, 5))
		assert.Equal(t, extra, p.Header().PageCount)
	})
}

func TestCorruptHeader(t *testing.T) {
	d := newDisk()
	p := d.open(t, Options{})
	require.NoError(t, p.Close())

	_, err := d.main.WriteAt([]byte("garbage"), 40)
	require.NoError(t, err)

	_, err = Open(Options{File: d.main, Journal: d.wal})
	assert.ErrorIs(t, err, terror.ErrBadHeader)
	assert.Equal(t, uint32(1), terror.PageOf(err))
}

func TestConcurrency(t *testing.T) {
	t.Run("readers see the pre-commit state", func(t *testing.T) {
		p := newDisk().open(t, Options{})
		defer p.Close()
		pgno := writePage(t, p, "v1")

		reader, err := p.Begin(false)
		require.NoError(t, err)

		writer, err := p.Begin(true)
		require.NoError(t, err)
		buf, err := writer.Modify(pgno)
		require.NoError(t, err)
		copy(buf, "v2")

		got, err := reader.Get(pgno)
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got[:2]))

		err = writer.Commit()
		assert.ErrorIs(t, err, terror.ErrBusy, "commit waits for the reader")
		assert.False(t, writer.Done())

		require.NoError(t, reader.Commit())
		require.NoError(t, writer.Commit())
		assert.Equal(t, "v2", readPage(t, p, pgno, 2))
	})

	t.Run("second writer is busy", func(t *testing.T) {
		p := newDisk().open(t, Options{})
		defer p.Close()

		w1, err := p.Begin(true)
		require.NoError(t, err)

		start := time.Now()
		_, err = p.Begin(true)
		assert.ErrorIs(t, err, terror.ErrBusy)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

		require.NoError(t, w1.Rollback())
		w2, err := p.Begin(true)
		require.NoError(t, err)
		require.NoError(t, w2.Rollback())
	})

	t.Run("commit hooks", func(t *testing.T) {
		p := newDisk().open(t, Options{})
		defer p.Close()

		var committed, rolledBack int
		tx, err := p.Begin(true)
		require.NoError(t, err)
		tx.OnCommit(func() { committed++ })
		tx.OnRollback(func() { rolledBack++ })
		_, _, err = tx.Allocate()
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.Equal(t, 1, committed)
		assert.Equal(t, 0, rolledBack)
	})
}

func TestWALScan(t *testing.T) {
	j := &wal{f: NewMemFile()}
	img := make([]byte, 512)
	copy(img, "page")

	require.NoError(t, j.appendPages(7, map[uint32][]byte{3: img}))
	require.NoError(t, j.commit(7, 3))
	require.NoError(t, j.appendPages(8, map[uint32][]byte{4: img}))

	rec, err := j.scan(512)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.commits)
	assert.Equal(t, 1, rec.discarded)
	assert.Equal(t, uint32(3), rec.pageCount)
	assert.Equal(t, img, rec.pages[3])
	assert.NotContains(t, rec.pages, uint32(4))

	// a flipped byte in the second commit's frame ends the scan there
	require.NoError(t, j.commit(8, 4))
	raw := j.f.(*MemFile)
	size, _ := raw.Size()
	last := make([]byte, 1)
	_, err = raw.ReadAt(last, size-1)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{last[0] ^ 0xFF}, size-1)
	require.NoError(t, err)

	rec, err = j.scan(512)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.commits)
}
