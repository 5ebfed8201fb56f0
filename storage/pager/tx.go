package pager

import (
	"sync/atomic"

	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/terror"
)

// Tx is a pager transaction. A read transaction sees the state committed
// when it began. A write transaction keeps modified pages private until
// Commit applies all of them or none.
type Tx struct {
	p        *Pager
	writable bool
	done     bool
	hdr      Header
	dirty    map[uint32][]byte

	onCommit   []func()
	onRollback []func()
}

func (tx *Tx) Writable() bool { return tx.writable }

// Done reports whether the transaction has been committed or rolled back.
func (tx *Tx) Done() bool { return tx.done }

func (tx *Tx) PageSize() int { return tx.p.pageSize }

// Header returns the transaction's view of the header. Changes made through
// a write transaction are committed with it.
func (tx *Tx) Header() *Header { return &tx.hdr }

func (tx *Tx) PageCount() uint32 { return tx.hdr.PageCount }

func (tx *Tx) Meta(i int) uint32 {
	if i < 0 || i >= NumMeta {
		return 0
	}
	return tx.hdr.Meta[i]
}

func (tx *Tx) SetMeta(i int, v uint32) error {
	if err := tx.writeCheck(); err != nil {
		return err
	}
	if i < 0 || i >= NumMeta {
		return terror.ErrMisuse.Gen("meta slot %d out of range", i)
	}
	tx.hdr.Meta[i] = v
	return nil
}

// OnCommit registers fn to run after a successful commit.
func (tx *Tx) OnCommit(fn func()) { tx.onCommit = append(tx.onCommit, fn) }

// OnRollback registers fn to run after rollback.
func (tx *Tx) OnRollback(fn func()) { tx.onRollback = append(tx.onRollback, fn) }

func (tx *Tx) check(pgno uint32) error {
	if tx.done {
		return terror.ErrTxDone
	}
	if pgno == 0 || pgno > tx.hdr.PageCount {
		return terror.ErrBadPage.GenWithPage(pgno, "page %d out of range, page count %d", pgno, tx.hdr.PageCount)
	}
	return nil
}

func (tx *Tx) writeCheck() error {
	if tx.done {
		return terror.ErrTxDone
	}
	if !tx.writable {
		return terror.ErrReadOnly
	}
	return nil
}

// Get returns the content of pgno. The slice must not be modified, use
// Modify for that.
func (tx *Tx) Get(pgno uint32) ([]byte, error) {
	if err := tx.check(pgno); err != nil {
		return nil, err
	}
	if buf, ok := tx.dirty[pgno]; ok {
		return buf, nil
	}
	return tx.p.readCommitted(pgno)
}

// Modify returns a private writable copy of pgno.
func (tx *Tx) Modify(pgno uint32) ([]byte, error) {
	if err := tx.writeCheck(); err != nil {
		return nil, err
	}
	if err := tx.check(pgno); err != nil {
		return nil, err
	}
	if buf, ok := tx.dirty[pgno]; ok {
		return buf, nil
	}
	src, err := tx.p.readCommitted(pgno)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(src))
	copy(buf, src)
	tx.dirty[pgno] = buf
	return buf, nil
}

// Allocate returns a zeroed page, reusing the freelist head when there is
// one. It fails with terror.ErrOutOfSpace past MaxPages.
func (tx *Tx) Allocate() (uint32, []byte, error) {
	if err := tx.writeCheck(); err != nil {
		return 0, nil, err
	}

	if head := tx.hdr.FreelistHead; head != 0 {
		if head > tx.hdr.PageCount {
			return 0, nil, terror.ErrCorrupt.GenWithPage(head, "freelist head %d beyond page count %d", head, tx.hdr.PageCount)
		}
		buf, err := tx.Get(head)
		if err != nil {
			return 0, nil, err
		}
		if !IsFreePage(buf) {
			return 0, nil, terror.ErrCorrupt.GenWithPage(head, "freelist page %d is not marked free", head)
		}
		tx.hdr.FreelistHead = FreeNext(buf)
		if tx.hdr.FreelistCount > 0 {
			tx.hdr.FreelistCount--
		}
		page := make([]byte, tx.p.pageSize)
		tx.dirty[head] = page
		return head, page, nil
	}

	if tx.hdr.PageCount >= tx.p.opts.MaxPages {
		return 0, nil, terror.ErrOutOfSpace.Gen("page limit %d reached", tx.p.opts.MaxPages)
	}
	tx.hdr.PageCount++
	pgno := tx.hdr.PageCount
	page := make([]byte, tx.p.pageSize)
	tx.dirty[pgno] = page
	return pgno, page, nil
}

// Free pushes pgno onto the freelist.
func (tx *Tx) Free(pgno uint32) error {
	if err := tx.writeCheck(); err != nil {
		return err
	}
	if err := tx.check(pgno); err != nil {
		return err
	}
	if pgno == 1 {
		return terror.ErrMisuse.Gen("cannot free the header page")
	}
	page, ok := tx.dirty[pgno]
	if !ok {
		page = make([]byte, tx.p.pageSize)
		tx.dirty[pgno] = page
	}
	stampFree(page, tx.hdr.FreelistHead)
	tx.hdr.FreelistHead = pgno
	tx.hdr.FreelistCount++
	return nil
}

// ReadHeader reads and validates page 1 from the file, skipping the cache.
func (tx *Tx) ReadHeader() (Header, error) {
	if tx.done {
		return Header{}, terror.ErrTxDone
	}
	buf, err := tx.p.readDisk(1)
	if err != nil {
		return Header{}, err
	}
	return DecodeHeader(buf)
}

// Commit makes the changes durable: journal frames, journal sync, commit
// marker, journal sync, then checkpoint into the main file. It waits for
// running readers and fails with terror.ErrBusy, leaving the transaction
// open, when they do not finish within the busy timeout.
func (tx *Tx) Commit() error {
	if tx.done {
		return terror.ErrTxDone
	}
	p := tx.p
	if !tx.writable {
		tx.done = true
		p.checkpoint.RUnlock()
		runHooks(tx.onCommit)
		return nil
	}

	p.mu.Lock()
	unchanged := len(tx.dirty) == 0 && tx.hdr == p.committed
	p.mu.Unlock()
	if unchanged {
		tx.finishWrite()
		runHooks(tx.onCommit)
		return nil
	}

	if !p.checkpoint.TryLockFor(p.opts.BusyTimeout) {
		return terror.ErrBusy.Gen("readers still active at commit")
	}

	tx.hdr.ChangeCounter++
	page1, ok := tx.dirty[1]
	if !ok {
		src, err := p.readCommitted(1)
		if err != nil {
			p.checkpoint.Unlock()
			tx.hdr.ChangeCounter--
			return err
		}
		page1 = make([]byte, len(src))
		copy(page1, src)
		tx.dirty[1] = page1
	}
	tx.hdr.Encode(page1)

	log := logger.WithComponent("pager")
	seq := tx.hdr.ChangeCounter

	if err := p.journal.appendPages(seq, tx.dirty); err != nil {
		if rerr := p.journal.reset(); rerr != nil {
			log.Warnf("reset journal after failed commit: %v", rerr)
		}
		p.checkpoint.Unlock()
		tx.rollback()
		return ioError("commit", 0, err)
	}

	if err := p.journal.commit(seq, tx.hdr.PageCount); err != nil {
		return tx.poison(err)
	}
	if err := p.apply(tx.dirty); err != nil {
		return tx.poison(err)
	}

	p.mu.Lock()
	p.committed = tx.hdr
	p.mu.Unlock()
	p.checkpoint.Unlock()

	atomic.AddUint64(&p.stats.Commits, 1)
	log.WithField("pages", len(tx.dirty)).Debugf("commit %d", seq)

	tx.finishWrite()
	runHooks(tx.onCommit)
	return nil
}

// apply checkpoints committed pages into the main file.
func (p *Pager) apply(pages map[uint32][]byte) error {
	for _, pgno := range sortedPages(pages) {
		if _, err := p.file.WriteAt(pages[pgno], int64(pgno-1)*int64(p.pageSize)); err != nil {
			return err
		}
		atomic.AddUint64(&p.stats.Writes, 1)
	}
	if err := p.syncFile(); err != nil {
		return err
	}
	if err := p.journal.reset(); err != nil {
		return err
	}

	// drain buffered sets first so none of them lands after the delete
	p.cache.Wait()
	for pgno := range pages {
		p.cache.Del(pgno)
	}
	return nil
}

// poison handles a failure after the commit marker may have reached the
// journal. Whether the transaction survived is only known after reopening.
func (tx *Tx) poison(cause error) error {
	p := tx.p
	err := ioError("commit", 0, cause)
	p.mu.Lock()
	p.broken = terror.ErrIO.Gen("commit interrupted after journal marker, reopen to recover: %v", cause)
	p.mu.Unlock()
	p.checkpoint.Unlock()
	logger.WithComponent("pager").Errorf("%v", err)
	tx.finishWrite()
	return err
}

// Rollback discards the changes. Rolling back a finished transaction is a
// no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		tx.done = true
		tx.p.checkpoint.RUnlock()
		runHooks(tx.onRollback)
		return nil
	}
	tx.rollback()
	return nil
}

func (tx *Tx) rollback() {
	atomic.AddUint64(&tx.p.stats.Rollbacks, 1)
	tx.finishWrite()
	runHooks(tx.onRollback)
}

func (tx *Tx) finishWrite() {
	tx.done = true
	tx.dirty = nil
	tx.p.writer.Unlock()
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
