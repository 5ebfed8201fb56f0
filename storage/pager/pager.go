// Package pager stores fixed size pages in a file and applies them
// atomically through a write-ahead journal.
package pager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/storage/latch"
	"github.com/zhukovaskychina/xvdbe/terror"
)

// Options configures a Pager.
type Options struct {
	// Path of the database file. The journal is Path + "-wal". Ignored when
	// File is set.
	Path string

	// File and Journal replace the OS files, both must be set together.
	File    File
	Journal File

	PageSize    int
	MaxPages    uint32
	CachePages  int64
	BusyTimeout time.Duration
	NoSync      bool
}

const (
	DefaultMaxPages    = 1 << 20
	DefaultCachePages  = 2048
	DefaultBusyTimeout = 2 * time.Second
)

func (o *Options) setDefaults() {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages == 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.CachePages == 0 {
		o.CachePages = DefaultCachePages
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
}

// Pager hands out transactions over the pages of one file. Any number of
// read transactions run together with at most one write transaction.
type Pager struct {
	opts     Options
	file     File
	journal  *wal
	pageSize int

	mu        sync.Mutex
	committed Header
	broken    error
	closed    bool

	// writer serializes write transactions; readers hold checkpoint shared
	// for their lifetime so the main file never changes under them.
	writer     *latch.Latch
	checkpoint *latch.Latch

	cache *ristretto.Cache[uint32, []byte]
	stats Stats
}

// Stats are cumulative counters of a Pager.
type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
	Reads       uint64
	Writes      uint64
	Commits     uint64
	Rollbacks   uint64
}

// Open opens or creates a database. An existing journal is recovered
// before the header is read.
func Open(opts Options) (*Pager, error) {
	opts.setDefaults()
	if !ValidPageSize(opts.PageSize) {
		return nil, terror.ErrMisuse.Gen("invalid page size %d", opts.PageSize)
	}

	file, journal := opts.File, opts.Journal
	if file == nil || journal == nil {
		f, err := OpenOSFile(opts.Path)
		if err != nil {
			return nil, ioError("open", 0, err)
		}
		j, err := OpenOSFile(opts.Path + "-wal")
		if err != nil {
			f.Close()
			return nil, ioError("open journal", 0, err)
		}
		file, journal = f, j
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint32, []byte]{
		NumCounters:        opts.CachePages * 10,
		MaxCost:            opts.CachePages,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "page cache")
	}

	p := &Pager{
		opts:       opts,
		file:       file,
		journal:    &wal{f: journal, noSync: opts.NoSync},
		pageSize:   opts.PageSize,
		writer:     latch.NewLatch(),
		checkpoint: latch.NewLatch(),
		cache:      cache,
	}

	if err := p.recover(); err != nil {
		p.cache.Close()
		p.closeFiles()
		return nil, err
	}
	if err := p.loadHeader(); err != nil {
		p.cache.Close()
		p.closeFiles()
		return nil, err
	}
	return p, nil
}

// recover replays committed journal frames into the main file.
func (p *Pager) recover() error {
	size, err := p.file.Size()
	if err != nil {
		return ioError("stat", 0, err)
	}
	pageSize := p.pageSize
	if size >= HeaderSize {
		// the journal holds images of the file's own page size
		buf := make([]byte, HeaderSize)
		if _, err := p.file.ReadAt(buf, 0); err == nil {
			if h, err := DecodeHeader(buf); err == nil {
				pageSize = int(h.PageSize)
			}
		}
	}

	rec, err := p.journal.scan(pageSize)
	if err != nil {
		return ioError("recover", 0, err)
	}
	log := logger.WithComponent("pager")
	if rec.discarded > 0 {
		log.Warnf("discarded %d uncommitted journal frames", rec.discarded)
	}
	if rec.commits == 0 {
		if jsize, err := p.journal.f.Size(); err == nil && jsize == 0 {
			return nil
		}
		if err := p.journal.reset(); err != nil {
			return ioError("recover", 0, err)
		}
		return nil
	}

	for _, pgno := range sortedPages(rec.pages) {
		if _, err := p.file.WriteAt(rec.pages[pgno], int64(pgno-1)*int64(pageSize)); err != nil {
			return ioError("recover write", pgno, err)
		}
	}
	if err := p.syncFile(); err != nil {
		return ioError("recover sync", 0, err)
	}
	if err := p.journal.reset(); err != nil {
		return ioError("recover", 0, err)
	}
	log.WithField("pages", len(rec.pages)).Infof("recovered %d committed transactions from journal", rec.commits)
	return nil
}

func (p *Pager) loadHeader() error {
	size, err := p.file.Size()
	if err != nil {
		return ioError("stat", 0, err)
	}

	if size == 0 {
		h := Header{PageSize: uint32(p.pageSize), PageCount: 1}
		page := make([]byte, p.pageSize)
		h.Encode(page)
		if _, err := p.file.WriteAt(page, 0); err != nil {
			return ioError("init", 1, err)
		}
		if err := p.syncFile(); err != nil {
			return ioError("init sync", 1, err)
		}
		p.committed = h
		return nil
	}

	buf := make([]byte, HeaderSize)
	if n, _ := p.file.ReadAt(buf, 0); n < HeaderSize {
		return terror.ErrBadHeader.GenWithPage(1, "file is %d bytes", size)
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	if int(h.PageSize) != p.pageSize {
		logger.WithComponent("pager").Debugf("using file page size %d instead of %d", h.PageSize, p.pageSize)
		p.pageSize = int(h.PageSize)
	}
	p.committed = h
	return nil
}

func (p *Pager) syncFile() error {
	if p.opts.NoSync {
		return nil
	}
	return p.file.Sync()
}

// PageSize returns the size of every page in bytes.
func (p *Pager) PageSize() int { return p.pageSize }

// Header returns the last committed header.
func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// Stats returns a snapshot of the counters.
func (p *Pager) Stats() Stats {
	return Stats{
		CacheHits:   atomic.LoadUint64(&p.stats.CacheHits),
		CacheMisses: atomic.LoadUint64(&p.stats.CacheMisses),
		Reads:       atomic.LoadUint64(&p.stats.Reads),
		Writes:      atomic.LoadUint64(&p.stats.Writes),
		Commits:     atomic.LoadUint64(&p.stats.Commits),
		Rollbacks:   atomic.LoadUint64(&p.stats.Rollbacks),
	}
}

// Begin starts a transaction. A write transaction waits up to the busy
// timeout for the writer latch and fails with terror.ErrBusy.
func (p *Pager) Begin(writable bool) (*Tx, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}

	if !writable {
		p.checkpoint.RLock()
		p.mu.Lock()
		hdr := p.committed
		p.mu.Unlock()
		return &Tx{p: p, hdr: hdr}, nil
	}

	if !p.writer.TryLockFor(p.opts.BusyTimeout) {
		return nil, terror.ErrBusy.Gen("another write transaction is active")
	}
	if err := p.usable(); err != nil {
		p.writer.Unlock()
		return nil, err
	}
	p.mu.Lock()
	hdr := p.committed
	p.mu.Unlock()
	return &Tx{p: p, hdr: hdr, writable: true, dirty: make(map[uint32][]byte)}, nil
}

func (p *Pager) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return terror.ErrMisuse.Gen("pager is closed")
	}
	return p.broken
}

// readCommitted returns the committed image of pgno. The slice is shared
// and must not be modified.
func (p *Pager) readCommitted(pgno uint32) ([]byte, error) {
	if buf, ok := p.cache.Get(pgno); ok {
		atomic.AddUint64(&p.stats.CacheHits, 1)
		return buf, nil
	}
	atomic.AddUint64(&p.stats.CacheMisses, 1)

	buf := make([]byte, p.pageSize)
	n, err := p.file.ReadAt(buf, int64(pgno-1)*int64(p.pageSize))
	atomic.AddUint64(&p.stats.Reads, 1)
	if n < p.pageSize {
		if err == nil {
			err = terror.ErrShortRead.GenWithPage(pgno, "read %d of %d bytes", n, p.pageSize)
		}
		return nil, ioError("read", pgno, err)
	}
	p.cache.Set(pgno, buf, 1)
	return buf, nil
}

// readDisk bypasses the cache.
func (p *Pager) readDisk(pgno uint32) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	n, err := p.file.ReadAt(buf, int64(pgno-1)*int64(p.pageSize))
	if n < p.pageSize {
		if err == nil {
			err = terror.ErrShortRead.GenWithPage(pgno, "read %d of %d bytes", n, p.pageSize)
		}
		return nil, ioError("read", pgno, err)
	}
	return buf, nil
}

// Close releases the files. It fails with terror.ErrBusy while a write
// transaction is active.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if !p.writer.TryLockFor(p.opts.BusyTimeout) {
		return terror.ErrBusy.Gen("close with an active write transaction")
	}
	defer p.writer.Unlock()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cache.Close()
	return p.closeFiles()
}

func (p *Pager) closeFiles() error {
	err := p.file.Close()
	if jerr := p.journal.f.Close(); err == nil {
		err = jerr
	}
	if err != nil {
		return ioError("close", 0, err)
	}
	return nil
}
