// Package engine ties the storage layers, the schema catalog and the
// bytecode interpreter into one database instance.
package engine

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xvdbe/conf"
	"github.com/zhukovaskychina/xvdbe/integrity"
	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/vdbe"
)

// Options locate the database. File and Journal replace the files at
// Path, both must be set together.
type Options struct {
	Path    string
	File    pager.File
	Journal pager.File

	// Config defaults to conf.NewCfg().
	Config *conf.Cfg
	// InitLogger applies the [logs] section to the global loggers.
	InitLogger bool
}

// DB is one open database. It owns the schema generation counter shared by
// all of its connections.
type DB struct {
	cfg *conf.Cfg
	log *logrus.Entry

	pager  *pager.Pager
	engine *btree.Engine

	counter *schema.Counter
	cache   *schema.Cache
	funcs   *vdbe.FuncRegistry

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// Open opens or creates the database described by opts.
func Open(opts Options) (*DB, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	if opts.InitLogger {
		if err := logger.InitLogger(logger.LogConfig{
			ErrorLogPath: cfg.Logs.LogError,
			InfoLogPath:  cfg.Logs.LogInfos,
			LogLevel:     cfg.Logs.LogLevel,
		}); err != nil {
			return nil, errors.Wrap(err, "init logger")
		}
	}

	db := &DB{
		cfg:     cfg,
		log:     logger.WithComponent("engine"),
		counter: &schema.Counter{},
		funcs:   vdbe.Builtins(),
		conns:   make(map[*Conn]struct{}),
	}
	if err := db.initStorageLayer(opts); err != nil {
		return nil, err
	}
	if err := db.initSchemaLayer(); err != nil {
		db.pager.Close()
		return nil, err
	}
	db.log.WithField("path", opts.Path).Infof("database open, page size %d, schema generation %d",
		db.pager.PageSize(), db.counter.Load())
	return db, nil
}

func (db *DB) initStorageLayer(opts Options) error {
	e := &db.cfg.Engine
	p, err := pager.Open(pager.Options{
		Path:        opts.Path,
		File:        opts.File,
		Journal:     opts.Journal,
		PageSize:    e.PageSize,
		MaxPages:    uint32(e.MaxPages),
		CachePages:  e.CachePages,
		BusyTimeout: e.BusyTimeoutDuration,
		NoSync:      e.NoSync,
	})
	if err != nil {
		return errors.Wrapf(err, "open database %s", opts.Path)
	}
	db.pager = p
	db.engine = btree.New(p, btree.Options{MinFillPercent: e.MinFillPercent})
	return nil
}

func (db *DB) initSchemaLayer() error {
	tx, err := db.engine.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	db.counter.Store(schema.Generation(tx))
	db.cache = schema.NewCache(db.counter)
	return nil
}

// Config is the configuration the database was opened with.
func (db *DB) Config() *conf.Cfg { return db.cfg }

// Engine is the b-tree engine of the database.
func (db *DB) Engine() *btree.Engine { return db.engine }

// Funcs is the function registry shared by all connections.
func (db *DB) Funcs() *vdbe.FuncRegistry { return db.funcs }

// Generation is the live schema generation.
func (db *DB) Generation() uint32 { return db.counter.Load() }

func (db *DB) begin(writable bool) (*btree.Tx, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, terror.ErrMisuse.Gen("database is closed")
	}
	tx, err := db.engine.Begin(writable)
	if err != nil {
		return nil, err
	}
	if writable {
		db.counter.Track(tx)
	}
	return tx, nil
}

// Catalog returns the tables and indexes of the live schema.
func (db *DB) Catalog() (*schema.Catalog, error) {
	return db.cache.Get(func() (*schema.Catalog, error) {
		tx, err := db.begin(false)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		return schema.Load(tx)
	})
}

// View runs fn in a read transaction.
func (db *DB) View(fn func(tx *btree.Tx) error) error {
	tx, err := db.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Update runs fn in a write transaction and commits when fn succeeds.
func (db *DB) Update(fn func(tx *btree.Tx) error) error {
	tx, err := db.begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// IntegrityCheck verifies the whole database inside one read transaction.
// maxFindings <= 0 uses the configured limit.
func (db *DB) IntegrityCheck(maxFindings int) ([]string, error) {
	if maxFindings <= 0 {
		maxFindings = db.cfg.Integrity.MaxFindings
	}
	var findings []string
	err := db.View(func(tx *btree.Tx) error {
		var err error
		findings, err = integrity.Check(tx, maxFindings)
		return err
	})
	return findings, err
}

// Info describes the file of the database.
type Info struct {
	PageSize      int
	PageCount     uint32
	FreelistCount uint32
	Generation    uint32
	UserVersion   uint32
	Tables        []string
	Stats         pager.Stats
}

// Size is the file size in bytes.
func (i *Info) Size() uint64 { return uint64(i.PageSize) * uint64(i.PageCount) }

// Info reads the header and the table names.
func (db *DB) Info() (*Info, error) {
	info := &Info{PageSize: db.pager.PageSize(), Stats: db.pager.Stats()}
	err := db.View(func(tx *btree.Tx) error {
		hdr := tx.Pager().Header()
		info.PageCount = hdr.PageCount
		info.FreelistCount = hdr.FreelistCount
		info.Generation = schema.Generation(tx)
		info.UserVersion = tx.Pager().Meta(pager.MetaUserVersion)
		cat, err := schema.Load(tx)
		if err != nil {
			return err
		}
		info.Tables = cat.TableNames()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Conn opens a connection in autocommit mode.
func (db *DB) Conn() *Conn {
	c := &Conn{db: db, auto: true}
	db.mu.Lock()
	db.conns[c] = struct{}{}
	db.mu.Unlock()
	return c
}

func (db *DB) release(c *Conn) {
	db.mu.Lock()
	delete(db.conns, c)
	db.mu.Unlock()
}

// Close closes every connection and the files. Open transactions of the
// connections are rolled back.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	conns := make([]*Conn, 0, len(db.conns))
	for c := range db.conns {
		conns = append(conns, c)
	}
	db.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	db.log.Infof("database closed")
	return db.pager.Close()
}
