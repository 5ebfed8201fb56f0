package engine

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/vdbe"
)

// maxSchemaRetries bounds how often ExecCompiled recompiles a statement
// that lost a race with a schema change.
const maxSchemaRetries = 5

var _ vdbe.Host = (*Conn)(nil)

// Conn is a connection: the host programs run on. It holds the explicit
// transaction, if any, and the autocommit flag. A Conn must not be used
// by several goroutines at once.
type Conn struct {
	db *DB

	tx     *btree.Tx
	auto   bool
	stmts  map[*Stmt]struct{}
	closed bool
}

// Begin starts a transaction on behalf of a program.
func (c *Conn) Begin(writable bool) (*btree.Tx, error) {
	if c.closed {
		return nil, terror.ErrMisuse.Gen("connection is closed")
	}
	return c.db.begin(writable)
}

func (c *Conn) Generation() uint32 { return c.db.Generation() }

func (c *Conn) Funcs() *vdbe.FuncRegistry { return c.db.funcs }

func (c *Conn) Tx() *btree.Tx { return c.tx }

func (c *Conn) SetTx(tx *btree.Tx) { c.tx = tx }

func (c *Conn) AutoCommit() bool { return c.auto }

func (c *Conn) SetAutoCommit(on bool) { c.auto = on }

// SchemaChanged drops the cached catalog once tx commits, at once when tx
// is nil.
func (c *Conn) SchemaChanged(tx *btree.Tx) {
	if tx == nil {
		c.db.cache.Invalidate()
		return
	}
	tx.OnCommit(c.db.cache.Invalidate)
	tx.OnRollback(c.db.cache.Invalidate)
}

// InTransaction reports whether an explicit transaction is open.
func (c *Conn) InTransaction() bool { return !c.auto }

// Prepare binds prog to the connection.
func (c *Conn) Prepare(prog *vdbe.Program) (*Stmt, error) {
	if c.closed {
		return nil, terror.ErrMisuse.Gen("connection is closed")
	}
	vm, err := vdbe.New(prog, c)
	if err != nil {
		return nil, err
	}
	s := &Stmt{conn: c, vm: vm}
	if c.stmts == nil {
		c.stmts = make(map[*Stmt]struct{})
	}
	c.stmts[s] = struct{}{}
	return s, nil
}

// Exec runs prog to completion and returns its rows.
func (c *Conn) Exec(ctx context.Context, prog *vdbe.Program) ([]Row, error) {
	s, err := c.Prepare(prog)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.All(ctx)
}

// Compiler builds a program against cat. The program must carry
// cat.Generation.
type Compiler func(cat *schema.Catalog) (*vdbe.Program, error)

// ExecCompiled compiles and runs a statement, compiling it again when the
// schema changed underneath it.
func (c *Conn) ExecCompiled(ctx context.Context, compile Compiler) ([]Row, error) {
	var lastErr error
	for attempt := 0; attempt < maxSchemaRetries; attempt++ {
		cat, err := c.catalog()
		if err != nil {
			return nil, err
		}
		prog, err := compile(cat)
		if err != nil {
			return nil, errors.Annotate(err, "compile")
		}
		rows, err := c.Exec(ctx, prog)
		if err == nil || !terror.IsClass(err, terror.ClassSchema) {
			return rows, err
		}
		c.db.log.WithField("attempt", attempt+1).Debugf("recompiling: %v", err)
		c.db.cache.Invalidate()
		lastErr = err
	}
	return nil, errors.Annotatef(lastErr, "schema kept changing after %d attempts", maxSchemaRetries)
}

// catalog is the schema the connection sees: the one of its explicit
// transaction, or the live one.
func (c *Conn) catalog() (*schema.Catalog, error) {
	if c.tx != nil && !c.tx.Done() {
		return schema.Load(c.tx)
	}
	return c.db.Catalog()
}

// writeTx returns the transaction DDL runs in and whether the caller owns
// it. Inside an explicit transaction it is the transaction of the
// connection, upgraded when read-only.
func (c *Conn) writeTx() (*btree.Tx, bool, error) {
	if c.tx != nil && !c.tx.Done() {
		if c.tx.Writable() {
			return c.tx, false, nil
		}
		c.tx.Rollback()
		tx, err := c.Begin(true)
		if err != nil {
			c.tx, c.auto = nil, true
			return nil, false, err
		}
		c.tx = tx
		return tx, false, nil
	}
	tx, err := c.Begin(true)
	if err != nil || c.auto {
		return tx, true, err
	}
	// explicit transaction without a transaction yet
	c.tx = tx
	return tx, false, nil
}

// ddl runs fn in the write transaction of the connection.
func (c *Conn) ddl(fn func(tx *btree.Tx) error) error {
	tx, owned, err := c.writeTx()
	if err != nil {
		return err
	}
	c.SchemaChanged(tx)
	if err := fn(tx); err != nil {
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

// Close finalizes the statements and rolls back an open transaction.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	for s := range c.stmts {
		s.Close()
	}
	if c.tx != nil && !c.tx.Done() {
		c.tx.Rollback()
	}
	c.tx, c.auto, c.closed = nil, true, true
	c.db.release(c)
	return nil
}
