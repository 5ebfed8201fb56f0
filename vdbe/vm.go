// Package vdbe runs compiled programs: a register machine whose
// instructions read and write registers and move cursors over b-trees.
package vdbe

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// Host is the connection a VM runs on.
type Host interface {
	// Begin starts a b-tree transaction.
	Begin(writable bool) (*btree.Tx, error)
	// Generation is the schema generation programs are checked against
	// when no transaction is open.
	Generation() uint32
	Funcs() *FuncRegistry

	// Tx is the explicit transaction of the connection, nil if none.
	Tx() *btree.Tx
	SetTx(tx *btree.Tx)
	AutoCommit() bool
	SetAutoCommit(on bool)

	// SchemaChanged is called when a program changed the schema in tx.
	SchemaChanged(tx *btree.Tx)
}

// State is the run state of a VM.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateRow
	StateDone
	StateError
)

func (s State) String() string {
	return [...]string{"ready", "running", "row", "done", "error"}[s]
}

type handler func(vm *VM, in *Instruction) error

var handlers [numOpcodes]handler

// VM executes one program.
type VM struct {
	prog    *Program
	host    Host
	regs    *Registers
	cursors *CursorTable

	pc    int
	state State
	err   error
	row   []value.Value

	tx       *btree.Tx
	ownsTx   bool
	verified bool
	once     map[int]bool
	aggs     map[int]Aggregate
	changes  int64

	interrupted int32
}

// New prepares prog for execution on host.
func New(prog *Program, host Host) (*VM, error) {
	if err := prog.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &VM{
		prog:    prog,
		host:    host,
		regs:    NewRegisters(prog.NumRegs),
		cursors: NewCursorTable(prog.NumCursors),
		once:    make(map[int]bool),
	}, nil
}

func (vm *VM) Program() *Program { return vm.prog }

func (vm *VM) State() State { return vm.state }

// Err is the error the VM halted with.
func (vm *VM) Err() error { return vm.err }

// Row returns the row of the last StateRow step. It is valid until the
// next Step.
func (vm *VM) Row() []value.Value { return vm.row }

// Changes counts the rows inserted or deleted by table writes.
func (vm *VM) Changes() int64 { return vm.changes }

func (vm *VM) Registers() *Registers { return vm.regs }

// Interrupt makes the VM stop before its next instruction. It may be
// called from another goroutine.
func (vm *VM) Interrupt() { atomic.StoreInt32(&vm.interrupted, 1) }

// Step runs until the next row, completion or an error.
func (vm *VM) Step(ctx context.Context) (State, error) {
	switch vm.state {
	case StateDone:
		return StateDone, nil
	case StateError:
		return StateError, vm.err
	}
	vm.state = StateRunning
	vm.row = nil

	insns := vm.prog.Insns
	for {
		if err := vm.checkInterrupt(ctx); err != nil {
			return vm.fail(err)
		}
		if vm.pc >= len(insns) {
			if err := vm.halt(); err != nil {
				return vm.fail(err)
			}
			return vm.state, nil
		}

		in := &insns[vm.pc]
		vm.pc++
		if err := handlers[in.Op](vm, in); err != nil {
			return vm.fail(errors.Annotatef(err, "pc %d %s", vm.pc-1, in.Op))
		}
		if vm.state == StateRow || vm.state == StateDone {
			return vm.state, nil
		}
	}
}

// Run steps to completion, discarding rows.
func (vm *VM) Run(ctx context.Context) error {
	for {
		st, err := vm.Step(ctx)
		if err != nil {
			return err
		}
		if st == StateDone {
			return nil
		}
	}
}

func (vm *VM) checkInterrupt(ctx context.Context) error {
	if atomic.LoadInt32(&vm.interrupted) != 0 {
		return terror.ErrInterrupted.Gen("interrupted at pc %d", vm.pc)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return terror.ErrInterrupted.Wrap(err)
		}
	}
	return nil
}

// halt finishes a successful run: cursors are closed and a transaction
// the program started is committed.
func (vm *VM) halt() error {
	vm.cursors.CloseAll()
	if vm.tx != nil && vm.ownsTx {
		if err := vm.tx.Commit(); err != nil {
			return err
		}
	}
	vm.tx, vm.ownsTx = nil, false
	vm.state = StateDone
	return nil
}

// fail halts with err. Cursors are released and the transaction in use is
// rolled back. A schema change or an interrupt only rolls back what the
// program started itself.
func (vm *VM) fail(err error) (State, error) {
	vm.cursors.CloseAll()

	cause := errors.Cause(err)
	abortAll := !terror.IsClass(cause, terror.ClassSchema) && !terror.IsClass(cause, terror.ClassInterrupt)
	if vm.tx != nil {
		switch {
		case vm.ownsTx:
			vm.tx.Rollback()
		case abortAll && vm.host.Tx() == vm.tx:
			vm.tx.Rollback()
			vm.host.SetTx(nil)
			vm.host.SetAutoCommit(true)
		}
	}
	vm.tx, vm.ownsTx = nil, false

	vm.state, vm.err = StateError, err
	logger.WithComponent("vdbe").WithField("pc", vm.pc-1).Debugf("halt with error: %s", errors.ErrorStack(err))
	return StateError, err
}

// Reset rewinds the VM so the program can run again. An unfinished
// transaction the program started is rolled back.
func (vm *VM) Reset() {
	vm.cursors.CloseAll()
	if vm.tx != nil && vm.ownsTx {
		vm.tx.Rollback()
	}
	vm.tx, vm.ownsTx = nil, false
	vm.regs.Reset()
	vm.pc, vm.state, vm.err, vm.row = 0, StateReady, nil, nil
	vm.verified = false
	vm.once = make(map[int]bool)
	vm.aggs = nil
	vm.changes = 0
	atomic.StoreInt32(&vm.interrupted, 0)
}

// Close releases everything the VM holds.
func (vm *VM) Close() { vm.Reset() }

// generation is the schema generation the program must match.
func (vm *VM) generation() uint32 {
	if vm.tx != nil {
		return schema.Generation(vm.tx)
	}
	return vm.host.Generation()
}

// verifySchema fails with a schema-changed error when the program is
// stale. It runs once per execution, at the latest before the first
// cursor is opened.
func (vm *VM) verifySchema() error {
	if vm.verified {
		return nil
	}
	if live := vm.generation(); live != vm.prog.Generation {
		return terror.ErrSchemaChanged.Gen("program compiled for schema generation %d, schema is at %d", vm.prog.Generation, live)
	}
	vm.verified = true
	return nil
}

func (vm *VM) jump(addr int) { vm.pc = addr }

func (vm *VM) reg(i int) (value.Value, error) { return vm.regs.Get(i) }

func (vm *VM) setReg(i int, v value.Value) error {
	if len(vm.aggs) > 0 {
		delete(vm.aggs, i)
	}
	return vm.regs.Set(i, v)
}

func (vm *VM) needTx() (*btree.Tx, error) {
	if vm.tx == nil || vm.tx.Done() {
		return nil, terror.ErrMisuse.Gen("no transaction is open")
	}
	return vm.tx, nil
}

func (vm *VM) needWriteTx() (*btree.Tx, error) {
	tx, err := vm.needTx()
	if err != nil {
		return nil, err
	}
	if !tx.Writable() {
		return nil, terror.ErrReadOnly.Gen("statement needs a write transaction")
	}
	return tx, nil
}
