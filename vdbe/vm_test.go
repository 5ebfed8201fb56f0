package vdbe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/schema"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// testHost is a connection over an in-memory database.
type testHost struct {
	e       *btree.Engine
	counter schema.Counter
	funcs   *FuncRegistry
	tx      *btree.Tx
	auto    bool
	changed int
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	p, err := pager.Open(pager.Options{
		File:        pager.NewMemFile(),
		Journal:     pager.NewMemFile(),
		PageSize:    1024,
		BusyTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &testHost{e: btree.New(p, btree.Options{}), funcs: Builtins(), auto: true}
}

func (h *testHost) Begin(writable bool) (*btree.Tx, error) {
	tx, err := h.e.Begin(writable)
	if err != nil {
		return nil, err
	}
	h.counter.Track(tx)
	return tx, nil
}

func (h *testHost) Generation() uint32        { return h.counter.Load() }
func (h *testHost) Funcs() *FuncRegistry      { return h.funcs }
func (h *testHost) Tx() *btree.Tx             { return h.tx }
func (h *testHost) SetTx(tx *btree.Tx)        { h.tx = tx }
func (h *testHost) AutoCommit() bool          { return h.auto }
func (h *testHost) SetAutoCommit(on bool)     { h.auto = on }
func (h *testHost) SchemaChanged(*btree.Tx)   { h.changed++ }

// run executes prog to completion and returns its rows.
func run(t *testing.T, h Host, prog *Program) ([][]value.Value, error) {
	t.Helper()
	vm, err := New(prog, h)
	require.NoError(t, err)
	defer vm.Close()

	var rows [][]value.Value
	for {
		st, err := vm.Step(context.Background())
		if err != nil {
			return rows, err
		}
		if st == StateDone {
			return rows, nil
		}
		rows = append(rows, vm.Row())
	}
}

func mustProgram(t *testing.T, b *Builder) *Program {
	t.Helper()
	prog, err := b.Program()
	require.NoError(t, err)
	return prog
}

func TestHandlersComplete(t *testing.T) {
	for op := Opcode(0); op < numOpcodes; op++ {
		assert.NotNil(t, handlers[op], "opcode %d", op)
		assert.NotEmpty(t, opInfos[op].name, "opcode %d", op)
	}
	assert.Equal(t, "Opcode(250)", Opcode(250).String())
}

func TestValidate(t *testing.T) {
	bad := &Program{Insns: []Instruction{{Op: OpGoto, P2: 5}}}
	assert.True(t, terror.IsClass(bad.Validate(), terror.ClassMisuse))

	noCursor := &Program{Insns: []Instruction{{Op: OpRewind, P1: 0, P2: 1}}}
	assert.True(t, terror.IsClass(noCursor.Validate(), terror.ClassMisuse))

	unknown := &Program{Insns: []Instruction{{Op: numOpcodes}}}
	assert.Error(t, unknown.Validate())

	for _, in := range []Instruction{
		{Op: OpCopy, P1: 0, P2: 1, P3: -2},
		{Op: OpMove, P1: 0, P2: 1, P3: -1},
		{Op: OpMakeRecord, P1: 0, P2: -1, P3: 2},
		{Op: OpResultRow, P1: 0, P2: -1},
		{Op: OpAggStep, P1: 0, P2: -1, P3: 1, P4: "count"},
	} {
		negative := &Program{Insns: []Instruction{in}}
		assert.True(t, terror.IsClass(negative.Validate(), terror.ClassMisuse), "%s", in.Op)
	}
	_, err := NewRegisters(2).Range(0, -1)
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))

	h := newTestHost(t)
	_, err = New(bad, h)
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))
}

func TestArithmeticAndCompare(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(5)
	b.Add(OpInteger, 6, 0, 0)
	b.Add(OpInteger, 7, 1, 0)
	b.Add(OpMultiply, 0, 1, 2)
	b.Add(OpInteger, 42, 3, 0)
	eq := b.Add(OpEq, 2, 0, 3)
	b.AddP4(OpString8, 0, 4, 0, "no")
	skip := b.Add(OpGoto, 0, 0, 0)
	b.JumpHere(eq)
	b.AddP4(OpString8, 0, 4, 0, "yes")
	b.JumpHere(skip)
	b.Add(OpResultRow, 2, 3, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(42), rows[0][0].Int())
	assert.Equal(t, int64(42), rows[0][1].Int())
	assert.Equal(t, "yes", rows[0][2].Str())
}

func TestNullComparisons(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(8)
	b.Add(OpNull, 0, 0, 0)
	b.Add(OpInteger, 1, 1, 0)
	b.SetP5(b.Add(OpEq, 0, 2, 1), FlagStoreResult)  // NULL = 1
	b.SetP5(b.Add(OpEq, 0, 3, 0), FlagStoreResult|FlagNullEq) // NULL IS NULL
	b.SetP5(b.Add(OpNe, 0, 4, 1), FlagStoreResult|FlagNullEq) // NULL IS NOT 1
	b.SetP5(b.Add(OpLt, 1, 5, 1), FlagStoreResult)  // 1 < 1
	b.AddP4(OpString8, 0, 6, 0, "ABC")
	b.AddP4(OpString8, 0, 7, 0, "abc")
	b.SetP5(b.AddP4(OpEq, 6, 6, 7, "NOCASE"), FlagStoreResult)
	b.Add(OpResultRow, 2, 5, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.True(t, row[0].IsNull())
	assert.Equal(t, int64(1), row[1].Int())
	assert.Equal(t, int64(1), row[2].Int())
	assert.Equal(t, int64(0), row[3].Int())
	assert.Equal(t, int64(1), row[4].Int())
}

func TestNullJumps(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(3)
	b.Add(OpNull, 0, 0, 0)
	b.Add(OpInteger, 0, 2, 0)
	b.Add(OpEq, 0, 4, 0) // NULL never equals: falls through
	jn := b.Add(OpNe, 0, 0, 0)
	b.SetP5(jn, FlagJumpIfNull)
	b.Add(OpHalt, 0, 0, 0)
	b.JumpHere(jn)
	b.Add(OpInteger, 1, 2, 0)
	b.Add(OpResultRow, 2, 1, 0)
	prog := mustProgram(t, b)
	prog.Insns[2].P2 = len(prog.Insns) - 1

	rows, err := run(t, h, prog)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0].Int())
}

func TestArithmeticErrors(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(4)
	b.Add(OpInteger, 1, 0, 0)
	b.Add(OpInteger, 0, 1, 0)
	b.Add(OpDivide, 0, 1, 2)
	b.Add(OpResultRow, 2, 1, 0)
	b.AddP4(OpString8, 0, 3, 0, "abc")
	b.Add(OpAdd, 3, 0, 2)
	b.Add(OpResultRow, 2, 1, 0)

	vm, err := New(mustProgram(t, b), h)
	require.NoError(t, err)
	st, err := vm.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRow, st)
	assert.True(t, vm.Row()[0].IsNull(), "division by zero is NULL")

	st, err = vm.Step(context.Background())
	assert.Equal(t, StateError, st)
	assert.True(t, terror.IsClass(err, terror.ClassType))
	assert.Contains(t, err.Error(), "Add")

	// a failed VM keeps failing until reset
	_, again := vm.Step(context.Background())
	assert.Equal(t, err, again)
	vm.Reset()
	assert.Equal(t, StateReady, vm.State())
}

func TestCountdownLoop(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(4)
	b.Add(OpInteger, 3, 0, 0)
	b.Add(OpInteger, 0, 1, 0)
	b.Add(OpInteger, 10, 2, 0)
	loop := b.Add(OpAdd, 1, 2, 1)
	done := b.Add(OpDecrJumpZero, 0, 0, 0)
	b.Add(OpGoto, 0, loop, 0)
	b.JumpHere(done)
	b.Add(OpResultRow, 1, 1, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), rows[0][0].Int())
}

func TestGosubAndOnce(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(3)
	b.Add(OpInteger, 0, 1, 0)
	b.Add(OpInteger, 1, 2, 0)
	call1 := b.Add(OpGosub, 0, 0, 0)
	call2 := b.Add(OpGosub, 0, 0, 0)
	b.Add(OpResultRow, 1, 1, 0)
	b.Add(OpHalt, 0, 0, 0)
	sub := b.Addr()
	once := b.Add(OpOnce, 0, 0, 0)
	b.Add(OpAdd, 1, 2, 1) // runs on the first call only
	b.JumpHere(once)
	b.Add(OpAdd, 1, 2, 1)
	b.Add(OpReturn, 0, 0, 0)
	prog := mustProgram(t, b)
	prog.Insns[call1].P2 = sub
	prog.Insns[call2].P2 = sub

	rows, err := run(t, h, prog)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0][0].Int())
}

func TestHaltWithError(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.AddP4(OpHalt, 1, 0, 0, "CHECK constraint failed: positive")

	_, err := run(t, h, mustProgram(t, b))
	require.Error(t, err)
	assert.True(t, terror.IsClass(err, terror.ClassConstraint))
	assert.Contains(t, err.Error(), "positive")
}

func TestMoveCopyAndCast(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(8)
	b.AddP4(OpString8, 0, 0, 0, "12")
	b.AddP4(OpReal, 0, 1, 0, 2.5)
	b.Add(OpCopy, 0, 2, 1) // r2, r3 = r0, r1
	b.Add(OpMove, 0, 4, 2) // r4, r5 = r0, r1; r0, r1 = NULL
	b.AddP4(OpAffinity, 2, 1, 0, "D")
	b.Add(OpCast, 3, int(value.AffInteger), 0)
	b.Add(OpResultRow, 0, 6, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	row := rows[0]
	assert.True(t, row[0].IsNull())
	assert.True(t, row[1].IsNull())
	assert.Equal(t, value.KindInteger, row[2].Kind())
	assert.Equal(t, int64(12), row[2].Int())
	assert.Equal(t, int64(2), row[3].Int())
	assert.Equal(t, "12", row[4].Str())
	assert.Equal(t, 2.5, row[5].Float())
}

func TestFunction(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(5)
	b.AddP4(OpString8, 0, 0, 0, "Hello")
	b.AddP4(OpFunction, 0, 1, 1, "upper")
	b.Add(OpNull, 0, 2, 0)
	b.Add(OpCopy, 0, 3, 0)
	b.AddP4(OpFunction, 2, 2, 4, "coalesce")
	b.Add(OpResultRow, 1, 1, 0)
	b.Add(OpResultRow, 4, 1, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "HELLO", rows[0][0].Str())
	assert.Equal(t, "Hello", rows[1][0].Str())

	b = NewBuilder(0)
	b.AddP4(OpFunction, 0, 1, 1, "no_such_fn")
	_, err = run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))
}

func TestInterrupt(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Add(OpGoto, 0, 0, 0)
	prog := mustProgram(t, b)

	vm, err := New(prog, h)
	require.NoError(t, err)
	time.AfterFunc(20*time.Millisecond, vm.Interrupt)
	st, err := vm.Step(context.Background())
	assert.Equal(t, StateError, st)
	assert.True(t, terror.IsClass(err, terror.ClassInterrupt))

	vm.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = vm.Step(ctx)
	assert.True(t, terror.IsClass(err, terror.ClassInterrupt))
}
