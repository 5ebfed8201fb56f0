package vdbe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// aggregatePeople computes count(*), sum(age), max(age), avg(age) and
// min(name) over table root.
func aggregatePeople(t *testing.T, h *testHost, root int) []value.Value {
	t.Helper()
	b := NewBuilder(0)
	b.Regs(8)
	b.Add(OpTransaction, 0, 0, 0)
	b.Add(OpOpenRead, 0, root, 0)
	rewind := b.Add(OpRewind, 0, 0, 0)
	loop := b.Add(OpColumn, 0, 0, 0)
	b.Add(OpColumn, 0, 1, 1)
	b.AddP4(OpAggStep, 0, 0, 2, "count")
	b.AddP4(OpAggStep, 1, 1, 3, "sum")
	b.AddP4(OpAggStep, 1, 1, 4, "max")
	b.AddP4(OpAggStep, 1, 1, 5, "avg")
	b.AddP4(OpAggStep, 0, 1, 6, "min")
	b.Add(OpNext, 0, loop, 0)
	b.JumpHere(rewind)
	b.AddP4(OpAggFinal, 2, 0, 0, "count")
	b.AddP4(OpAggFinal, 3, 1, 0, "sum")
	b.AddP4(OpAggFinal, 4, 1, 0, "max")
	b.AddP4(OpAggFinal, 5, 1, 0, "avg")
	b.AddP4(OpAggFinal, 6, 1, 0, "min")
	b.Add(OpResultRow, 2, 5, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestAggregatesOverScan(t *testing.T) {
	h := newTestHost(t)
	root := createTree(t, h, btree.TableTree)

	row := aggregatePeople(t, h, root)
	assert.Equal(t, int64(0), row[0].Int())
	for i := 1; i < 5; i++ {
		assert.True(t, row[i].IsNull(), "column %d of an empty group: %v", i, row[i])
	}

	insertPeople(t, h, root, []string{"dan", "bea", "cy", "al"})
	row = aggregatePeople(t, h, root)
	assert.Equal(t, int64(4), row[0].Int())
	assert.True(t, value.Equal(value.Int(20+21+22+23), row[1]), "sum %v", row[1])
	assert.Equal(t, int64(23), row[2].Int())
	assert.Equal(t, 21.5, row[3].Float())
	assert.Equal(t, "al", row[4].Str())
}

func TestAggregateResetByRegisterWrite(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(3)
	b.Add(OpInteger, 5, 0, 0)
	b.AddP4(OpAggStep, 0, 1, 1, "count")
	b.AddP4(OpAggStep, 0, 1, 1, "count")
	b.Add(OpNull, 0, 1, 0)
	b.AddP4(OpAggStep, 0, 1, 1, "count")
	b.AddP4(OpAggFinal, 1, 1, 0, "count")
	b.Add(OpResultRow, 1, 1, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0].Int())
}

func TestAggregateErrors(t *testing.T) {
	h := newTestHost(t)
	b := NewBuilder(0)
	b.Regs(2)
	b.AddP4(OpAggStep, 0, 1, 1, "no_such_agg")
	_, err := run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassMisuse))

	b = NewBuilder(0)
	b.Regs(2)
	b.AddP4(OpInt64, 0, 0, 0, int64(math.MaxInt64))
	b.AddP4(OpAggStep, 0, 1, 1, "sum")
	b.AddP4(OpAggStep, 0, 1, 1, "sum")
	b.AddP4(OpAggFinal, 1, 1, 0, "sum")
	_, err = run(t, h, mustProgram(t, b))
	assert.True(t, terror.IsClass(err, terror.ClassType))

	b = NewBuilder(0)
	b.Regs(2)
	b.AddP4(OpInt64, 0, 0, 0, int64(math.MaxInt64))
	b.AddP4(OpAggStep, 0, 1, 1, "total")
	b.AddP4(OpAggStep, 0, 1, 1, "total")
	b.AddP4(OpAggFinal, 1, 1, 0, "total")
	b.Add(OpResultRow, 1, 1, 0)
	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	assert.Equal(t, value.KindReal, rows[0][0].Kind())
}

type concatAgg struct{ s string }

func (a *concatAgg) Step(args []value.Value) error {
	a.s += args[0].Str() + args[1].Str()
	return nil
}

func (a *concatAgg) Final() (value.Value, error) { return value.Text(a.s), nil }

func TestRegisteredAggregate(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.funcs.RegisterAggregate("PAIRS", 2, func() Aggregate { return &concatAgg{} }))
	assert.Error(t, h.funcs.RegisterAggregate("", 1, nil))

	b := NewBuilder(0)
	b.Regs(3)
	b.AddP4(OpString8, 0, 0, 0, "a")
	b.AddP4(OpString8, 0, 1, 0, "b")
	b.AddP4(OpAggStep, 0, 2, 2, "pairs")
	b.AddP4(OpAggStep, 0, 2, 2, "pairs")
	b.AddP4(OpAggFinal, 2, 2, 0, "pairs")
	b.Add(OpResultRow, 2, 1, 0)

	rows, err := run(t, h, mustProgram(t, b))
	require.NoError(t, err)
	assert.Equal(t, "abab", rows[0][0].Str())
}
