package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/value"
	"github.com/zhukovaskychina/xvdbe/vdbe"
)

// ErrDone is returned by Stmt.Step once the program has halted.
var ErrDone = errors.New("no more rows")

// Row is one result row.
type Row []value.Value

// Stmt is a prepared program.
type Stmt struct {
	conn *Conn
	vm   *vdbe.VM
}

// Columns are the result column names.
func (s *Stmt) Columns() []string { return s.vm.Program().ColumnNames }

// Step runs to the next row. It returns ErrDone after the last one.
func (s *Stmt) Step(ctx context.Context) (Row, error) {
	st, err := s.vm.Step(ctx)
	if err != nil {
		return nil, err
	}
	if st == vdbe.StateDone {
		return nil, ErrDone
	}
	row := make(Row, len(s.vm.Row()))
	copy(row, s.vm.Row())
	return row, nil
}

// Run steps to completion and discards the rows.
func (s *Stmt) Run(ctx context.Context) error {
	return s.vm.Run(ctx)
}

// All steps to completion and collects the rows.
func (s *Stmt) All(ctx context.Context) ([]Row, error) {
	var rows []Row
	for {
		row, err := s.Step(ctx)
		if err == ErrDone {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// Changes counts the rows the last run inserted or deleted.
func (s *Stmt) Changes() int64 { return s.vm.Changes() }

// Interrupt stops the statement before its next instruction. It is safe to
// call from another goroutine.
func (s *Stmt) Interrupt() { s.vm.Interrupt() }

// Reset rewinds the statement so it can run again.
func (s *Stmt) Reset() { s.vm.Reset() }

// Close releases the statement.
func (s *Stmt) Close() {
	s.vm.Close()
	delete(s.conn.stmts, s)
}
