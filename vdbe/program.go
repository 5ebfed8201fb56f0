package vdbe

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/xvdbe/terror"
)

// P5 flags.
const (
	// FlagJumpIfNull makes a comparison jump when an operand is NULL.
	FlagJumpIfNull uint16 = 0x10
	// FlagStoreResult makes a comparison store its result in r[P2].
	FlagStoreResult uint16 = 0x20
	// FlagNullEq makes Eq and Ne treat NULL as an ordinary value.
	FlagNullEq uint16 = 0x80
	// FlagP2IsReg makes OpenRead and OpenWrite take the root from r[P2].
	FlagP2IsReg uint16 = 0x01
	// FlagNoReplace makes Insert fail on an existing rowid.
	FlagNoReplace uint16 = 0x02
	// FlagUnique makes IdxInsert enforce uniqueness.
	FlagUnique uint16 = 0x04
)

// Instruction is one step of a program.
type Instruction struct {
	Op         Opcode
	P1, P2, P3 int
	P4         interface{}
	P5         uint16
	Comment    string
}

func (in *Instruction) String() string {
	s := fmt.Sprintf("%-14s %4d %4d %4d", in.Op, in.P1, in.P2, in.P3)
	if in.P4 != nil {
		s += fmt.Sprintf(" %v", in.P4)
	}
	if in.P5 != 0 {
		s += fmt.Sprintf(" p5=%#x", in.P5)
	}
	if in.Comment != "" {
		s += " ; " + in.Comment
	}
	return s
}

// Program is a compiled statement. Generation is the schema generation it
// was compiled against; the program refuses to run under another one.
type Program struct {
	Insns       []Instruction
	NumRegs     int
	NumCursors  int
	Generation  uint32
	ColumnNames []string
}

// stores reports whether a comparison stores its result instead of jumping.
func (in *Instruction) stores() bool {
	switch in.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return in.P5&FlagStoreResult != 0
	}
	return false
}

// count returns the operand holding a register count.
func (in *Instruction) count() (int, bool) {
	switch in.Op {
	case OpCopy, OpMove, OpIdxDelete:
		return in.P3, true
	case OpAffinity, OpMakeRecord, OpResultRow, OpFunction, OpAggStep, OpAggFinal:
		return in.P2, true
	}
	return 0, false
}

// Validate checks opcodes, jump targets, register counts and cursor
// handles.
func (p *Program) Validate() error {
	if p.NumRegs < 0 || p.NumCursors < 0 {
		return terror.ErrMisuse.Gen("negative register or cursor count")
	}
	n := len(p.Insns)
	for pc := range p.Insns {
		in := &p.Insns[pc]
		if !in.Op.valid() {
			return terror.ErrMisuse.Gen("pc %d: unknown opcode %d", pc, in.Op)
		}
		if in.Op.jumps() && !in.stores() && (in.P2 < 0 || in.P2 > n) {
			return terror.ErrMisuse.Gen("pc %d: %s jumps to %d outside the program", pc, in.Op, in.P2)
		}
		if c, ok := in.count(); ok && c < 0 {
			return terror.ErrMisuse.Gen("pc %d: %s with negative register count %d", pc, in.Op, c)
		}
		if in.Op.usesCursor() && (in.P1 < 0 || in.P1 >= p.NumCursors) {
			return terror.ErrMisuse.Gen("pc %d: %s uses cursor %d of %d", pc, in.Op, in.P1, p.NumCursors)
		}
		if target, ok := in.P4.(int); ok && (in.Op == OpInsert || in.Op == OpIdxInsert) {
			if target < 0 || target > n {
				return terror.ErrMisuse.Gen("pc %d: recovery jump to %d outside the program", pc, target)
			}
		}
	}
	return nil
}

// Explain renders the program one instruction per line.
func (p *Program) Explain() string {
	var b strings.Builder
	for pc := range p.Insns {
		fmt.Fprintf(&b, "%4d %s\n", pc, p.Insns[pc].String())
	}
	return b.String()
}

// Builder assembles a program.
type Builder struct {
	prog Program
}

func NewBuilder(generation uint32) *Builder {
	return &Builder{prog: Program{Generation: generation}}
}

// Add appends an instruction and returns its address.
func (b *Builder) Add(op Opcode, p1, p2, p3 int) int {
	return b.AddP4(op, p1, p2, p3, nil)
}

// AddP4 appends an instruction with a P4 operand.
func (b *Builder) AddP4(op Opcode, p1, p2, p3 int, p4 interface{}) int {
	b.prog.Insns = append(b.prog.Insns, Instruction{Op: op, P1: p1, P2: p2, P3: p3, P4: p4})
	if op.usesCursor() && p1+1 > b.prog.NumCursors {
		b.prog.NumCursors = p1 + 1
	}
	return len(b.prog.Insns) - 1
}

// Regs declares the number of registers the program uses.
func (b *Builder) Regs(n int) { b.prog.NumRegs = n }

// SetP5 sets the flags of the instruction at addr.
func (b *Builder) SetP5(addr int, p5 uint16) { b.prog.Insns[addr].P5 = p5 }

// JumpHere points the P2 of the instruction at addr to the next address.
func (b *Builder) JumpHere(addr int) { b.prog.Insns[addr].P2 = len(b.prog.Insns) }

// Addr is the address of the next instruction.
func (b *Builder) Addr() int { return len(b.prog.Insns) }

func (b *Builder) Comment(addr int, s string) { b.prog.Insns[addr].Comment = s }

// Program returns the assembled program after validating it.
func (b *Builder) Program(columns ...string) (*Program, error) {
	b.prog.ColumnNames = columns
	p := b.prog
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
