package vdbe

import "fmt"

// Opcode identifies an instruction. Operand conventions are listed with
// each opcode; r[N] is register N, c[N] is cursor N.
type Opcode uint8

const (
	// Init: jump to P2. Conventionally the first instruction.
	OpInit Opcode = iota
	// Goto: jump to P2.
	OpGoto
	// Gosub: r[P1] = address of the next instruction, jump to P2.
	OpGosub
	// Return: jump to the address held in r[P1].
	OpReturn
	// Halt: stop. P1 == 0 is success, otherwise fail with a constraint
	// error whose message is P4.
	OpHalt
	// HaltIfNull: halt like Halt when r[P3] is NULL.
	OpHaltIfNull
	// If: jump to P2 when r[P1] is true, or NULL and P3 != 0.
	OpIf
	// IfNot: jump to P2 when r[P1] is false, or NULL and P3 != 0.
	OpIfNot
	// IsNull: jump to P2 when r[P1] is NULL.
	OpIsNull
	// NotNull: jump to P2 when r[P1] is not NULL.
	OpNotNull
	// IfPos: when r[P1] > 0, subtract P3 from it and jump to P2.
	OpIfPos
	// DecrJumpZero: decrement r[P1], jump to P2 when it reaches zero.
	OpDecrJumpZero
	// Once: fall through the first time, jump to P2 afterwards.
	OpOnce
	// Noop: nothing.
	OpNoop

	// Integer: r[P2] = P1.
	OpInteger
	// Int64: r[P2] = P4 (int64).
	OpInt64
	// Real: r[P2] = P4 (float64).
	OpReal
	// String8: r[P2] = P4 (string).
	OpString8
	// Blob: r[P2] = P4 ([]byte).
	OpBlob
	// Null: r[P2..P3] = NULL, only r[P2] when P3 <= P2.
	OpNull
	// Copy: r[P2..P2+P3] = r[P1..P1+P3].
	OpCopy
	// SCopy: r[P2] = r[P1].
	OpSCopy
	// Move: move P3 registers from P1 to P2, the sources become NULL.
	OpMove
	// Affinity: apply the affinity letters of P4 (string) to r[P1..P1+P2-1].
	OpAffinity
	// Cast: r[P1] = CAST(r[P1] AS affinity P2).
	OpCast

	// Eq, Ne, Lt, Le, Gt, Ge: compare r[P1] with r[P3] using collation P4
	// (name, default BINARY) and jump to P2 when r[P1] op r[P3] holds. A
	// NULL operand falls through unless P5 has FlagJumpIfNull. With
	// FlagStoreResult the result is stored in r[P2] instead of jumping.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Add, Subtract, Multiply, Divide, Remainder, Concat, And, Or:
	// r[P3] = r[P1] op r[P2].
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpRemainder
	OpConcat
	// Not: r[P2] = NOT r[P1].
	OpNot
	OpAnd
	OpOr
	// Negative: r[P2] = -r[P1].
	OpNegative

	// OpenRead, OpenWrite: open c[P1] on the tree rooted at P2, or at r[P2]
	// when P5 has FlagP2IsReg. P4 is the *record.KeyInfo of an index tree.
	OpOpenRead
	OpOpenWrite
	// OpenEphemeral: open c[P1] on a new transient table, or a transient
	// index when P4 holds a *record.KeyInfo.
	OpOpenEphemeral
	// OpenPseudo: open c[P1] as a single row whose record is r[P2].
	OpOpenPseudo
	// Close: close c[P1].
	OpClose
	// Rewind, Last: move c[P1] to its first or last entry, jump to P2 when
	// it is empty.
	OpRewind
	OpLast
	// Next, Prev: advance c[P1], jump to P2 when an entry follows.
	OpNext
	OpPrev
	// SeekRowid, NotExists: move table cursor c[P1] to rowid r[P3], jump to
	// P2 when there is no such row.
	OpSeekRowid
	OpNotExists
	// SeekGE, SeekGT, SeekLE, SeekLT: move c[P1] relative to the key in
	// P4 (int) registers from r[P3], a rowid for tables. Jump to P2 when no
	// entry qualifies.
	OpSeekGE
	OpSeekGT
	OpSeekLE
	OpSeekLT
	// Found, NotFound: jump to P2 when index c[P1] does (not) hold an entry
	// matching the key. The key is P4 (int) registers from r[P3], or the
	// record in r[P3] when P4 is 0.
	OpFound
	OpNotFound
	// NoConflict: like NotFound, also jumping when a key field is NULL.
	OpNoConflict
	// IdxGE, IdxGT, IdxLE, IdxLT: compare the key under index c[P1], cut to
	// P4 (int) fields, with r[P3..]; jump to P2 when key op registers.
	OpIdxGE
	OpIdxGT
	OpIdxLE
	OpIdxLT
	// Column: r[P3] = field P2 of the current entry of c[P1], or P4 (a
	// value.Value) when the record is shorter.
	OpColumn
	// Rowid: r[P2] = rowid of the current entry of c[P1].
	OpRowid
	// IdxRowid: r[P2] = rowid stored at the end of the current index key.
	OpIdxRowid
	// NewRowid: r[P2] = a rowid not yet used in table c[P1].
	OpNewRowid
	// Insert: store record r[P2] under rowid r[P3] in c[P1]. With
	// FlagNoReplace an existing row is a constraint error, recovered by
	// jumping to P4 (int) when given.
	OpInsert
	// IdxInsert: insert the key record r[P2] into index c[P1]. With
	// FlagUnique a key equal on all fields but the rowid is a constraint
	// error, recovered by jumping to P4 (int) when given.
	OpIdxInsert
	// Delete: delete the current entry of c[P1].
	OpDelete
	// IdxDelete: delete the key of P3 registers from r[P2] from index c[P1].
	OpIdxDelete
	// NullRow: make c[P1] read as a row of NULLs until it moves.
	OpNullRow
	// Count: r[P2] = number of entries in c[P1].
	OpCount

	// MakeRecord: r[P3] = record of r[P1..P1+P2-1], applying the affinity
	// letters of P4 (string) first.
	OpMakeRecord

	// ResultRow: yield r[P1..P1+P2-1] as a row.
	OpResultRow

	// Transaction: begin a read transaction, a write transaction when
	// P2 != 0. An open transaction of the connection is reused.
	OpTransaction
	// AutoCommit: P1 == 0 begins an explicit transaction. P1 != 0 ends it,
	// committing, or rolling back when P2 != 0. Halts.
	OpAutoCommit

	// VerifySchema: fail with a schema-changed error when the program was
	// compiled for another schema generation.
	OpVerifySchema
	// ReadCookie: r[P2] = meta slot P3.
	OpReadCookie
	// SetCookie: meta slot P2 = P3. Setting the generation slot is a
	// schema change.
	OpSetCookie
	// CreateBtree: r[P2] = root of a new tree, an index tree when P3 == 2.
	OpCreateBtree
	// Destroy: free the tree rooted at P1.
	OpDestroy
	// Clear: delete every entry of the tree rooted at P1 and add their
	// number to r[P3] when P3 > 0.
	OpClear
	// ParseSchema: drop the cached catalog of the connection.
	OpParseSchema

	// Function: r[P3] = function P4 (name) called with the P2 registers
	// from r[P1].
	OpFunction
	// AggStep: feed the P2 registers from r[P1] to the accumulator of
	// aggregate P4 (name) bound to r[P3], creating it on the first row.
	// Writing r[P3] discards the accumulator.
	OpAggStep
	// AggFinal: r[P1] = result of the accumulator bound to r[P1] for
	// aggregate P4 called with P2 arguments, the empty result when no row
	// was fed.
	OpAggFinal

	numOpcodes
)

type opFlag uint8

const (
	jumpP2 opFlag = 1 << iota
	cursorP1
)

type opInfo struct {
	name  string
	flags opFlag
}

var opInfos = [numOpcodes]opInfo{
	OpInit:         {"Init", jumpP2},
	OpGoto:         {"Goto", jumpP2},
	OpGosub:        {"Gosub", jumpP2},
	OpReturn:       {"Return", 0},
	OpHalt:         {"Halt", 0},
	OpHaltIfNull:   {"HaltIfNull", 0},
	OpIf:           {"If", jumpP2},
	OpIfNot:        {"IfNot", jumpP2},
	OpIsNull:       {"IsNull", jumpP2},
	OpNotNull:      {"NotNull", jumpP2},
	OpIfPos:        {"IfPos", jumpP2},
	OpDecrJumpZero: {"DecrJumpZero", jumpP2},
	OpOnce:         {"Once", jumpP2},
	OpNoop:         {"Noop", 0},

	OpInteger:  {"Integer", 0},
	OpInt64:    {"Int64", 0},
	OpReal:     {"Real", 0},
	OpString8:  {"String8", 0},
	OpBlob:     {"Blob", 0},
	OpNull:     {"Null", 0},
	OpCopy:     {"Copy", 0},
	OpSCopy:    {"SCopy", 0},
	OpMove:     {"Move", 0},
	OpAffinity: {"Affinity", 0},
	OpCast:     {"Cast", 0},

	OpEq: {"Eq", jumpP2},
	OpNe: {"Ne", jumpP2},
	OpLt: {"Lt", jumpP2},
	OpLe: {"Le", jumpP2},
	OpGt: {"Gt", jumpP2},
	OpGe: {"Ge", jumpP2},

	OpAdd:       {"Add", 0},
	OpSubtract:  {"Subtract", 0},
	OpMultiply:  {"Multiply", 0},
	OpDivide:    {"Divide", 0},
	OpRemainder: {"Remainder", 0},
	OpConcat:    {"Concat", 0},
	OpNot:       {"Not", 0},
	OpAnd:       {"And", 0},
	OpOr:        {"Or", 0},
	OpNegative:  {"Negative", 0},

	OpOpenRead:      {"OpenRead", cursorP1},
	OpOpenWrite:     {"OpenWrite", cursorP1},
	OpOpenEphemeral: {"OpenEphemeral", cursorP1},
	OpOpenPseudo:    {"OpenPseudo", cursorP1},
	OpClose:         {"Close", cursorP1},
	OpRewind:        {"Rewind", cursorP1 | jumpP2},
	OpLast:          {"Last", cursorP1 | jumpP2},
	OpNext:          {"Next", cursorP1 | jumpP2},
	OpPrev:          {"Prev", cursorP1 | jumpP2},
	OpSeekRowid:     {"SeekRowid", cursorP1 | jumpP2},
	OpNotExists:     {"NotExists", cursorP1 | jumpP2},
	OpSeekGE:        {"SeekGE", cursorP1 | jumpP2},
	OpSeekGT:        {"SeekGT", cursorP1 | jumpP2},
	OpSeekLE:        {"SeekLE", cursorP1 | jumpP2},
	OpSeekLT:        {"SeekLT", cursorP1 | jumpP2},
	OpFound:         {"Found", cursorP1 | jumpP2},
	OpNotFound:      {"NotFound", cursorP1 | jumpP2},
	OpNoConflict:    {"NoConflict", cursorP1 | jumpP2},
	OpIdxGE:         {"IdxGE", cursorP1 | jumpP2},
	OpIdxGT:         {"IdxGT", cursorP1 | jumpP2},
	OpIdxLE:         {"IdxLE", cursorP1 | jumpP2},
	OpIdxLT:         {"IdxLT", cursorP1 | jumpP2},
	OpColumn:        {"Column", cursorP1},
	OpRowid:         {"Rowid", cursorP1},
	OpIdxRowid:      {"IdxRowid", cursorP1},
	OpNewRowid:      {"NewRowid", cursorP1},
	OpInsert:        {"Insert", cursorP1},
	OpIdxInsert:     {"IdxInsert", cursorP1},
	OpDelete:        {"Delete", cursorP1},
	OpIdxDelete:     {"IdxDelete", cursorP1},
	OpNullRow:       {"NullRow", cursorP1},
	OpCount:         {"Count", cursorP1},

	OpMakeRecord: {"MakeRecord", 0},
	OpResultRow:  {"ResultRow", 0},

	OpTransaction: {"Transaction", 0},
	OpAutoCommit:  {"AutoCommit", 0},

	OpVerifySchema: {"VerifySchema", 0},
	OpReadCookie:   {"ReadCookie", 0},
	OpSetCookie:    {"SetCookie", 0},
	OpCreateBtree:  {"CreateBtree", 0},
	OpDestroy:      {"Destroy", 0},
	OpClear:        {"Clear", 0},
	OpParseSchema:  {"ParseSchema", 0},

	OpFunction: {"Function", 0},
	OpAggStep:  {"AggStep", 0},
	OpAggFinal: {"AggFinal", 0},
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return opInfos[op].name
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

func (op Opcode) valid() bool { return op < numOpcodes }

func (op Opcode) jumps() bool { return op.valid() && opInfos[op].flags&jumpP2 != 0 }

func (op Opcode) usesCursor() bool { return op.valid() && opInfos[op].flags&cursorP1 != 0 }
