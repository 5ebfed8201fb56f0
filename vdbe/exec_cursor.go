package vdbe

import (
	"math"
	"math/rand"

	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// newRowidProbes bounds the random search for a free rowid once the
// largest rowid is in use.
const newRowidProbes = 100

func init() {
	handlers[OpOpenRead] = execOpen
	handlers[OpOpenWrite] = execOpen
	handlers[OpOpenEphemeral] = execOpenEphemeral
	handlers[OpOpenPseudo] = execOpenPseudo
	handlers[OpClose] = execClose
	handlers[OpRewind] = execRewind
	handlers[OpLast] = execRewind
	handlers[OpNext] = execNext
	handlers[OpPrev] = execNext
	handlers[OpSeekRowid] = execSeekRowid
	handlers[OpNotExists] = execSeekRowid
	handlers[OpSeekGE] = execSeek
	handlers[OpSeekGT] = execSeek
	handlers[OpSeekLE] = execSeek
	handlers[OpSeekLT] = execSeek
	handlers[OpFound] = execFound
	handlers[OpNotFound] = execFound
	handlers[OpNoConflict] = execFound
	handlers[OpIdxGE] = execIdxCompare
	handlers[OpIdxGT] = execIdxCompare
	handlers[OpIdxLE] = execIdxCompare
	handlers[OpIdxLT] = execIdxCompare
	handlers[OpColumn] = execColumn
	handlers[OpRowid] = execRowid
	handlers[OpIdxRowid] = execRowid
	handlers[OpNewRowid] = execNewRowid
	handlers[OpInsert] = execInsert
	handlers[OpIdxInsert] = execIdxInsert
	handlers[OpDelete] = execDelete
	handlers[OpIdxDelete] = execIdxDelete
	handlers[OpNullRow] = execNullRow
	handlers[OpCount] = execCount
}

func keyInfo(p4 interface{}) (*record.KeyInfo, error) {
	switch ki := p4.(type) {
	case nil:
		return nil, nil
	case *record.KeyInfo:
		return ki, nil
	}
	return nil, terror.ErrMisuse.Gen("P4 is %T, not a key info", p4)
}

func execOpen(vm *VM, in *Instruction) error {
	if err := vm.verifySchema(); err != nil {
		return err
	}
	tx, err := vm.needTx()
	if err != nil {
		return err
	}

	root := int64(in.P2)
	if in.P5&FlagP2IsReg != 0 {
		if root, err = intReg(vm, in.P2); err != nil {
			return err
		}
	}
	if root < 1 || root > math.MaxUint32 {
		return terror.ErrCorrupt.Gen("bad root page %d", root)
	}
	ki, err := keyInfo(in.P4)
	if err != nil {
		return err
	}

	c, err := tx.Cursor(uint32(root), ki, in.Op == OpOpenWrite)
	if err != nil {
		return err
	}
	return vm.cursors.Open(in.P1, newTreeCursor(c, ki))
}

func execOpenEphemeral(vm *VM, in *Instruction) error {
	ki, err := keyInfo(in.P4)
	if err != nil {
		return err
	}
	return vm.cursors.Open(in.P1, newEphemeral(ki))
}

func execOpenPseudo(vm *VM, in *Instruction) error {
	return vm.cursors.Open(in.P1, &pseudoCursor{regs: vm.regs, reg: in.P2})
}

func execClose(vm *VM, in *Instruction) error {
	return vm.cursors.Close(in.P1)
}

// moved records that s was repositioned.
func (vm *VM) moved(s *slot) {
	s.nullRow = false
	vm.cursors.touch()
}

func execRewind(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	var ok bool
	if in.Op == OpRewind {
		ok, err = s.cur.First()
	} else {
		ok, err = s.cur.Last()
	}
	vm.moved(s)
	if err != nil {
		return err
	}
	if !ok {
		vm.jump(in.P2)
	}
	return nil
}

func execNext(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	var ok bool
	if in.Op == OpNext {
		ok, err = s.cur.Next()
	} else {
		ok, err = s.cur.Prev()
	}
	vm.moved(s)
	if err != nil {
		return err
	}
	if ok {
		vm.jump(in.P2)
	}
	return nil
}

// rowidReg reads a rowid operand. ok is false when the value can not be a
// rowid, such as NULL or non-numeric text.
func rowidReg(vm *VM, i int) (rowid int64, ok bool, err error) {
	v, err := vm.reg(i)
	if err != nil {
		return 0, false, err
	}
	if v.Kind() != value.KindInteger {
		v = value.Apply(v, value.AffInteger)
		if v.Kind() != value.KindInteger {
			return 0, false, nil
		}
	}
	return v.Int(), true, nil
}

func execSeekRowid(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	rowid, ok, err := rowidReg(vm, in.P3)
	if err != nil {
		return err
	}
	found := false
	if ok {
		found, err = s.cur.SeekRowid(rowid, btree.SeekEQ)
	}
	vm.moved(s)
	if err != nil {
		return err
	}
	if !found {
		vm.jump(in.P2)
	}
	return nil
}

var seekModes = map[Opcode]btree.SeekMode{
	OpSeekGE: btree.SeekGE,
	OpSeekGT: btree.SeekGT,
	OpSeekLE: btree.SeekLE,
	OpSeekLT: btree.SeekLT,
}

// regCount reads the register count of P4, defaulting to one.
func regCount(p4 interface{}) (int, error) {
	switch n := p4.(type) {
	case nil:
		return 1, nil
	case int:
		if n < 0 {
			return 0, terror.ErrMisuse.Gen("negative register count %d", n)
		}
		return n, nil
	}
	return 0, terror.ErrMisuse.Gen("P4 is %T, not a register count", p4)
}

func execSeek(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	mode := seekModes[in.Op]

	var ok bool
	if s.cur.IsIndex() {
		n, err := regCount(in.P4)
		if err != nil {
			return err
		}
		key, err := vm.regs.Range(in.P3, n)
		if err != nil {
			return err
		}
		ok, err = s.cur.Seek(key, mode)
		vm.moved(s)
		if err != nil {
			return err
		}
	} else {
		rowid, isInt, err := rowidReg(vm, in.P3)
		if err != nil {
			return err
		}
		if isInt {
			ok, err = s.cur.SeekRowid(rowid, mode)
		}
		vm.moved(s)
		if err != nil {
			return err
		}
	}
	if !ok {
		vm.jump(in.P2)
	}
	return nil
}

// probeKey returns the key of a Found family instruction.
func probeKey(vm *VM, in *Instruction) ([]value.Value, error) {
	n, err := regCount(in.P4)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return vm.regs.Range(in.P3, n)
	}
	v, err := vm.reg(in.P3)
	if err != nil {
		return nil, err
	}
	return record.Decode(v.Bytes())
}

func hasNull(key []value.Value) bool {
	for _, v := range key {
		if v.IsNull() {
			return true
		}
	}
	return false
}

func execFound(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	key, err := probeKey(vm, in)
	if err != nil {
		return err
	}

	if in.Op == OpNoConflict && hasNull(key) {
		vm.jump(in.P2)
		return nil
	}
	var found bool
	if s.cur.IsIndex() {
		found, err = s.cur.Seek(key, btree.SeekEQ)
	} else if len(key) > 0 {
		found, err = s.cur.SeekRowid(key[0].Int(), btree.SeekEQ)
	}
	vm.moved(s)
	if err != nil {
		return err
	}
	if found == (in.Op == OpFound) {
		vm.jump(in.P2)
	}
	return nil
}

func execIdxCompare(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	if !s.cur.IsIndex() {
		return terror.ErrMisuse.Gen("%s on a table cursor", in.Op)
	}
	n, err := regCount(in.P4)
	if err != nil {
		return err
	}
	probe, err := vm.regs.Range(in.P3, n)
	if err != nil {
		return err
	}
	rec, err := s.cur.Record()
	if err != nil {
		return err
	}
	c, err := s.cur.KeyInfo().Compare(probe, rec)
	if err != nil {
		return err
	}
	c = -c // key op registers

	var holds bool
	switch in.Op {
	case OpIdxGE:
		holds = c >= 0
	case OpIdxGT:
		holds = c > 0
	case OpIdxLE:
		holds = c <= 0
	case OpIdxLT:
		holds = c < 0
	}
	if holds {
		vm.jump(in.P2)
	}
	return nil
}

func execColumn(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	v, present, err := vm.cursors.column(s, in.P2)
	if err != nil {
		return err
	}
	if !present {
		v = value.Null
		if def, ok := in.P4.(value.Value); ok {
			v = def
		}
	}
	return vm.setReg(in.P3, v)
}

func execRowid(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	if s.nullRow {
		return vm.setReg(in.P2, value.Null)
	}
	if in.Op == OpIdxRowid && !s.cur.IsIndex() {
		return terror.ErrMisuse.Gen("IdxRowid on a table cursor")
	}
	rowid, err := s.cur.Rowid()
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, value.Int(rowid))
}

func execNewRowid(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	if s.cur.IsIndex() {
		return terror.ErrMisuse.Gen("NewRowid on an index cursor")
	}
	rowid, err := newRowid(s.cur)
	vm.moved(s)
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, value.Int(rowid))
}

// newRowid picks one more than the largest rowid. When that overflows it
// probes random rowids.
func newRowid(c Cursor) (int64, error) {
	ok, err := c.Last()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	last, err := c.Rowid()
	if err != nil {
		return 0, err
	}
	if last < math.MaxInt64 {
		if last < 0 {
			return 1, nil
		}
		return last + 1, nil
	}
	for i := 0; i < newRowidProbes; i++ {
		cand := rand.Int63n(math.MaxInt64-1) + 1
		used, err := c.SeekRowid(cand, btree.SeekEQ)
		if err != nil {
			return 0, err
		}
		if !used {
			return cand, nil
		}
	}
	return 0, terror.ErrOutOfSpace.Gen("no free rowid found")
}

// recoverAt jumps to the recovery address in P4 when there is one and
// returns err otherwise.
func (vm *VM) recoverAt(in *Instruction, err error) error {
	if addr, ok := in.P4.(int); ok {
		vm.jump(addr)
		return nil
	}
	return err
}

func execInsert(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	rec, err := vm.reg(in.P2)
	if err != nil {
		return err
	}
	rowid, ok, err := rowidReg(vm, in.P3)
	if err != nil {
		return err
	}
	if !ok {
		return terror.ErrType.Gen("rowid must be an integer")
	}

	if in.P5&FlagNoReplace != 0 {
		exists, err := s.cur.SeekRowid(rowid, btree.SeekEQ)
		vm.moved(s)
		if err != nil {
			return err
		}
		if exists {
			return vm.recoverAt(in, terror.ErrUnique.Gen("UNIQUE constraint failed: rowid %d", rowid))
		}
	}

	payload := rec.Bytes()
	if rec.IsNull() {
		payload = record.Encode(nil)
	}
	err = s.cur.Insert(rowid, payload)
	vm.moved(s)
	if err != nil {
		return err
	}
	vm.changes++
	return nil
}

func execIdxInsert(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	v, err := vm.reg(in.P2)
	if err != nil {
		return err
	}
	key := v.Bytes()

	if in.P5&FlagUnique != 0 {
		conflict, err := uniqueConflict(s.cur, key)
		vm.moved(s)
		if err != nil {
			return err
		}
		if conflict {
			return vm.recoverAt(in, terror.ErrUnique.Gen("UNIQUE constraint failed: index entry exists"))
		}
	}

	err = s.cur.InsertKey(key)
	vm.moved(s)
	return err
}

// uniqueConflict reports whether the index holds another row with the same
// key fields. The last field of key is the rowid. Keys with a NULL field
// never conflict.
func uniqueConflict(c Cursor, key []byte) (bool, error) {
	vals, err := record.Decode(key)
	if err != nil {
		return false, err
	}
	if len(vals) < 2 {
		return false, nil
	}
	prefix, rowid := vals[:len(vals)-1], vals[len(vals)-1].Int()
	if hasNull(prefix) {
		return false, nil
	}
	found, err := c.Seek(prefix, btree.SeekEQ)
	if err != nil || !found {
		return false, err
	}
	for found {
		other, err := c.Rowid()
		if err != nil {
			return false, err
		}
		if other != rowid {
			return true, nil
		}
		if found, err = c.Next(); err != nil {
			return false, err
		}
		if found {
			rec, err := c.Record()
			if err != nil {
				return false, err
			}
			cmp, err := c.KeyInfo().Compare(prefix, rec)
			if err != nil {
				return false, err
			}
			found = cmp == 0
		}
	}
	return false, nil
}

func execDelete(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	err = s.cur.Delete()
	vm.moved(s)
	if err != nil {
		return err
	}
	if !s.cur.IsIndex() {
		vm.changes++
	}
	return nil
}

func execIdxDelete(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	key, err := vm.regs.Range(in.P2, in.P3)
	if err != nil {
		return err
	}
	found, err := s.cur.Seek(key, btree.SeekEQ)
	if err == nil && found {
		err = s.cur.Delete()
	}
	vm.moved(s)
	return err
}

func execNullRow(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	s.nullRow = true
	return nil
}

func execCount(vm *VM, in *Instruction) error {
	s, err := vm.cursors.get(in.P1)
	if err != nil {
		return err
	}
	n, err := s.cur.Count()
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, value.Int(n))
}
