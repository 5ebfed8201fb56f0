package vdbe

import (
	"github.com/zhukovaskychina/xvdbe/record"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

func init() {
	handlers[OpInteger] = execInteger
	handlers[OpInt64] = execInt64
	handlers[OpReal] = execReal
	handlers[OpString8] = execString8
	handlers[OpBlob] = execBlob
	handlers[OpNull] = execNull
	handlers[OpCopy] = execCopy
	handlers[OpSCopy] = execSCopy
	handlers[OpMove] = execMove
	handlers[OpAffinity] = execAffinity
	handlers[OpCast] = execCast

	for _, op := range []Opcode{OpEq, OpNe, OpLt, OpLe, OpGt, OpGe} {
		handlers[op] = execCompare
	}
	for _, op := range []Opcode{OpAdd, OpSubtract, OpMultiply, OpDivide, OpRemainder} {
		handlers[op] = execArith
	}
	handlers[OpConcat] = execBinary
	handlers[OpAnd] = execBinary
	handlers[OpOr] = execBinary
	handlers[OpNot] = execUnary
	handlers[OpNegative] = execUnary

	handlers[OpMakeRecord] = execMakeRecord
}

func execInteger(vm *VM, in *Instruction) error {
	return vm.setReg(in.P2, value.Int(int64(in.P1)))
}

func execInt64(vm *VM, in *Instruction) error {
	switch n := in.P4.(type) {
	case int64:
		return vm.setReg(in.P2, value.Int(n))
	case int:
		return vm.setReg(in.P2, value.Int(int64(n)))
	}
	return terror.ErrMisuse.Gen("Int64 needs an integer P4, got %T", in.P4)
}

func execReal(vm *VM, in *Instruction) error {
	f, ok := in.P4.(float64)
	if !ok {
		return terror.ErrMisuse.Gen("Real needs a float64 P4, got %T", in.P4)
	}
	return vm.setReg(in.P2, value.Real(f))
}

func execString8(vm *VM, in *Instruction) error {
	s, ok := in.P4.(string)
	if !ok {
		return terror.ErrMisuse.Gen("String8 needs a string P4, got %T", in.P4)
	}
	return vm.setReg(in.P2, value.Text(s))
}

func execBlob(vm *VM, in *Instruction) error {
	b, ok := in.P4.([]byte)
	if !ok {
		return terror.ErrMisuse.Gen("Blob needs a []byte P4, got %T", in.P4)
	}
	return vm.setReg(in.P2, value.Blob(b))
}

func execNull(vm *VM, in *Instruction) error {
	last := in.P3
	if last < in.P2 {
		last = in.P2
	}
	for i := in.P2; i <= last; i++ {
		if err := vm.setReg(i, value.Null); err != nil {
			return err
		}
	}
	return nil
}

func execCopy(vm *VM, in *Instruction) error {
	vals, err := vm.regs.Range(in.P1, in.P3+1)
	if err != nil {
		return err
	}
	for k, v := range vals {
		if err := vm.setReg(in.P2+k, v); err != nil {
			return err
		}
	}
	return nil
}

func execSCopy(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, v)
}

func execMove(vm *VM, in *Instruction) error {
	vals, err := vm.regs.Range(in.P1, in.P3)
	if err != nil {
		return err
	}
	for k := range vals {
		if err := vm.setReg(in.P1+k, value.Null); err != nil {
			return err
		}
	}
	for k, v := range vals {
		if err := vm.setReg(in.P2+k, v); err != nil {
			return err
		}
	}
	return nil
}

func affinities(p4 interface{}) ([]value.Affinity, error) {
	if p4 == nil {
		return nil, nil
	}
	s, ok := p4.(string)
	if !ok {
		return nil, terror.ErrMisuse.Gen("affinity string expected, got %T", p4)
	}
	out := make([]value.Affinity, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < byte(value.AffBlob) || s[i] > byte(value.AffReal) {
			return nil, terror.ErrMisuse.Gen("bad affinity letter %q", s[i])
		}
		out[i] = value.Affinity(s[i])
	}
	return out, nil
}

func applyAffinities(vm *VM, from int, affs []value.Affinity) error {
	for k, aff := range affs {
		v, err := vm.reg(from + k)
		if err != nil {
			return err
		}
		if err := vm.regs.SetWithAffinity(from+k, v, aff); err != nil {
			return err
		}
	}
	return nil
}

func execAffinity(vm *VM, in *Instruction) error {
	affs, err := affinities(in.P4)
	if err != nil {
		return err
	}
	if len(affs) > in.P2 {
		affs = affs[:in.P2]
	}
	return applyAffinities(vm, in.P1, affs)
}

func execCast(vm *VM, in *Instruction) error {
	if in.P2 < int(value.AffBlob) || in.P2 > int(value.AffReal) {
		return terror.ErrMisuse.Gen("bad cast affinity %d", in.P2)
	}
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	return vm.setReg(in.P1, value.Cast(v, value.Affinity(in.P2)))
}

func collation(p4 interface{}) (value.Collation, error) {
	switch c := p4.(type) {
	case nil:
		return value.Binary, nil
	case value.Collation:
		return c, nil
	case string:
		coll, ok := value.LookupCollation(c)
		if !ok {
			return nil, terror.ErrMisuse.Gen("no such collation sequence: %s", c)
		}
		return coll, nil
	}
	return nil, terror.ErrMisuse.Gen("bad collation operand %T", p4)
}

func execCompare(vm *VM, in *Instruction) error {
	a, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	b, err := vm.reg(in.P3)
	if err != nil {
		return err
	}
	coll, err := collation(in.P4)
	if err != nil {
		return err
	}

	var holds bool
	res := value.Null
	switch {
	case (a.IsNull() || b.IsNull()) && in.P5&FlagNullEq != 0 && (in.Op == OpEq || in.Op == OpNe):
		holds = (a.IsNull() && b.IsNull()) == (in.Op == OpEq)
		res = value.Bool(holds)
	case a.IsNull() || b.IsNull():
		holds = in.P5&FlagJumpIfNull != 0
	default:
		c := value.Compare(a, b, coll)
		switch in.Op {
		case OpEq:
			holds = c == 0
		case OpNe:
			holds = c != 0
		case OpLt:
			holds = c < 0
		case OpLe:
			holds = c <= 0
		case OpGt:
			holds = c > 0
		case OpGe:
			holds = c >= 0
		}
		res = value.Bool(holds)
	}

	if in.P5&FlagStoreResult != 0 {
		return vm.setReg(in.P2, res)
	}
	if holds {
		vm.jump(in.P2)
	}
	return nil
}

var arithOps = map[Opcode]value.Op{
	OpAdd:       value.OpAdd,
	OpSubtract:  value.OpSubtract,
	OpMultiply:  value.OpMultiply,
	OpDivide:    value.OpDivide,
	OpRemainder: value.OpRemainder,
}

func operands(vm *VM, in *Instruction) (value.Value, value.Value, error) {
	a, err := vm.reg(in.P1)
	if err != nil {
		return value.Null, value.Null, err
	}
	b, err := vm.reg(in.P2)
	return a, b, err
}

func execArith(vm *VM, in *Instruction) error {
	a, b, err := operands(vm, in)
	if err != nil {
		return err
	}
	res, err := value.Arith(arithOps[in.Op], a, b)
	if err != nil {
		return err
	}
	return vm.setReg(in.P3, res)
}

func execBinary(vm *VM, in *Instruction) error {
	a, b, err := operands(vm, in)
	if err != nil {
		return err
	}
	var res value.Value
	switch in.Op {
	case OpConcat:
		res = value.Concat(a, b)
	case OpAnd:
		res = value.And(a, b)
	default:
		res = value.Or(a, b)
	}
	return vm.setReg(in.P3, res)
}

func execUnary(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	if in.Op == OpNot {
		return vm.setReg(in.P2, value.Not(v))
	}
	res, err := value.Negate(v)
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, res)
}

func execMakeRecord(vm *VM, in *Instruction) error {
	affs, err := affinities(in.P4)
	if err != nil {
		return err
	}
	if len(affs) > in.P2 {
		affs = affs[:in.P2]
	}
	if err := applyAffinities(vm, in.P1, affs); err != nil {
		return err
	}
	vals, err := vm.regs.Range(in.P1, in.P2)
	if err != nil {
		return err
	}
	return vm.setReg(in.P3, value.Blob(record.Encode(vals)))
}
