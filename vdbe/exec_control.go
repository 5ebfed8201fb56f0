package vdbe

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

func init() {
	handlers[OpInit] = execGoto
	handlers[OpGoto] = execGoto
	handlers[OpGosub] = execGosub
	handlers[OpReturn] = execReturn
	handlers[OpHalt] = execHalt
	handlers[OpHaltIfNull] = execHaltIfNull
	handlers[OpIf] = execIf
	handlers[OpIfNot] = execIf
	handlers[OpIsNull] = execIsNull
	handlers[OpNotNull] = execIsNull
	handlers[OpIfPos] = execIfPos
	handlers[OpDecrJumpZero] = execDecrJumpZero
	handlers[OpOnce] = execOnce
	handlers[OpNoop] = func(*VM, *Instruction) error { return nil }
	handlers[OpResultRow] = execResultRow
	handlers[OpFunction] = execFunction
}

func execGoto(vm *VM, in *Instruction) error {
	vm.jump(in.P2)
	return nil
}

func execGosub(vm *VM, in *Instruction) error {
	if err := vm.setReg(in.P1, value.Int(int64(vm.pc))); err != nil {
		return err
	}
	vm.jump(in.P2)
	return nil
}

func execReturn(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	addr := v.Int()
	if v.Kind() != value.KindInteger || addr < 0 || addr > int64(len(vm.prog.Insns)) {
		return terror.ErrMisuse.Gen("return address %v is not in the program", v)
	}
	vm.jump(int(addr))
	return nil
}

func haltMessage(in *Instruction) string {
	if s, ok := in.P4.(string); ok && s != "" {
		return s
	}
	return "constraint failed"
}

func execHalt(vm *VM, in *Instruction) error {
	if in.P1 != 0 {
		return terror.ErrConstraint.Gen("%s", haltMessage(in))
	}
	return vm.halt()
}

func execHaltIfNull(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P3)
	if err != nil {
		return err
	}
	if !v.IsNull() {
		return nil
	}
	if in.P1 != 0 {
		return terror.ErrConstraint.Gen("NOT NULL constraint failed: %s", haltMessage(in))
	}
	return vm.halt()
}

func execIf(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	truth, null := value.Truth(v)
	var take bool
	switch {
	case null:
		take = in.P3 != 0
	case in.Op == OpIf:
		take = truth
	default:
		take = !truth
	}
	if take {
		vm.jump(in.P2)
	}
	return nil
}

func execIsNull(vm *VM, in *Instruction) error {
	v, err := vm.reg(in.P1)
	if err != nil {
		return err
	}
	if v.IsNull() == (in.Op == OpIsNull) {
		vm.jump(in.P2)
	}
	return nil
}

func intReg(vm *VM, i int) (int64, error) {
	v, err := vm.reg(i)
	if err != nil {
		return 0, err
	}
	if v.Kind() != value.KindInteger {
		v = value.Apply(v, value.AffInteger)
		if v.Kind() != value.KindInteger {
			return 0, terror.ErrType.Gen("register %d holds %s, not an integer", i, v.Kind())
		}
	}
	return v.Int(), nil
}

func execIfPos(vm *VM, in *Instruction) error {
	n, err := intReg(vm, in.P1)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := vm.setReg(in.P1, value.Int(n-int64(in.P3))); err != nil {
			return err
		}
		vm.jump(in.P2)
	}
	return nil
}

func execDecrJumpZero(vm *VM, in *Instruction) error {
	n, err := intReg(vm, in.P1)
	if err != nil {
		return err
	}
	n--
	if err := vm.setReg(in.P1, value.Int(n)); err != nil {
		return err
	}
	if n == 0 {
		vm.jump(in.P2)
	}
	return nil
}

func execOnce(vm *VM, in *Instruction) error {
	addr := vm.pc - 1
	if vm.once[addr] {
		vm.jump(in.P2)
		return nil
	}
	vm.once[addr] = true
	return nil
}

func execResultRow(vm *VM, in *Instruction) error {
	row, err := vm.regs.Range(in.P1, in.P2)
	if err != nil {
		return err
	}
	vm.row = row
	vm.state = StateRow
	return nil
}

func execFunction(vm *VM, in *Instruction) error {
	name, ok := in.P4.(string)
	if !ok {
		return terror.ErrMisuse.Gen("function name missing")
	}
	var fn Func
	if funcs := vm.host.Funcs(); funcs != nil {
		fn, ok = funcs.Lookup(name, in.P2)
	}
	if fn == nil || !ok {
		return terror.ErrMisuse.Gen("no such function: %s/%d", name, in.P2)
	}
	args, err := vm.regs.Range(in.P1, in.P2)
	if err != nil {
		return err
	}
	res, err := fn(args)
	if err != nil {
		return err
	}
	return vm.setReg(in.P3, res)
}
