package vdbe

import (
	"github.com/zhukovaskychina/xvdbe/terror"
)

func init() {
	handlers[OpAggStep] = execAggStep
	handlers[OpAggFinal] = execAggFinal
}

func (vm *VM) newAggregate(in *Instruction) (Aggregate, error) {
	name, ok := in.P4.(string)
	if !ok {
		return nil, terror.ErrMisuse.Gen("aggregate name missing")
	}
	var fn AggFunc
	if funcs := vm.host.Funcs(); funcs != nil {
		fn, ok = funcs.LookupAggregate(name, in.P2)
	}
	if fn == nil || !ok {
		return nil, terror.ErrMisuse.Gen("no such aggregate: %s/%d", name, in.P2)
	}
	return fn(), nil
}

func execAggStep(vm *VM, in *Instruction) error {
	if _, err := vm.reg(in.P3); err != nil {
		return err
	}
	acc, ok := vm.aggs[in.P3]
	if !ok {
		var err error
		if acc, err = vm.newAggregate(in); err != nil {
			return err
		}
		if vm.aggs == nil {
			vm.aggs = make(map[int]Aggregate)
		}
		vm.aggs[in.P3] = acc
	}
	args, err := vm.regs.Range(in.P1, in.P2)
	if err != nil {
		return err
	}
	return acc.Step(args)
}

func execAggFinal(vm *VM, in *Instruction) error {
	acc, ok := vm.aggs[in.P1]
	if !ok {
		var err error
		if acc, err = vm.newAggregate(in); err != nil {
			return err
		}
	}
	res, err := acc.Final()
	if err != nil {
		return err
	}
	return vm.setReg(in.P1, res)
}
