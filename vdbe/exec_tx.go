package vdbe

import (
	"math"

	"github.com/zhukovaskychina/xvdbe/logger"
	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

func init() {
	handlers[OpTransaction] = execTransaction
	handlers[OpAutoCommit] = execAutoCommit
	handlers[OpVerifySchema] = execVerifySchema
	handlers[OpReadCookie] = execReadCookie
	handlers[OpSetCookie] = execSetCookie
	handlers[OpCreateBtree] = execCreateBtree
	handlers[OpDestroy] = execDestroy
	handlers[OpClear] = execClear
	handlers[OpParseSchema] = execParseSchema
}

func execTransaction(vm *VM, in *Instruction) error {
	writable := in.P2 != 0
	if vm.tx != nil && !vm.tx.Done() && (vm.tx.Writable() || !writable) {
		return nil
	}
	// the upgrade rolls back the read transaction under open cursors
	if vm.tx != nil && !vm.tx.Done() && writable {
		if n := vm.cursors.NumTreeCursors(); n > 0 {
			return terror.ErrMisuse.Gen("cannot upgrade to a write transaction with %d b-tree cursors open", n)
		}
	}

	if vm.host.AutoCommit() {
		if vm.tx != nil && vm.ownsTx {
			// a read transaction of this program that now needs to write
			vm.tx.Rollback()
		}
		vm.tx, vm.ownsTx = nil, false
		tx, err := vm.host.Begin(writable)
		if err != nil {
			return err
		}
		vm.tx, vm.ownsTx = tx, true
		return vm.verifySchema()
	}

	tx := vm.host.Tx()
	if tx != nil && !tx.Done() && writable && !tx.Writable() {
		logger.WithComponent("vdbe").Debugf("upgrading explicit transaction to write")
		tx.Rollback()
		vm.host.SetTx(nil)
		tx = nil
	}
	if tx == nil || tx.Done() {
		var err error
		if tx, err = vm.host.Begin(writable); err != nil {
			return err
		}
		vm.host.SetTx(tx)
	}
	vm.tx, vm.ownsTx = tx, false
	return vm.verifySchema()
}

func execAutoCommit(vm *VM, in *Instruction) error {
	if in.P1 == 0 {
		if !vm.host.AutoCommit() {
			return terror.ErrMisuse.Gen("cannot start a transaction within a transaction")
		}
		vm.host.SetAutoCommit(false)
		return vm.halt()
	}

	if vm.host.AutoCommit() {
		return terror.ErrMisuse.Gen("cannot end a transaction: no transaction is active")
	}
	if tx := vm.host.Tx(); tx != nil && !tx.Done() {
		if in.P2 != 0 {
			tx.Rollback()
		} else if err := tx.Commit(); err != nil {
			// busy leaves the transaction open for a retry
			return err
		}
	}
	vm.host.SetTx(nil)
	vm.host.SetAutoCommit(true)
	return vm.halt()
}

func execVerifySchema(vm *VM, in *Instruction) error {
	return vm.verifySchema()
}

func execReadCookie(vm *VM, in *Instruction) error {
	tx, err := vm.needTx()
	if err != nil {
		return err
	}
	if in.P3 < 0 || in.P3 >= pager.NumMeta {
		return terror.ErrMisuse.Gen("meta slot %d out of range", in.P3)
	}
	return vm.setReg(in.P2, value.Int(int64(tx.Pager().Meta(in.P3))))
}

func execSetCookie(vm *VM, in *Instruction) error {
	tx, err := vm.needWriteTx()
	if err != nil {
		return err
	}
	if in.P3 < 0 || int64(in.P3) > math.MaxUint32 {
		return terror.ErrMisuse.Gen("meta value %d out of range", in.P3)
	}
	if err := tx.Pager().SetMeta(in.P2, uint32(in.P3)); err != nil {
		return err
	}
	if in.P2 == pager.MetaSchemaGeneration {
		vm.host.SchemaChanged(tx)
	}
	return nil
}

func execCreateBtree(vm *VM, in *Instruction) error {
	tx, err := vm.needWriteTx()
	if err != nil {
		return err
	}
	kind := btree.TableTree
	if in.P3 == 2 {
		kind = btree.IndexTree
	}
	root, err := tx.CreateTree(kind)
	if err != nil {
		return err
	}
	return vm.setReg(in.P2, value.Int(int64(root)))
}

func rootOperand(p1 int) (uint32, error) {
	if p1 < 1 || int64(p1) > math.MaxUint32 {
		return 0, terror.ErrMisuse.Gen("bad root page %d", p1)
	}
	return uint32(p1), nil
}

func execDestroy(vm *VM, in *Instruction) error {
	tx, err := vm.needWriteTx()
	if err != nil {
		return err
	}
	root, err := rootOperand(in.P1)
	if err != nil {
		return err
	}
	return tx.DropTree(root)
}

func execClear(vm *VM, in *Instruction) error {
	tx, err := vm.needWriteTx()
	if err != nil {
		return err
	}
	root, err := rootOperand(in.P1)
	if err != nil {
		return err
	}
	n, err := tx.ClearTree(root)
	if err != nil {
		return err
	}
	vm.cursors.touch()
	if in.P3 > 0 {
		prev, err := vm.reg(in.P3)
		if err != nil {
			return err
		}
		return vm.setReg(in.P3, value.Int(prev.Int()+n))
	}
	return nil
}

func execParseSchema(vm *VM, in *Instruction) error {
	vm.host.SchemaChanged(vm.tx)
	return nil
}
