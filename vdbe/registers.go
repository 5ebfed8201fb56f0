package vdbe

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/value"
)

// maxRegisters bounds the register file of one program.
const maxRegisters = 1 << 16

// Registers is the zero-based register file of a VM. It grows on demand;
// registers never written read as NULL.
type Registers struct {
	vals []value.Value
}

func NewRegisters(n int) *Registers {
	return &Registers{vals: make([]value.Value, n)}
}

func (r *Registers) Len() int { return len(r.vals) }

// Get returns register i.
func (r *Registers) Get(i int) (value.Value, error) {
	if i < 0 || i >= maxRegisters {
		return value.Null, terror.ErrMisuse.Gen("register %d out of range", i)
	}
	if i >= len(r.vals) {
		return value.Null, nil
	}
	return r.vals[i], nil
}

// Set stores v in register i, growing the file when needed.
func (r *Registers) Set(i int, v value.Value) error {
	if i < 0 || i >= maxRegisters {
		return terror.ErrMisuse.Gen("register %d out of range", i)
	}
	if i >= len(r.vals) {
		grown := make([]value.Value, i+1, 2*(i+1))
		copy(grown, r.vals)
		r.vals = grown
	}
	r.vals[i] = v
	return nil
}

// SetWithAffinity stores v after applying aff. The coercion never fails;
// a value that does not convert is stored unchanged.
func (r *Registers) SetWithAffinity(i int, v value.Value, aff value.Affinity) error {
	return r.Set(i, value.Apply(v, aff))
}

// Range returns a copy of registers from..from+n-1.
func (r *Registers) Range(from, n int) ([]value.Value, error) {
	if n < 0 || n > maxRegisters {
		return nil, terror.ErrMisuse.Gen("register count %d out of range", n)
	}
	out := make([]value.Value, n)
	for k := 0; k < n; k++ {
		v, err := r.Get(from + k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Reset sets every register to NULL.
func (r *Registers) Reset() {
	for i := range r.vals {
		r.vals[i] = value.Null
	}
}
