package pager

import (
	"fmt"

	"github.com/zhukovaskychina/xvdbe/terror"
)

// Error records the pager operation and page that failed.
type Error struct {
	Op   string // 操作名称
	Page uint32
	Err  error // 原始错误
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	if e.Page != 0 {
		return fmt.Sprintf("pager %s page %d: %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("pager %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, page uint32, err error) error {
	return &Error{Op: op, Page: page, Err: err}
}

// ioError classifies a device failure.
func ioError(op string, page uint32, err error) error {
	return newError(op, page, terror.ErrIO.Wrap(err))
}
