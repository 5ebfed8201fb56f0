// Package terror defines the error classes shared by the storage engine and
// the virtual machine.
package terror

import (
	"errors"
	"fmt"
)

// ErrClass 错误分类
type ErrClass int

const (
	ClassIO ErrClass = iota + 1
	ClassCorrupt
	ClassConstraint
	ClassSchema
	ClassType
	ClassBusy
	ClassFull
	ClassMisuse
	ClassInterrupt
	ClassInternal
)

var classNames = map[ErrClass]string{
	ClassIO:         "io",
	ClassCorrupt:    "corrupt",
	ClassConstraint: "constraint",
	ClassSchema:     "schema",
	ClassType:       "type",
	ClassBusy:       "busy",
	ClassFull:       "full",
	ClassMisuse:     "misuse",
	ClassInterrupt:  "interrupt",
	ClassInternal:   "internal",
}

func (c ErrClass) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ErrCode is a code inside one class. Codes are only unique per class.
type ErrCode int

// New creates an error template of the class.
func (c ErrClass) New(code ErrCode, message string) *Error {
	return &Error{class: c, code: code, message: message}
}

// Error is a classified error. Templates are created once with ErrClass.New
// and instantiated with Gen or GenWithPage.
type Error struct {
	class   ErrClass
	code    ErrCode
	message string
	page    uint32
	cause   error
}

func (e *Error) Class() ErrClass { return e.class }

func (e *Error) Code() ErrCode { return e.code }

// Page returns the page number a corruption error refers to, 0 if unknown.
func (e *Error) Page() uint32 { return e.page }

func (e *Error) Message() string { return e.message }

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s:%d] %s", e.class, e.code, e.message)
	if e.page != 0 {
		msg = fmt.Sprintf("%s (page %d)", msg, e.page)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors of the same class and code, so instances created with
// Gen compare equal to their template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.class == e.class && t.code == e.code
}

// Gen instantiates the template with a formatted message.
func (e *Error) Gen(format string, args ...interface{}) *Error {
	n := *e
	n.message = fmt.Sprintf(format, args...)
	return &n
}

// GenWithPage instantiates the template for a specific page.
func (e *Error) GenWithPage(page uint32, format string, args ...interface{}) *Error {
	n := e.Gen(format, args...)
	n.page = page
	return n
}

// Wrap instantiates the template around a lower level cause.
func (e *Error) Wrap(cause error) *Error {
	n := *e
	n.cause = cause
	return &n
}

// find returns the first *Error in err's chain. Errors that only expose
// Cause, as annotating error packages do, are followed through it.
func find(err error) *Error {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			return nil
		}
		next := c.Cause()
		if next == err {
			return nil
		}
		err = next
	}
	return nil
}

// ClassOf returns the class of the first *Error in err's chain.
func ClassOf(err error) ErrClass {
	if e := find(err); e != nil {
		return e.class
	}
	return 0
}

// IsClass reports whether err carries an *Error of class c.
func IsClass(err error, c ErrClass) bool {
	return err != nil && ClassOf(err) == c
}

// PageOf returns the page attached to the first *Error in err's chain.
func PageOf(err error) uint32 {
	if e := find(err); e != nil {
		return e.page
	}
	return 0
}
