package pager

import (
	"io"
	"os"
	"sync"
)

// File is the byte device under the pager. Writes are durable only after
// Sync returns.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

// OSFile is a File backed by the operating system.
type OSFile struct {
	*os.File
}

// OpenOSFile opens or creates the file at path.
func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &OSFile{File: f}, nil
}

func (f *OSFile) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Op names a mutating MemFile operation for fault injection.
type Op string

const (
	OpWrite    Op = "write"
	OpSync     Op = "sync"
	OpTruncate Op = "truncate"
)

// FaultFunc is consulted before every mutating MemFile operation. A non-nil
// result fails the operation without applying it.
type FaultFunc func(op Op, off int64, n int) error

// MemFile is an in-memory File. Its content survives Close so that a test
// can reopen a pager over the same "disk".
type MemFile struct {
	mu    sync.Mutex
	data  []byte
	fault FaultFunc
}

func NewMemFile() *MemFile {
	return &MemFile{}
}

// SetFault installs f, or removes the current hook when f is nil.
func (m *MemFile) SetFault(f FaultFunc) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

func (m *MemFile) check(op Op, off int64, n int) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, off, n)
}

func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpWrite, off, len(p)); err != nil {
		return 0, err
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

func (m *MemFile) grow(size int64) {
	if size <= int64(cap(m.data)) {
		m.data = m.data[:size]
		return
	}
	d := make([]byte, size, size*2)
	copy(d, m.data)
	m.data = d
}

func (m *MemFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpTruncate, size, 0); err != nil {
		return err
	}
	if size > int64(len(m.data)) {
		m.grow(size)
		return nil
	}
	for i := size; i < int64(len(m.data)); i++ {
		m.data[i] = 0
	}
	m.data = m.data[:size]
	return nil
}

func (m *MemFile) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *MemFile) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(OpSync, 0, 0)
}

func (m *MemFile) Close() error { return nil }

// Bytes returns a copy of the content.
func (m *MemFile) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
