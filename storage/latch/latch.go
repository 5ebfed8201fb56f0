package latch

import (
	"sync"
	"time"
)

// Latch is a reader/writer latch whose write side can be acquired with a
// deadline.
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的锁
func NewLatch() *Latch {
	return &Latch{}
}

// Lock 获取写锁
func (l *Latch) Lock() {
	l.mu.Lock()
}

// Unlock 释放写锁
func (l *Latch) Unlock() {
	l.mu.Unlock()
}

// RLock 获取读锁
func (l *Latch) RLock() {
	l.mu.RLock()
}

// RUnlock 释放读锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// TryLock 尝试获取写锁
func (l *Latch) TryLock() bool {
	return l.mu.TryLock()
}

// TryRLock 尝试获取读锁
func (l *Latch) TryRLock() bool {
	return l.mu.TryRLock()
}

const (
	minBackoff = 100 * time.Microsecond
	maxBackoff = 10 * time.Millisecond
)

// TryLockFor retries TryLock until it succeeds or timeout elapses. A zero
// timeout tries once.
func (l *Latch) TryLockFor(timeout time.Duration) bool {
	if l.mu.TryLock() {
		return true
	}
	deadline := time.Now().Add(timeout)
	backoff := minBackoff
	for time.Now().Before(deadline) {
		time.Sleep(backoff)
		if l.mu.TryLock() {
			return true
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
	return false
}
