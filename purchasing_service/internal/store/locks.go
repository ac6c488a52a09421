package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	purchaseerrors "github.com/abgdnv/marketplace/purchasing_service/internal/errors"
)

// lockTable hands out exclusive named locks whose waits are bounded by a timeout.
// A lock is a buffered channel of size one; holding it means having sent into it.
// Entries are counted by holders plus waiters and dropped once the count reaches zero.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

// ref returns the slot for key and registers the caller as a holder or waiter.
func (l *lockTable) ref(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e.ch
}

func (l *lockTable) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.locks, key)
	}
}

func (l *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := l.ref(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		l.unref(key)
		return fmt.Errorf("%s: %w", key, purchaseerrors.ErrLockTimeout)
	case <-ctx.Done():
		l.unref(key)
		return fmt.Errorf("%s: %w: %w", key, purchaseerrors.ErrLockTimeout, ctx.Err())
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-e.ch
	l.unref(key)
}

