package generic

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// LOCKER - Per-key mutual exclusion
// =============================================================================

// Locker serializes work on one key (an employee) across the read that feeds
// a decision and the write that follows it.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// EmployeeLockKey is the consistency domain shared by the ledger and workflow.
func EmployeeLockKey(id EmployeeID) string { return "employee:" + string(id) }

// WithLock runs fn while holding key, waiting at most wait for it.
func WithLock(ctx context.Context, l Locker, key string, wait time.Duration, fn func() error) error {
	lockCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	unlock, err := l.Lock(lockCtx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// =============================================================================
// KEYED MUTEX - In-process Locker
// =============================================================================

// KeyedMutex is a Locker for a single process. The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
