package memory

import (
	"context"
	"sync"
)

// keyLocker hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits for them. Lock honours ctx while waiting.
type keyLocker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocker[K comparable]() *keyLocker[K] {
	return &keyLocker[K]{locks: make(map[K]*keyLock)}
}

func (l *keyLocker[K]) Lock(ctx context.Context, key K) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key, kl)
		return ctx.Err()
	}
}

func (l *keyLocker[K]) Unlock(key K) {
	l.mu.Lock()
	kl := l.locks[key]
	l.mu.Unlock()

	<-kl.sem
	l.drop(key, kl)
}

func (l *keyLocker[K]) drop(key K, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size is the number of live entries.
func (l *keyLocker[K]) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
