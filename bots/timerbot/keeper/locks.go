package keeper

import (
	"sync"

	"abot/bots/timerbot/session"
)

type keyLock struct {
	sync.Mutex
	refs int
}

// keyLocks serializes access to the state of a conversation. Locks of
// different keys are independent, and unused locks are dropped.
type keyLocks struct {
	mu    sync.Mutex
	locks map[session.Key]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[session.Key]*keyLock)}
}

// lock acquires the lock of key and returns the function releasing it.
func (l *keyLocks) lock(key session.Key) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()

	return func() {
		kl.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
