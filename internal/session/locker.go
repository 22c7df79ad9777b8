package session

import "sync"

// Locker serializes message handling per session. Two rapid messages on the
// same session take turns; different sessions proceed fully in parallel.
// There is no global lock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionLock)}
}

// Lock acquires the lock for the given session, creating it on first use.
func (l *Locker) Lock(id string) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &sessionLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the session lock and drops it once nobody is waiting.
func (l *Locker) Unlock(id string) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
	}
	l.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
