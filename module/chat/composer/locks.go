package composer

import "sync"

// convLocks serializes, per conversation id, the gate-check / count /
// append / summary sequence. Different conversations proceed fully in
// parallel. Entries are reference counted so idle conversations do not
// accumulate mutexes.
type convLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{m: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns the paired unlock.
func (l *convLocks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &lockEntry{}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
