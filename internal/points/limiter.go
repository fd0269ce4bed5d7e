package points

import "sync"

// keyedLock serializes operations on the same key (one rollback execution per
// batch at a time) without blocking unrelated keys.
type keyedLock struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func newKeyedLock() *keyedLock {
	return &keyedLock{byKey: make(map[string]*sync.Mutex)}
}

func (l *keyedLock) lock(key string) func() {
	l.mu.Lock()
	m, ok := l.byKey[key]
	if !ok {
		m = &sync.Mutex{}
		l.byKey[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() { m.Unlock() }
}
