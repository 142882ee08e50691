package chat

import "sync"

// memberLocks serialises message handling per channel ID within one process. Entries are
// dropped once no goroutine holds or waits on them.
type memberLocks struct {
	mu    sync.Mutex
	locks map[string]*memberLock
}

type memberLock struct {
	mu   sync.Mutex
	refs int
}

func newMemberLocks() *memberLocks {
	return &memberLocks{locks: make(map[string]*memberLock)}
}

// lock blocks until key is free and returns the matching unlock func.
func (l *memberLocks) lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &memberLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *memberLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
