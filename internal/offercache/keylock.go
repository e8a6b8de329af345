package offercache

import "sync"

// keyLock hands out one mutex per token id. Entries are dropped once no
// goroutine holds or waits on them.
type keyLock struct {
	mu      sync.Mutex
	entries map[uint64]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[uint64]*keyEntry)}
}

// Lock blocks until the lock for id is held and returns its release func.
func (k *keyLock) Lock(id uint64) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &keyEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
