// internal/room/locks.go
package room

import "sync"

// KeyedMutex serializes all mutation for a given room id across concurrent
// connections. The cache offers no atomic compare-and-set, so every
// read-modify-write of a snapshot must run while holding the room's lock or
// two near-simultaneous actions on the same room can lose updates.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns the matching unlock function.
// Entries are reference-counted so the table does not grow with every room
// that ever existed.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
