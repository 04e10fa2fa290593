package inventory

import (
	"sync"

	"github.com/google/uuid"
)

// ComponentLocks serializes in-process writers per component id. Entries are
// reference counted and dropped once no goroutine holds or waits on them.
type ComponentLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewComponentLocks returns an empty lock table.
func NewComponentLocks() *ComponentLocks {
	return &ComponentLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock blocks until the caller owns the lock for id and returns the release func.
func (l *ComponentLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, id)
			}
			l.mu.Unlock()
		})
	}
}

func (l *ComponentLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
