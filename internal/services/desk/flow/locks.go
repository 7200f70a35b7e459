package flow

import "sync"

// orderLocks serializes mutations per order id. Handlers for different
// orders may overlap; two handlers for the same order never do, which
// prevents lost updates on stage advancement and group binding.
type orderLocks struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[int64]*lockEntry)}
}

// acquire blocks until the order's lock is held and returns its release
// function. Entries are reference counted so the map never grows without
// bound.
func (l *orderLocks) acquire(orderID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &lockEntry{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, orderID)
		}
		l.mu.Unlock()
	}
}
