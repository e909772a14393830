package core

import "sync"

// leaseTable guarantees at most one in-flight execution per cas_id inside
// this process. Overlapping plan submissions that partition to the same
// shard wait for the holder instead of racing; the surviving execution's
// result serves both, since identical cas_ids are idempotent by
// construction.
type leaseTable struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLeaseTable() *leaseTable {
	return &leaseTable{held: make(map[string]chan struct{})}
}

// TryAcquire takes the lease for a cas_id. On success the returned
// channel is nil; on denial it is the holder's channel, closed when the
// holder releases.
func (l *leaseTable) TryAcquire(casID string) (bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.held[casID]; ok {
		return false, ch
	}
	l.held[casID] = make(chan struct{})
	return true, nil
}

// Release frees the lease for a cas_id and wakes every waiter.
func (l *leaseTable) Release(casID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.held[casID]; ok {
		close(ch)
		delete(l.held, casID)
	}
}
