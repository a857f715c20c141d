package synchronizer

import (
	"context"
	"sync"
)

// leases is a keyed mutex over file ids. The remote read and the local
// write of one reconciliation are not transactional, so two passes over
// the same file must not interleave.
type leases struct {
	mu   sync.Mutex
	held map[int64]*lease
}

type lease struct {
	sem  chan struct{}
	refs int
}

func newLeases() *leases {
	return &leases{held: make(map[int64]*lease)}
}

// acquire blocks until id is free or ctx ends. The returned func releases
// the lease and must be called exactly once.
func (l *leases) acquire(ctx context.Context, id int64) (func(), error) {
	l.mu.Lock()
	le, ok := l.held[id]
	if !ok {
		le = &lease{sem: make(chan struct{}, 1)}
		l.held[id] = le
	}
	le.refs++
	l.mu.Unlock()

	select {
	case le.sem <- struct{}{}:
		return func() {
			<-le.sem
			l.drop(id, le)
		}, nil
	case <-ctx.Done():
		l.drop(id, le)
		return nil, ctx.Err()
	}
}

func (l *leases) drop(id int64, le *lease) {
	l.mu.Lock()
	defer l.mu.Unlock()

	le.refs--
	if le.refs == 0 {
		delete(l.held, id)
	}
}
