// Package tipnotify broadcasts active-tip changes to blocked waiters.
package tipnotify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chainstate/pkg/types"
)

// Snapshot is the last announced chain tip.
type Snapshot struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height"`
}

// Notifier holds the latest tip snapshot and wakes waiters on every
// Notify. The zero value is not usable; create one with New.
type Notifier struct {
	mu      sync.Mutex
	latest  Snapshot
	changed chan struct{} // closed and replaced on every Notify
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
	waiters  atomic.Int64
}

// New creates a notifier with a zero snapshot.
func New() *Notifier {
	return &Notifier{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Notify stores s and wakes every waiter, even when s equals the
// previous snapshot.
func (n *Notifier) Notify(s Snapshot) {
	n.mu.Lock()
	n.latest = s
	close(n.changed)
	n.changed = make(chan struct{})
	n.mu.Unlock()
}

// Latest returns the current snapshot.
func (n *Notifier) Latest() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest
}

// WaitForChange blocks until the tip differs from prev in hash or height.
func (n *Notifier) WaitForChange(ctx context.Context, prev Snapshot, timeout time.Duration) Snapshot {
	return n.wait(ctx, timeout, func(s Snapshot) bool {
		return s.Hash != prev.Hash || s.Height != prev.Height
	})
}

// WaitForHash blocks until the tip hash equals hash.
func (n *Notifier) WaitForHash(ctx context.Context, hash types.Hash, timeout time.Duration) Snapshot {
	return n.wait(ctx, timeout, func(s Snapshot) bool { return s.Hash == hash })
}

// WaitForHeight blocks until the tip height reaches height.
func (n *Notifier) WaitForHeight(ctx context.Context, height uint64, timeout time.Duration) Snapshot {
	return n.wait(ctx, timeout, func(s Snapshot) bool { return s.Height >= height })
}

// Shutdown releases all current and future waiters. It is safe to call
// more than once.
func (n *Notifier) Shutdown() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		n.mu.Unlock()
		close(n.done)
	})
}

// Waiters returns the number of callers currently blocked.
func (n *Notifier) Waiters() int64 { return n.waiters.Load() }

// wait blocks until cond holds for the current snapshot, the timeout
// expires, ctx ends or the notifier shuts down. A zero timeout waits
// without limit. The snapshot seen last is returned in every case.
func (n *Notifier) wait(ctx context.Context, timeout time.Duration, cond func(Snapshot) bool) Snapshot {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n.waiters.Add(1)
	defer n.waiters.Add(-1)

	for {
		n.mu.Lock()
		s, ch, stopped := n.latest, n.changed, n.stopped
		n.mu.Unlock()

		if stopped || cond(s) {
			return s
		}
		select {
		case <-ch:
		case <-n.done:
			return n.Latest()
		case <-ctx.Done():
			return n.Latest()
		}
	}
}
