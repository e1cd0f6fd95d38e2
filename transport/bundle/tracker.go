// Package bundle wires StreamingBackend (spec.md §4.3) and QueueTracker
// (spec.md §4.4) on top of the transport package, generalized from the
// teacher's DataMover (transport/bundle/dmover.go): there, a DataMover
// tracks outstanding sends per xaction and waits for acks before
// letting the caller proceed past a Quiesce/Wait; here, a QueueTracker
// tracks outstanding item_ids per destination and lets a caller Join
// once every registered item_id has been acked.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package bundle

import (
	"context"
	"sync"
	"time"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/hk"
	"github.com/OpenHCSDev/polystore-core/stats"
)

// QueueTracker is the producer-side bookkeeper of spec.md §4.4: it
// records every item_id handed to a destination's endpoint
// (RegisterSent, called before the send) and every ack that later
// arrives for it (MarkAck), and lets callers block until a
// destination's outstanding count reaches zero (Join).
//
// Invariant (spec.md §8 #1): for a given item_id, RegisterSent happens
// before the at-most-one MarkAck that follows it. A MarkAck for an
// item_id never registered, or registered against a different
// destination, is a no-op logged as a protocol anomaly rather than a
// panic: a slow/duplicate receiver reply must never crash the
// producer.
type QueueTracker interface {
	RegisterSent(destination, itemID string)
	MarkAck(destination, itemID string, ok bool, reason string)
	Outstanding(destination string) int
	Join(ctx context.Context, destination string) error
}

type memTracker struct {
	mu      sync.Mutex
	byDest  map[string]map[string]struct{}
	waiters map[string][]chan struct{}
}

// NewMemTracker builds the default in-memory QueueTracker: O(1)
// register/mark, held only for the lifetime of the producer process.
func NewMemTracker() QueueTracker {
	return &memTracker{
		byDest:  make(map[string]map[string]struct{}),
		waiters: make(map[string][]chan struct{}),
	}
}

func (t *memTracker) RegisterSent(destination, itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.byDest[destination]
	if !ok {
		set = make(map[string]struct{})
		t.byDest[destination] = set
	}
	set[itemID] = struct{}{}
	stats.ItemsOutstanding.WithLabelValues(destination).Set(float64(len(set)))
}

func (t *memTracker) MarkAck(destination, itemID string, ok bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, exists := t.byDest[destination]
	if !exists {
		nlog.Warningf("bundle: ack for item %s against unknown destination %q", itemID, destination)
		return
	}
	if _, pending := set[itemID]; !pending {
		nlog.Warningf("bundle: late or duplicate ack for item %s on destination %q", itemID, destination)
		return
	}
	delete(set, itemID)
	stats.ItemsOutstanding.WithLabelValues(destination).Set(float64(len(set)))
	_ = ok
	_ = reason
	for _, w := range t.waiters[destination] {
		close(w)
	}
	delete(t.waiters, destination)
}

func (t *memTracker) Outstanding(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byDest[destination])
}

// Join blocks until destination's outstanding count reaches zero or
// ctx is done, matching spec.md §4.4's join(destination, timeout).
// Callers pass a context.WithTimeout to recover the timeout parameter.
// Every MarkAck that drains a destination to zero wakes every Join
// waiter registered against it at that moment.
func (t *memTracker) Join(ctx context.Context, destination string) error {
	for {
		t.mu.Lock()
		if len(t.byDest[destination]) == 0 {
			t.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		t.waiters[destination] = append(t.waiters[destination], wake)
		t.mu.Unlock()

		select {
		case <-wake:
			// re-check: other destinations' waiters share nothing, but
			// a fresh RegisterSent may have landed between wake and lock
		case <-ctx.Done():
			return core.NewTimeoutErr(destination, cos.FmtErr("join", ctx.Err()))
		}
	}
}

// JoinTimeout is a convenience wrapper for the common case of a plain
// time.Duration deadline instead of a caller-supplied context.
func JoinTimeout(t QueueTracker, destination string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Join(ctx, destination)
}

// StartReconciliation registers a periodic hk callback that surfaces a
// destination stuck with a nonzero outstanding count, independent of
// any particular caller's Join deadline (spec.md §8 scenario S6: a
// receiver that stops acking shouldn't go unnoticed until the next
// Join call happens to time out). The caller still needs
// `go hk.DefaultHK.Run()` started once per process; StopReconciliation
// deregisters the tick, e.g. from StreamingBackend.Cleanup.
func StartReconciliation(tracker QueueTracker, destination string) {
	hk.Reg(destination+hk.NameSuffix, func(int64) time.Duration {
		if n := tracker.Outstanding(destination); n > 0 {
			nlog.Warningf("bundle: destination %q has %d outstanding item(s) at reconciliation tick", destination, n)
		}
		return hk.Prune2mIval
	}, hk.Prune2mIval)
}

// StopReconciliation deregisters destination's reconciliation tick.
func StopReconciliation(destination string) {
	hk.Unreg(destination + hk.NameSuffix)
}
