package bundle

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
)

// buntTracker is a QueueTracker whose outstanding set survives a
// restart of the producer process, for deployments where losing
// in-flight ack bookkeeping on a crash is unacceptable. It keeps the
// same waiter-channel Join contract as memTracker but persists one key per (destination,
// item_id) pair to an on-disk buntdb store instead of a Go map.
type buntTracker struct {
	db *buntdb.DB

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewBuntTracker opens (or creates) a buntdb-backed QueueTracker at
// path. Pass ":memory:" for a non-persistent store useful in tests
// that still want to exercise this code path.
func NewBuntTracker(path string) (QueueTracker, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, core.NewBufferErr("open tracker store %q: %v", path, err)
	}
	return &buntTracker{db: db, waiters: make(map[string][]chan struct{})}, nil
}

func (t *buntTracker) Close() error { return t.db.Close() }

func trackerKey(destination, itemID string) string {
	return fmt.Sprintf("outstanding:%s:%s", destination, itemID)
}

func (t *buntTracker) RegisterSent(destination, itemID string) {
	_ = t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(trackerKey(destination, itemID), "1", nil)
		return err
	})
}

func (t *buntTracker) MarkAck(destination, itemID string, ok bool, reason string) {
	_ = ok
	_ = reason
	var deleted bool
	_ = t.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(trackerKey(destination, itemID))
		if err == nil {
			deleted = true
		} else if err == buntdb.ErrNotFound {
			return nil
		}
		return nil
	})
	if !deleted {
		nlog.Warningf("bundle: late or duplicate ack for item %s on destination %q", itemID, destination)
		return
	}
	t.mu.Lock()
	for _, w := range t.waiters[destination] {
		close(w)
	}
	delete(t.waiters, destination)
	t.mu.Unlock()
}

func (t *buntTracker) Outstanding(destination string) int {
	prefix := "outstanding:" + destination + ":"
	n := 0
	_ = t.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, _ string) bool {
			n++
			return true
		})
	})
	return n
}

func (t *buntTracker) Join(ctx context.Context, destination string) error {
	for {
		// hold mu across the check and the waiter registration, so a
		// MarkAck landing in between cannot close the waiters first
		t.mu.Lock()
		if t.Outstanding(destination) == 0 {
			t.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		t.waiters[destination] = append(t.waiters[destination], wake)
		t.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return core.NewTimeoutErr(destination, cos.FmtErr("join", ctx.Err()))
		}
	}
}

var _ QueueTracker = (*buntTracker)(nil)
