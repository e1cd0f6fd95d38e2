// Package hk provides a mechanism for registering named callbacks that
// are invoked at specified intervals from a single background
// goroutine. bundle.StartReconciliation uses it to log, per destination,
// a QueueTracker's nonzero outstanding count (spec.md §8 scenario S6);
// the demo CLI starts the loop with `go hk.DefaultHK.Run()`.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/cmn/mono"
)

// NameSuffix disambiguates a housekeeping registration from the
// caller's own name, e.g. destination+hk.NameSuffix.
const NameSuffix = ".hk"

// UnregInterval is the sentinel duration a callback returns to
// unregister itself.
const UnregInterval = time.Duration(-1)

// Prune2mIval is the default reconciliation tick used by QueueTracker.
const Prune2mIval = 2 * time.Minute

// CB is a housekeeping callback: it receives the mono.NanoTime()
// reading taken for the current firing and returns the delay until its next invocation,
// or UnregInterval to deregister.
type CB func(now int64) time.Duration

type request struct {
	key      string
	f        CB
	interval time.Duration
	initial  time.Duration
	unreg    bool
}

type entry struct {
	f     CB
	key   string
	due   int64 // mono.NanoTime() deadline
	index int
}

// housekeeper runs every registered callback, one background goroutine
// per process, exactly as the teacher's stream collector runs one
// ticker for all streams.
type housekeeper struct {
	mu       sync.Mutex
	byKey    map[string]*entry
	heap     entryHeap
	reqCh    chan request
	stopCh   *cos.StopCh
	started  chan struct{}
	startOnce sync.Once
}

// DefaultHK is the process-wide housekeeper; analogous to the
// teacher's single stream collector, but general-purpose.
var DefaultHK = newHousekeeper()

func newHousekeeper() *housekeeper {
	return &housekeeper{
		byKey:   make(map[string]*entry),
		reqCh:   make(chan request, 64),
		stopCh:  cos.NewStopCh(),
		started: make(chan struct{}),
	}
}

// TestInit resets DefaultHK for test isolation; production callers
// never need it since DefaultHK.Run is started once at process start.
func TestInit() {
	DefaultHK = newHousekeeper()
}

// WaitStarted blocks until Run's main loop is ready to accept
// registrations, mirroring the teacher's hk_test usage.
func WaitStarted() { <-DefaultHK.started }

// Reg registers a callback under key, to fire first after initial and
// then at whatever interval the callback itself returns.
func Reg(key string, f CB, initial time.Duration) {
	DefaultHK.reg(key, f, initial)
}

// Unreg deregisters a callback before it next fires.
func Unreg(key string) {
	DefaultHK.unreg(key)
}

func (hk *housekeeper) reg(key string, f CB, initial time.Duration) {
	hk.reqCh <- request{key: key, f: f, initial: initial}
}

func (hk *housekeeper) unreg(key string) {
	hk.reqCh <- request{key: key, unreg: true}
}

// Run is the housekeeper's single event loop: a timer armed for the
// soonest due entry, plus a request channel for add/remove. Spawn
// with `go hk.DefaultHK.Run()` once per process.
func (hk *housekeeper) Run() error {
	hk.startOnce.Do(func() { close(hk.started) })

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		hk.mu.Lock()
		if hk.heap.Len() > 0 {
			delay := time.Duration(hk.heap[0].due - mono.NanoTime())
			if delay < 0 {
				delay = 0
			}
			resetTimer(timer, delay)
		} else {
			resetTimer(timer, time.Hour)
		}
		hk.mu.Unlock()

		select {
		case req := <-hk.reqCh:
			hk.apply(req)
		case <-timer.C:
			hk.fireDue()
		case <-hk.stopCh.Listen():
			return nil
		}
	}
}

func (hk *housekeeper) Stop() { hk.stopCh.Close() }

func (hk *housekeeper) apply(req request) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if req.unreg {
		if e, ok := hk.byKey[req.key]; ok {
			heap.Remove(&hk.heap, e.index)
			delete(hk.byKey, req.key)
		}
		return
	}
	if old, ok := hk.byKey[req.key]; ok {
		heap.Remove(&hk.heap, old.index)
	}
	e := &entry{f: req.f, key: req.key, due: mono.NanoTime() + int64(req.initial)}
	hk.byKey[req.key] = e
	heap.Push(&hk.heap, e)
}

func (hk *housekeeper) fireDue() {
	now := mono.NanoTime()
	var due []*entry
	hk.mu.Lock()
	for hk.heap.Len() > 0 && hk.heap[0].due <= now {
		e := heap.Pop(&hk.heap).(*entry)
		delete(hk.byKey, e.key)
		due = append(due, e)
	}
	hk.mu.Unlock()

	for _, e := range due {
		next := e.f(now)
		if next == UnregInterval {
			continue
		}
		hk.mu.Lock()
		e.due = mono.NanoTime() + int64(next)
		hk.byKey[e.key] = e
		heap.Push(&hk.heap, e)
		hk.mu.Unlock()
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// entryHeap is a min-heap on due time, same pattern as the teacher's
// stream collector heap in transport/collect.go.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
