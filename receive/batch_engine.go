// Package receive implements the receiver side of spec.md: the
// debounced batch accumulator, the window/layer projection that groups
// items for a viewer, the handler registry, and the dispatcher that
// wires all of it to a transport.Endpoint and a ViewerAdapter.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package receive

import (
	"sync"
	"time"

	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/stats"
)

// ProcessFn is invoked by DebouncedBatchEngine outside its lock, once
// per flush, with every item accumulated since the previous flush plus
// the most recently supplied Context (spec.md §4.5).
type ProcessFn func(items []core.Item, ctx Context)

// Context is the opaque per-enqueue payload threaded through to
// ProcessFn; callers attach whatever a window/layer needs to finish
// display (the window projection result, the destination viewer, …).
type Context map[string]any

// DebouncedBatchEngine accumulates items across calls to Enqueue and
// flushes them to ProcessFn once no new item has arrived for
// DebounceDelay, or MaxWait has elapsed since the first unflushed
// item, whichever comes first (spec.md §4.5). Grounded on the
// original's DebouncedBatchEngine (batch_engine.py): same debounce/
// max-wait race, same "exactly one live timer" invariant. Each Enqueue
// stops the live timer and arms a new time.AfterFunc in its place.
type DebouncedBatchEngine struct {
	processFn     ProcessFn
	debounceDelay time.Duration
	maxWait       time.Duration

	mu             sync.Mutex
	timer          *time.Timer
	firstEnqueued  time.Time
	pendingItems   []core.Item
	pendingContext Context
}

func NewDebouncedBatchEngine(cfg core.EngineConfig, processFn ProcessFn) (*DebouncedBatchEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DebouncedBatchEngine{
		processFn:     processFn,
		debounceDelay: cfg.DebounceDelay,
		maxWait:       cfg.MaxWait,
	}, nil
}

// Enqueue appends items to the pending batch and (re)arms the debounce
// timer, or flushes immediately if MaxWait has already elapsed since
// the first pending item. Never blocks on processFn.
func (e *DebouncedBatchEngine) Enqueue(items []core.Item, ctx Context) {
	var flushNow bool

	e.mu.Lock()
	e.pendingItems = append(e.pendingItems, items...)
	e.pendingContext = ctx

	if e.firstEnqueued.IsZero() {
		e.firstEnqueued = time.Now()
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	elapsed := time.Since(e.firstEnqueued)
	if elapsed >= e.maxWait {
		flushNow = true
		e.timer = nil
	} else {
		wait := e.debounceDelay
		if remaining := e.maxWait - elapsed; remaining < wait {
			wait = remaining
		}
		e.timer = time.AfterFunc(wait, e.Flush)
	}
	e.mu.Unlock()

	if flushNow {
		e.Flush()
	}
}

// Flush processes whatever is pending right now, synchronously on the
// calling goroutine (the debounce timer's own goroutine, or a caller
// forcing early drain at shutdown).
func (e *DebouncedBatchEngine) Flush() {
	items, ctx, since, ok := e.drain()
	if !ok {
		return
	}
	if !since.IsZero() {
		windowKey, _ := ctx["window_key"].(string)
		stats.ObserveFlush(windowKey, since)
	}
	e.safeProcess(items, ctx)
}

func (e *DebouncedBatchEngine) drain() ([]core.Item, Context, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	since := e.firstEnqueued
	e.firstEnqueued = time.Time{}
	if len(e.pendingItems) == 0 {
		return nil, nil, since, false
	}
	items := e.pendingItems
	ctx := e.pendingContext
	e.pendingItems = nil
	e.pendingContext = nil
	return items, ctx, since, true
}

func (e *DebouncedBatchEngine) safeProcess(items []core.Item, ctx Context) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("receive: batch engine process_fn panicked: %v", r)
		}
	}()
	e.processFn(items, ctx)
}
