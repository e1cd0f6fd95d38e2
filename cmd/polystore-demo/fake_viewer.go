package main

import (
	"fmt"
	"sort"
	"sync"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/receive"
)

// fakeViewer is the in-memory ViewerAdapter stand-in spec.md §4.8
// describes as an external collaborator: it records what a real
// napari/Fiji binding would have been asked to do, so this demo can
// print a summary of dispatcher behavior without a window system.
type fakeViewer struct {
	mu        sync.Mutex
	windows   map[string][]receive.ComponentLabel
	layers    map[string]int // windowKey/layerKey -> item count
	acked     map[string]bool
	ackReason map[string]string
}

func newFakeViewer() *fakeViewer {
	return &fakeViewer{
		windows:   make(map[string][]receive.ComponentLabel),
		layers:    make(map[string]int),
		acked:     make(map[string]bool),
		ackReason: make(map[string]string),
	}
}

func (v *fakeViewer) EnsureWindow(windowKey string, labels []receive.ComponentLabel) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.windows[windowKey]; !ok {
		v.windows[windowKey] = labels
	}
	return nil
}

func (v *fakeViewer) BuildHyperstack(windowKey, layerKey string, items []core.Item, _ core.DisplayConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layers[windowKey+"/"+layerKey] += len(items)
	return nil
}

func (v *fakeViewer) AddROIs(windowKey, layerKey string, items []core.Item, _ core.DisplayConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layers[windowKey+"/"+layerKey] += len(items)
	return nil
}

func (v *fakeViewer) Ack(itemID string, ok bool, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.acked[itemID] = ok
	v.ackReason[itemID] = reason
}

func (v *fakeViewer) summary() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys := make([]string, 0, len(v.layers))
	for k := range v.layers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := fmt.Sprintf("windows=%d\n", len(v.windows))
	for _, k := range keys {
		out += fmt.Sprintf("layer %s: %d item(s)\n", k, v.layers[k])
	}
	for id, ok := range v.acked {
		out += fmt.Sprintf("ack %s: ok=%v reason=%q\n", id, ok, v.ackReason[id])
	}
	return out
}
