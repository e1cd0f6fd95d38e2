package receive

import (
	"net/http"
	"sync"

	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/transport"
)

// Dispatcher is the receiver-side wiring point: it validates an
// incoming Batch (enough to ack it), projects its items into
// windows/layers and enqueues each layer's items on a
// DebouncedBatchEngine, all before OnBatch returns; the engine later
// feeds them asynchronously to the matching ItemHandler.
//
// The ack a Dispatcher returns over transport confirms structural
// receipt only — that every item named a registered handler kind — not
// that the viewer has finished rendering it; rendering happens after
// the debounce window closes, asynchronously from the HTTP response.
// ViewerAdapter.Ack reports that later, internal completion separately
// (see DESIGN.md's Open Question decision on this split).
type Dispatcher struct {
	engineCfg  core.EngineConfig
	viewer     ViewerAdapter
	imagesDir  string
	normalizer WindowValueNormalizer

	mu      sync.Mutex
	engines map[string]*DebouncedBatchEngine
}

func NewDispatcher(engineCfg core.EngineConfig, viewer ViewerAdapter, imagesDir string) (*Dispatcher, error) {
	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		engineCfg: engineCfg,
		viewer:    viewer,
		imagesDir: imagesDir,
		engines:   make(map[string]*DebouncedBatchEngine),
	}, nil
}

// Serve registers the dispatcher as destination's receive-side handler
// on mux, under the given transport mode.
func (d *Dispatcher) Serve(mux *http.ServeMux, destination string, mode core.TransportMode) error {
	return transport.Handle(mux, destination, mode, d.OnBatch)
}

// OnBatch is the transport.OnBatch callback: validate every item against
// the handler registry, project into window/layer groups, enqueue each
// group on its engine, and return one ack per item reflecting only
// that validation.
func (d *Dispatcher) OnBatch(batch *core.Batch) ([]core.Ack, error) {
	acks := make([]core.Ack, len(batch.Items))
	valid := make([]core.Item, 0, len(batch.Items))

	for i, item := range batch.Items {
		if _, ok := Resolve(item.Kind); !ok {
			acks[i] = core.ErrAck(item.ItemID, "no handler registered for payload kind")
			continue
		}
		acks[i] = core.OKAck(item.ItemID)
		valid = append(valid, item)
	}

	if len(valid) > 0 {
		d.project(valid, batch.DisplayConfig)
	}
	return acks, nil
}

func (d *Dispatcher) project(items []core.Item, dc core.DisplayConfig) {
	grouped := GroupItemsByComponentModes(items, dc, d.imagesDir, d.normalizer)
	for windowKey, windowItems := range grouped.Windows {
		labels := grouped.FixedWindowLabels[windowKey]
		byLayer := make(map[string][]core.Item)
		for _, item := range windowItems {
			layerKey := BuildLayerKey(item, dc)
			byLayer[layerKey] = append(byLayer[layerKey], item)
		}
		for layerKey, layerItems := range byLayer {
			ctx := Context{
				"window_key": windowKey,
				"layer_key":  layerKey,
				"labels":     labels,
				"display":    dc,
			}
			d.engineFor(windowKey, layerKey).Enqueue(layerItems, ctx)
		}
	}
}

func (d *Dispatcher) engineFor(windowKey, layerKey string) *DebouncedBatchEngine {
	key := windowKey + "\x00" + layerKey
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.engines[key]; ok {
		return e
	}
	e, err := NewDebouncedBatchEngine(d.engineCfg, d.process)
	if err != nil {
		// engineCfg was validated in NewDispatcher, so this can only
		// fail if Validate and NewDebouncedBatchEngine's own checks
		// have drifted apart; this path exists so engineFor's own
		// signature stays error-free.
		nlog.Errorf("receive: rebuilding batch engine for %s/%s: %v", windowKey, layerKey, err)
	}
	d.engines[key] = e
	return e
}

func (d *Dispatcher) process(items []core.Item, ctx Context) {
	windowKey, _ := ctx["window_key"].(string)
	layerKey, _ := ctx["layer_key"].(string)
	labels, _ := ctx["labels"].([]ComponentLabel)
	dc, _ := ctx["display"].(core.DisplayConfig)

	if err := d.viewer.EnsureWindow(windowKey, labels); err != nil {
		nlog.Errorf("receive: ensure window %q: %v", windowKey, err)
		d.ackAll(items, false, err.Error())
		return
	}

	handler, ok := Resolve(items[0].Kind)
	if !ok {
		d.ackAll(items, false, "no handler registered for payload kind")
		return
	}

	hctx := HandlerContext{
		WindowKey:  windowKey,
		LayerKey:   layerKey,
		Items:      items,
		Display:    dc,
		Components: NewComponentAccessor(dc),
		Viewer:     d.viewer,
	}
	if err := handler.Handle(hctx); err != nil {
		nlog.Errorf("receive: handler failed for layer %q: %v", layerKey, err)
		d.ackAll(items, false, err.Error())
		return
	}
	d.ackAll(items, true, "")
}

func (d *Dispatcher) ackAll(items []core.Item, ok bool, reason string) {
	for _, item := range items {
		d.viewer.Ack(item.ItemID, ok, reason)
	}
}
