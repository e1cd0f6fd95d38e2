package receive

import (
	"sync"

	"github.com/OpenHCSDev/polystore-core/core"
)

// HandlerContext is what a registered ItemHandler receives: the items
// of one layer (already windowed and keyed), the DisplayConfig that
// produced that grouping, a ComponentAccessor over it, and the
// ViewerAdapter to act on.
type HandlerContext struct {
	WindowKey string
	LayerKey  string
	Items     []core.Item
	Display   core.DisplayConfig
	Components ComponentAccessor
	Viewer    ViewerAdapter
}

// ItemHandler processes one PayloadKind's items for one layer,
// matching the original's ItemHandler contract (streaming/base.py):
// CanHandle for dispatch, Handle to act.
type ItemHandler interface {
	CanHandle(kind core.PayloadKind) bool
	Handle(ctx HandlerContext) error
}

var (
	registryMu   sync.RWMutex
	registry     []ItemHandler
	resolveCache = map[core.PayloadKind]ItemHandler{}
)

// RegisterHandler adds h to the registry. Handlers call this from
// their own package's init(), the way the original's AutoRegisterMeta
// populates _ITEM_HANDLERS at import time — first-registered,
// first-matched wins when two handlers claim the same kind.
func RegisterHandler(h ItemHandler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, h)
}

// Resolve returns the first registered handler whose CanHandle(kind)
// is true, cached per kind after first resolution.
func Resolve(kind core.PayloadKind) (ItemHandler, bool) {
	registryMu.RLock()
	if h, ok := resolveCache[kind]; ok {
		registryMu.RUnlock()
		return h, true
	}
	registryMu.RUnlock()

	registryMu.Lock()
	defer registryMu.Unlock()
	if h, ok := resolveCache[kind]; ok {
		return h, true
	}
	for _, h := range registry {
		if h.CanHandle(kind) {
			resolveCache[kind] = h
			return h, true
		}
	}
	return nil, false
}
