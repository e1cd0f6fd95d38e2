package receive

import (
	"fmt"
	"strings"

	"github.com/OpenHCSDev/polystore-core/core"
)

// BuildLayerKey builds the canonical per-layer key from an item's
// slice-mode components, promoted to a standalone pure function per
// the original's build_layer_key (layer_key.py) since it has no
// dependency on viewer state. Idempotent under re-projection (spec.md
// §8 invariant 7): the same component values always produce the same
// key, independent of window grouping.
func BuildLayerKey(item core.Item, dc core.DisplayConfig) string {
	var parts []string
	for _, comp := range dc.ComponentsByMode(core.ModeSlice) {
		if item.Metadata == nil {
			continue
		}
		value, present := item.Metadata[comp]
		if !present {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s_%s", comp, metaString(value)))
	}

	key := "default_layer"
	if len(parts) > 0 {
		key = strings.Join(parts, "_")
	}

	switch item.Kind {
	case core.PayloadRois:
		return key + "_shapes"
	case core.PayloadPoints:
		return key + "_points"
	default:
		return key
	}
}
