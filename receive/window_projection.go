package receive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/OpenHCSDev/polystore-core/core"
)

// GroupedWindowItems is one batch's window projection (spec.md §4.6),
// grounded on the original's GroupedWindowItems dataclass
// (window_projection.py).
type GroupedWindowItems struct {
	WindowComponents  []string
	ChannelComponents []string
	SliceComponents   []string
	FrameComponents   []string
	Windows           map[string][]core.Item
	FixedWindowLabels map[string][]ComponentLabel
}

// ComponentLabel pairs a component name with its normalized value for
// one window, preserving the original's list-of-tuples ordering.
type ComponentLabel struct {
	Name  string
	Value core.MetaValue
}

// WindowValueNormalizer rewrites a raw component value before it is
// folded into a window key; the default normalizer applies spec.md
// §4.6's ROI "source" leaf-name substitution.
type WindowValueNormalizer func(component string, value core.MetaValue, item core.Item, imagesDir string) core.MetaValue

// GroupItemsByComponentModes projects items into windows keyed by the
// ordered concatenation of their window-mode components (spec.md
// §4.6). imagesDir may be empty; when set, it normalizes an ROI's
// "source" component to the images directory's leaf name whenever the
// raw value looks like a results path (contains "_results" or a path
// separator).
func GroupItemsByComponentModes(
	items []core.Item,
	dc core.DisplayConfig,
	imagesDir string,
	normalizer WindowValueNormalizer,
) GroupedWindowItems {
	if normalizer == nil {
		normalizer = defaultNormalizer
	}

	result := GroupedWindowItems{
		WindowComponents:  dc.ComponentsByMode(core.ModeWindow),
		ChannelComponents: dc.ComponentsByMode(core.ModeChannel),
		SliceComponents:   dc.ComponentsByMode(core.ModeSlice),
		FrameComponents:   dc.ComponentsByMode(core.ModeFrame),
		Windows:           make(map[string][]core.Item),
		FixedWindowLabels: make(map[string][]ComponentLabel),
	}

	for _, item := range items {
		var keyParts []string
		var labels []ComponentLabel

		for _, comp := range result.WindowComponents {
			if item.Metadata == nil {
				continue
			}
			value, present := item.Metadata[comp]
			if !present {
				continue
			}
			value = normalizer(comp, value, item, imagesDir)
			keyParts = append(keyParts, fmt.Sprintf("%s_%s", comp, metaString(value)))
			labels = append(labels, ComponentLabel{Name: comp, Value: value})
		}

		windowKey := "default_window"
		if len(keyParts) > 0 {
			windowKey = strings.Join(keyParts, "_")
		}
		result.Windows[windowKey] = append(result.Windows[windowKey], item)
		if _, seen := result.FixedWindowLabels[windowKey]; !seen {
			result.FixedWindowLabels[windowKey] = labels
		}
	}

	return result
}

// defaultNormalizer mirrors the original's _default_normalizer: an ROI
// item's "source" component is rewritten to the images directory's
// leaf name whenever its raw value names a results path rather than a
// plain image-set identifier.
func defaultNormalizer(component string, value core.MetaValue, item core.Item, imagesDir string) core.MetaValue {
	if component != "source" || imagesDir == "" || item.Kind != core.PayloadRois {
		return value
	}
	s := metaString(value)
	if strings.Contains(s, "_results") || strings.ContainsRune(s, '/') {
		return core.StrValue(filepath.Base(imagesDir))
	}
	return value
}

func metaString(v core.MetaValue) string {
	if v.IsStr {
		return v.Str
	}
	return fmt.Sprintf("%d", v.Int)
}
