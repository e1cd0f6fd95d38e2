package receive

import (
	"fmt"
	"sort"

	"github.com/OpenHCSDev/polystore-core/core"
)

// ComponentAccessor is a thin read-only view over a DisplayConfig plus
// the items it describes, used by handlers that need a component's
// mode or an item's component value without re-deriving
// ComponentsByMode themselves each time.
type ComponentAccessor struct {
	dc core.DisplayConfig
}

func NewComponentAccessor(dc core.DisplayConfig) ComponentAccessor {
	return ComponentAccessor{dc: dc}
}

// GetByMode returns the ordered component names of the given mode.
func (a ComponentAccessor) GetByMode(mode core.Mode) []string {
	return a.dc.ComponentsByMode(mode)
}

// GetValue returns item's value for a named component, defaulting to
// integer 0 per spec.md §3.
func (a ComponentAccessor) GetValue(item core.Item, name string) core.MetaValue {
	return item.GetMeta(name)
}

// CollectValues returns the de-duplicated, sorted set of names-tuples
// across items — e.g. for a "channel" axis with items valued 1,1,2 it
// returns [[1],[2]], not one row per item. Mirrors the original
// GenericComponentAccessor.collect_values, which builds a set() of
// value-tuples and returns sorted(values_set) for a viewer adapter to
// turn into a hyperstack's dimension labels.
func (a ComponentAccessor) CollectValues(items []core.Item, names []string) [][]core.MetaValue {
	seen := make(map[string][]core.MetaValue, len(items))
	for _, item := range items {
		row := make([]core.MetaValue, len(names))
		for j, name := range names {
			row[j] = a.GetValue(item, name)
		}
		seen[tupleKey(row)] = row
	}

	out := make([][]core.MetaValue, 0, len(seen))
	for _, row := range seen {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return tupleLess(out[i], out[j]) })
	return out
}

func tupleKey(row []core.MetaValue) string {
	return fmt.Sprint(row)
}

// tupleLess orders tuples lexicographically: per-position, numeric
// values sort before string values, then by the value itself.
func tupleLess(a, b []core.MetaValue) bool {
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if a[i].IsStr != b[i].IsStr {
			return !a[i].IsStr
		}
		if a[i].IsStr {
			return a[i].Str < b[i].Str
		}
		return a[i].Int < b[i].Int
	}
	return false
}
