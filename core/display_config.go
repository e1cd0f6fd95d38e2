package core

import jsoniter "github.com/json-iterator/go"

// Mode is a component's role in the hyperstack projection (spec.md §3/§4.6).
type Mode string

const (
	ModeWindow  Mode = "window"
	ModeSlice   Mode = "slice"
	ModeStack   Mode = "stack"
	ModeChannel Mode = "channel"
	ModeFrame   Mode = "frame"
)

// DisplayConfig is the shared record describing how a Batch's items
// project onto windows/layers/axes (spec.md §3).
type DisplayConfig struct {
	ComponentOrder []string        `json:"component_order"`
	ComponentModes map[string]Mode `json:"component_modes"`

	// StyleID unifies the source's "lut" and "colormap" fields per
	// spec.md §9's Open Question resolution: one field on the wire,
	// decoded from either key for backward compatibility.
	StyleID string `json:"style_id"`

	AutoContrast         bool   `json:"auto_contrast,omitempty"`
	VariableSizeHandling string `json:"variable_size_handling,omitempty"`
}

// wireDisplayConfig mirrors spec.md §6's wire shape, which still
// carries both `lut` and `colormap` as synonyms for StyleID.
type wireDisplayConfig struct {
	StyleID              string          `json:"style_id,omitempty"`
	LUT                  string          `json:"lut,omitempty"`
	Colormap             string          `json:"colormap,omitempty"`
	ComponentModes       map[string]Mode `json:"component_modes"`
	ComponentOrder       []string        `json:"component_order"`
	AutoContrast         bool            `json:"auto_contrast,omitempty"`
	VariableSizeHandling string          `json:"variable_size_handling,omitempty"`
}

func (c DisplayConfig) MarshalJSON() ([]byte, error) {
	w := wireDisplayConfig{
		StyleID:              c.StyleID,
		ComponentModes:       c.ComponentModes,
		ComponentOrder:       c.ComponentOrder,
		AutoContrast:         c.AutoContrast,
		VariableSizeHandling: c.VariableSizeHandling,
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(w)
}

func (c *DisplayConfig) UnmarshalJSON(b []byte) error {
	var w wireDisplayConfig
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &w); err != nil {
		return err
	}
	c.ComponentModes = w.ComponentModes
	c.ComponentOrder = w.ComponentOrder
	c.AutoContrast = w.AutoContrast
	c.VariableSizeHandling = w.VariableSizeHandling
	switch {
	case w.StyleID != "":
		c.StyleID = w.StyleID
	case w.LUT != "":
		c.StyleID = w.LUT
	default:
		c.StyleID = w.Colormap
	}
	return nil
}

// Validate enforces spec.md §3's invariant:
// component_modes.keys() ⊇ component_order; extra keys are errors.
func (c DisplayConfig) Validate() error {
	if c.ComponentModes == nil {
		return NewProtocolErr("component_modes missing")
	}
	seen := make(map[string]bool, len(c.ComponentOrder))
	for _, name := range c.ComponentOrder {
		if _, ok := c.ComponentModes[name]; !ok {
			return NewProtocolErr("component %q in component_order has no mode", name)
		}
		seen[name] = true
	}
	for name := range c.ComponentModes {
		if !seen[name] {
			return NewProtocolErr("component_modes has extra key %q not in component_order", name)
		}
	}
	return nil
}

// ComponentsByMode returns the ordered sub-sequence of ComponentOrder
// whose mode equals m (used by both WindowProjection and
// ComponentAccessor.GetByMode).
func (c DisplayConfig) ComponentsByMode(m Mode) []string {
	out := make([]string, 0, len(c.ComponentOrder))
	for _, name := range c.ComponentOrder {
		if c.ComponentModes[name] == m {
			out = append(out, name)
		}
	}
	return out
}
