package receive_test

import (
	"testing"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/receive"
	"github.com/stretchr/testify/require"
)

func windowDisplayConfig() core.DisplayConfig {
	return core.DisplayConfig{
		ComponentOrder: []string{"well", "channel", "source"},
		ComponentModes: map[string]core.Mode{
			"well":    core.ModeWindow,
			"channel": core.ModeChannel,
			"source":  core.ModeWindow,
		},
	}
}

func TestGroupItemsByComponentModesGroupsByWindowKey(t *testing.T) {
	dc := windowDisplayConfig()
	items := []core.Item{
		{ItemID: "a", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{
			"well": core.StrValue("A01"),
		}},
		{ItemID: "b", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{
			"well": core.StrValue("A01"),
		}},
		{ItemID: "c", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{
			"well": core.StrValue("A02"),
		}},
	}

	grouped := receive.GroupItemsByComponentModes(items, dc, "", nil)
	require.Len(t, grouped.Windows, 2)
	require.Len(t, grouped.Windows["well_A01"], 2)
	require.Len(t, grouped.Windows["well_A02"], 1)
}

func TestGroupItemsByComponentModesFallsBackToDefaultWindow(t *testing.T) {
	dc := core.DisplayConfig{
		ComponentOrder: []string{"channel"},
		ComponentModes: map[string]core.Mode{"channel": core.ModeChannel},
	}
	items := []core.Item{{ItemID: "a", Kind: core.PayloadImage}}

	grouped := receive.GroupItemsByComponentModes(items, dc, "", nil)
	require.Contains(t, grouped.Windows, "default_window")
	require.Len(t, grouped.Windows["default_window"], 1)
}

func TestGroupItemsByComponentModesNormalizesRoiSourceToImagesDirLeaf(t *testing.T) {
	dc := windowDisplayConfig()
	items := []core.Item{
		{ItemID: "r1", Kind: core.PayloadRois, Metadata: map[string]core.MetaValue{
			"source": core.StrValue("/plate/A01_results"),
		}},
	}

	grouped := receive.GroupItemsByComponentModes(items, dc, "/data/plate_images", nil)
	require.Contains(t, grouped.Windows, "source_plate_images")
}

func TestGroupItemsByComponentModesLeavesPlainSourceUnnormalized(t *testing.T) {
	dc := windowDisplayConfig()
	items := []core.Item{
		{ItemID: "r1", Kind: core.PayloadRois, Metadata: map[string]core.MetaValue{
			"source": core.StrValue("plate1"),
		}},
	}

	grouped := receive.GroupItemsByComponentModes(items, dc, "/data/plate_images", nil)
	require.Contains(t, grouped.Windows, "source_plate1")
}

func TestGroupItemsByComponentModesCustomNormalizerOverridesDefault(t *testing.T) {
	dc := windowDisplayConfig()
	items := []core.Item{
		{ItemID: "a", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{
			"well": core.StrValue("A01"),
		}},
	}
	custom := func(component string, value core.MetaValue, item core.Item, imagesDir string) core.MetaValue {
		if component == "well" {
			return core.StrValue("OVERRIDDEN")
		}
		return value
	}

	grouped := receive.GroupItemsByComponentModes(items, dc, "", custom)
	require.Contains(t, grouped.Windows, "well_OVERRIDDEN")
}

func TestGroupItemsByComponentModesPreservesFirstSeenLabels(t *testing.T) {
	dc := windowDisplayConfig()
	items := []core.Item{
		{ItemID: "a", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{"well": core.StrValue("A01")}},
		{ItemID: "b", Kind: core.PayloadImage, Metadata: map[string]core.MetaValue{"well": core.StrValue("A01")}},
	}

	grouped := receive.GroupItemsByComponentModes(items, dc, "", nil)
	labels := grouped.FixedWindowLabels["well_A01"]
	require.Len(t, labels, 1)
	require.Equal(t, "well", labels[0].Name)
	require.Equal(t, core.StrValue("A01"), labels[0].Value)
}
