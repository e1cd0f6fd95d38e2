package core_test

import (
	"encoding/json"
	"testing"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/stretchr/testify/require"
)

func TestGetMetaDefaultsToZero(t *testing.T) {
	it := core.Item{}
	require.Equal(t, core.IntValue(0), it.GetMeta("channel"))

	it.Metadata = map[string]core.MetaValue{"channel": core.IntValue(3)}
	require.Equal(t, core.IntValue(3), it.GetMeta("channel"))
	require.Equal(t, core.IntValue(0), it.GetMeta("z"))
}

func TestShapeNumElements(t *testing.T) {
	require.Equal(t, int64(512*512), core.Shape{512, 512}.NumElements())
	require.Equal(t, int64(1), core.Shape{}.NumElements())
}

func TestDTypeSize(t *testing.T) {
	require.Equal(t, int64(1), core.DTypeUint8.Size())
	require.Equal(t, int64(2), core.DTypeUint16.Size())
	require.Equal(t, int64(4), core.DTypeFloat32.Size())
	require.Equal(t, int64(8), core.DTypeFloat64.Size())
	require.Equal(t, int64(0), core.DType("nonsense").Size())
}

func TestItemMarshalImageRoundTrip(t *testing.T) {
	it := core.Item{
		ItemID: "abc123",
		Path:   "/data/plate/A01.tif",
		Kind:   core.PayloadImage,
		Image: &core.ImagePayload{
			Shape: core.Shape{4, 4},
			DType: core.DTypeUint8,
			BufferRef: core.SharedBufferRef{
				Name:  "napari_abc_1",
				Size:  16,
				Shape: core.Shape{4, 4},
				DType: core.DTypeUint8,
			},
		},
		Metadata: map[string]core.MetaValue{
			"channel": core.IntValue(2),
			"source":  core.StrValue("A01"),
		},
	}

	raw, err := json.Marshal(it)
	require.NoError(t, err)

	var decoded core.Item
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, core.PayloadImage, decoded.Kind)
	require.Equal(t, it.ItemID, decoded.ItemID)
	require.NotNil(t, decoded.Image)
	require.Equal(t, it.Image.BufferRef.Name, decoded.Image.BufferRef.Name)
	require.Equal(t, core.IntValue(2), decoded.GetMeta("channel"))
	require.Equal(t, core.StrValue("A01"), decoded.GetMeta("source"))
}

func TestItemMarshalRoisRoundTrip(t *testing.T) {
	it := core.Item{
		ItemID: "roi-1",
		Kind:   core.PayloadRois,
		Rois:   &core.RoisPayload{Records: [][]byte{[]byte("roi-bytes-1"), []byte("roi-bytes-2")}},
	}
	raw, err := json.Marshal(it)
	require.NoError(t, err)

	var decoded core.Item
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, core.PayloadRois, decoded.Kind)
	require.NotNil(t, decoded.Rois)
	require.Equal(t, it.Rois.Records, decoded.Rois.Records)
}

func TestItemMarshalPointsRoundTrip(t *testing.T) {
	it := core.Item{
		ItemID: "pts-1",
		Kind:   core.PayloadPoints,
		Points: &core.PointsPayload{Points: []core.Point{{Coords: []float64{1, 2, 3}}}},
	}
	raw, err := json.Marshal(it)
	require.NoError(t, err)

	var decoded core.Item
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, core.PayloadPoints, decoded.Kind)
	require.Len(t, decoded.Points.Points, 1)
	require.Equal(t, []float64{1, 2, 3}, decoded.Points.Points[0].Coords)
}

func TestNewItemIDUnique(t *testing.T) {
	a := core.NewItemID()
	b := core.NewItemID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
