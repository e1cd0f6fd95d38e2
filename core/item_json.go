package core

import (
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"
)

// wireItem mirrors the flattened, kind-specific wire shapes of
// spec.md §6:
//
//	Image Item: {path, shape, dtype, shm_name, metadata, item_id}
//	ROI Item:   {path, rois: [base64 bytes, ...], metadata, item_id}
//	Points Item (this module's extension, same flattening convention):
//	            {path, points: [...], metadata, item_id}
type wireItem struct {
	Path     string                   `json:"path"`
	ItemID   string                   `json:"item_id"`
	Metadata map[string]wireMetaValue `json:"metadata,omitempty"`

	Shape   Shape  `json:"shape,omitempty"`
	DType   DType  `json:"dtype,omitempty"`
	ShmName string `json:"shm_name,omitempty"`

	Rois []string `json:"rois,omitempty"`

	Points []Point `json:"points,omitempty"`
}

type wireMetaValue struct {
	Int   *int64  `json:"i,omitempty"`
	Str   *string `json:"s,omitempty"`
}

func (v MetaValue) toWire() wireMetaValue {
	if v.IsStr {
		s := v.Str
		return wireMetaValue{Str: &s}
	}
	i := v.Int
	return wireMetaValue{Int: &i}
}

func (w wireMetaValue) toValue() MetaValue {
	if w.Str != nil {
		return StrValue(*w.Str)
	}
	if w.Int != nil {
		return IntValue(*w.Int)
	}
	return IntValue(0)
}

func (it Item) MarshalJSON() ([]byte, error) {
	w := wireItem{Path: it.Path, ItemID: it.ItemID}
	if len(it.Metadata) > 0 {
		w.Metadata = make(map[string]wireMetaValue, len(it.Metadata))
		for k, v := range it.Metadata {
			w.Metadata[k] = v.toWire()
		}
	}
	switch it.Kind {
	case PayloadImage:
		if it.Image != nil {
			w.Shape = it.Image.Shape
			w.DType = it.Image.DType
			w.ShmName = it.Image.BufferRef.Name
		}
	case PayloadRois:
		if it.Rois != nil {
			w.Rois = make([]string, len(it.Rois.Records))
			for i, rec := range it.Rois.Records {
				w.Rois[i] = base64.StdEncoding.EncodeToString(rec)
			}
		}
	case PayloadPoints:
		if it.Points != nil {
			w.Points = it.Points.Points
		}
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(w)
}

func (it *Item) UnmarshalJSON(b []byte) error {
	var w wireItem
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &w); err != nil {
		return err
	}
	it.Path = w.Path
	it.ItemID = w.ItemID
	if len(w.Metadata) > 0 {
		it.Metadata = make(map[string]MetaValue, len(w.Metadata))
		for k, v := range w.Metadata {
			it.Metadata[k] = v.toValue()
		}
	}
	switch {
	case w.ShmName != "":
		it.Kind = PayloadImage
		it.Image = &ImagePayload{
			Shape: w.Shape,
			DType: w.DType,
			BufferRef: SharedBufferRef{
				Name:  w.ShmName,
				Shape: w.Shape,
				DType: w.DType,
				Size:  w.Shape.NumElements() * w.DType.Size(),
			},
		}
	case w.Rois != nil:
		it.Kind = PayloadRois
		recs := make([][]byte, len(w.Rois))
		for i, s := range w.Rois {
			dec, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return NewProtocolErr("malformed roi record %d: %v", i, err)
			}
			recs[i] = dec
		}
		it.Rois = &RoisPayload{Records: recs}
	case w.Points != nil:
		it.Kind = PayloadPoints
		it.Points = &PointsPayload{Points: w.Points}
	default:
		return NewProtocolErr("item %q has no recognizable payload", it.ItemID)
	}
	return nil
}
