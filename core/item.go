package core

import (
	"github.com/teris-io/shortid"
)

// DType mirrors spec.md §3's `dtype` field on an Image payload: a
// numeric array element type, opaque to the core beyond byte-size
// accounting for the shared buffer.
type DType string

const (
	DTypeUint8   DType = "uint8"
	DTypeUint16  DType = "uint16"
	DTypeUint32  DType = "uint32"
	DTypeInt8    DType = "int8"
	DTypeInt16   DType = "int16"
	DTypeInt32   DType = "int32"
	DTypeFloat32 DType = "float32"
	DTypeFloat64 DType = "float64"
)

// Size returns the per-element byte size, used by StreamingBackend to
// size the shared buffer as shape·dtype.size (spec.md §3, Lifecycle
// step 1).
func (d DType) Size() int64 {
	switch d {
	case DTypeUint8, DTypeInt8:
		return 1
	case DTypeUint16, DTypeInt16:
		return 2
	case DTypeUint32, DTypeInt32, DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	default:
		return 0
	}
}

// Shape is the tensor shape of an Image payload, 1 ≤ len(Shape) ≤ 5
// per spec.md §3.
type Shape []uint64

func (s Shape) NumElements() int64 {
	var n int64 = 1
	for _, d := range s {
		n *= int64(d)
	}
	return n
}

// SharedBufferRef is a name + byte-length + shape + dtype: it carries
// no OS handle (spec.md §3). Each side opens the shared buffer by Name.
type SharedBufferRef struct {
	Name  string `json:"shm_name"`
	Size  int64  `json:"size"`
	Shape Shape  `json:"shape"`
	DType DType  `json:"dtype"`
}

// PayloadKind tags the variant carried by an Item, replacing the
// source's duck-typed dispatch (spec.md §9) with a compile-time tagged
// union plus a string key used by the receiver's handler registry.
type PayloadKind string

const (
	PayloadImage  PayloadKind = "image"
	PayloadRois   PayloadKind = "rois"
	PayloadPoints PayloadKind = "points"
)

// ImagePayload is the Image variant of spec.md §3.
type ImagePayload struct {
	Shape     Shape           `json:"shape"`
	DType     DType           `json:"dtype"`
	BufferRef SharedBufferRef `json:"buffer_ref"`
}

// RoisPayload is the Rois variant: an ordered sequence of opaque
// ROI byte-records, base64-encoded on the wire (spec.md §6).
type RoisPayload struct {
	Records [][]byte `json:"rois"`
}

// Point is one coordinate plus optional attributes, part of the Points
// variant.
type Point struct {
	Coords     []float64      `json:"coords"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PointsPayload is the Points variant of spec.md §3.
type PointsPayload struct {
	Points []Point `json:"points"`
}

// MetaValue is a component value: either an integer or a short string
// (spec.md §3's "value"). Exactly one of the two is set.
type MetaValue struct {
	Int   int64
	Str   string
	IsStr bool
}

func IntValue(v int64) MetaValue  { return MetaValue{Int: v} }
func StrValue(v string) MetaValue { return MetaValue{Str: v, IsStr: true} }

// Item is the atomic unit transferred (spec.md §3).
type Item struct {
	ItemID   string
	Path     string
	Kind     PayloadKind
	Image    *ImagePayload
	Rois     *RoisPayload
	Points   *PointsPayload
	Metadata map[string]MetaValue
}

// GetMeta returns the metadata value for name, defaulting to an
// integer 0 per spec.md §3 ("missing values default to 0").
func (it *Item) GetMeta(name string) MetaValue {
	if it.Metadata == nil {
		return IntValue(0)
	}
	if v, ok := it.Metadata[name]; ok {
		return v
	}
	return IntValue(0)
}

// NewItemID generates an opaque, unique item_id using the teacher's
// shortid dependency, used by StreamingBackend.save/save_batch when
// the caller doesn't supply one.
func NewItemID() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid.Generate only fails if the global generator was
		// reconfigured with an invalid seed; this module never does
		// that, so this path is unreachable in practice.
		return shortid.MustGenerate()
	}
	return id
}
