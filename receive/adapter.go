package receive

import "github.com/OpenHCSDev/polystore-core/core"

// ViewerAdapter is the external collaborator of spec.md §4.8: the
// concrete napari/ImageJ (Fiji) binding a Dispatcher drives. This
// module implements only the contract; a real binding lives outside
// this repo's scope, matching spec.md's Non-goals.
type ViewerAdapter interface {
	// EnsureWindow creates windowKey's window/viewer if it doesn't
	// already exist, given the labels that identify it.
	EnsureWindow(windowKey string, labels []ComponentLabel) error

	// BuildHyperstack assembles layerKey's image stack from items
	// already grouped into one window, using dc to resolve axis order.
	BuildHyperstack(windowKey, layerKey string, items []core.Item, dc core.DisplayConfig) error

	// AddROIs adds ROI/point records to an existing layer.
	AddROIs(windowKey, layerKey string, items []core.Item, dc core.DisplayConfig) error

	// Ack reports per-item processing outcome back toward the
	// producer (spec.md §4.8). The Dispatcher calls it once per item
	// after the handler has run; it is separate from the batch's reply
	// acks, which the Dispatcher returns before any handler runs.
	Ack(itemID string, ok bool, reason string)
}
