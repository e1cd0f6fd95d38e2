package receive

import "github.com/OpenHCSDev/polystore-core/core"

// The three default handlers below are viewer-agnostic: they drive
// ViewerAdapter generically over component order instead of hardcoding
// a fixed dimension count, matching the original's fiji_images.py /
// fiji_rois.py "no hardcoded 3 dimensions" comment. They are registered
// in this package's init(), so they precede any handler an importing
// package registers; with first-match-wins resolution, a later handler
// for image, rois or points is never selected.
func init() {
	RegisterHandler(imageHandler{})
	RegisterHandler(roisHandler{})
	RegisterHandler(pointsHandler{})
}

type imageHandler struct{}

func (imageHandler) CanHandle(kind core.PayloadKind) bool { return kind == core.PayloadImage }

func (imageHandler) Handle(ctx HandlerContext) error {
	if err := ctx.Viewer.EnsureWindow(ctx.WindowKey, nil); err != nil {
		return err
	}
	return ctx.Viewer.BuildHyperstack(ctx.WindowKey, ctx.LayerKey, ctx.Items, ctx.Display)
}

type roisHandler struct{}

func (roisHandler) CanHandle(kind core.PayloadKind) bool { return kind == core.PayloadRois }

func (roisHandler) Handle(ctx HandlerContext) error {
	return ctx.Viewer.AddROIs(ctx.WindowKey, ctx.LayerKey, ctx.Items, ctx.Display)
}

type pointsHandler struct{}

func (pointsHandler) CanHandle(kind core.PayloadKind) bool { return kind == core.PayloadPoints }

func (pointsHandler) Handle(ctx HandlerContext) error {
	return ctx.Viewer.AddROIs(ctx.WindowKey, ctx.LayerKey, ctx.Items, ctx.Display)
}
