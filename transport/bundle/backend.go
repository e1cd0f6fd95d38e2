package bundle

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/cmn/mono"
	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/memsys"
	"github.com/OpenHCSDev/polystore-core/stats"
	"github.com/OpenHCSDev/polystore-core/transport"
)

// ImageInput is the raw-bytes form of an Image payload a caller passes
// into StreamingBackend: the backend, not the caller, owns shared-
// buffer allocation (spec.md §4.3 step 1).
type ImageInput struct {
	Shape core.Shape
	DType core.DType
	Data  []byte
}

// SaveInput is one item's worth of StreamingBackend.Save/SaveBatch
// input: exactly one of Image/Rois/Points must be set, mirroring the
// Item variants of spec.md §3.
type SaveInput struct {
	ItemID   string // generated via core.NewItemID if empty
	Path     string
	Image    *ImageInput
	Rois     *core.RoisPayload
	Points   *core.PointsPayload
	Metadata map[string]core.MetaValue
}

// BatchOpts carries the virtual metadata components StreamingBackend
// injects into every item of a batch (spec.md §4.3 step 3): the
// microscope-handler name under "step_name", and the item's position
// in the pipeline under "step_index"; "source" and "plate_path" are
// the other two virtual components WindowProjection expects.
type BatchOpts struct {
	MicroscopeHandler string
	StepIndex         int
	Source            string
	PlatePath         string
}

// StreamingBackend is the producer-side orchestrator of spec.md §4.3:
// it turns caller-supplied items into a wire Batch, allocates and
// populates shared buffers for Image payloads, registers every
// item_id with a QueueTracker before sending, dispatches through a
// transport.Endpoint, and reconciles shared-buffer lifetime with the
// send outcome. Grounded on the teacher's DataMover (dmover.go), which
// plays the analogous role of "the thing a caller hands objects to
// without touching the wire or the stream directly."
type StreamingBackend struct {
	cfg      core.BackendConfig
	endpoint transport.Endpoint
	tracker  QueueTracker
}

func NewStreamingBackend(cfg core.BackendConfig, tracker QueueTracker) (*StreamingBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &StreamingBackend{
		cfg:      cfg,
		endpoint: transport.NewEndpoint(cfg, nil),
		tracker:  tracker,
	}
	StartReconciliation(tracker, cfg.Destination)
	return b, nil
}

// Save is the single-item convenience wrapper over SaveBatch.
func (b *StreamingBackend) Save(in SaveInput, dc core.DisplayConfig, opts BatchOpts) error {
	return b.SaveBatch([]SaveInput{in}, dc, opts)
}

// SaveBatch implements spec.md §4.3's save_batch: allocate shared
// buffers for image items, assemble and send one Batch, then release
// (close on success, close-and-unlink on failure) every buffer it
// allocated.
func (b *StreamingBackend) SaveBatch(inputs []SaveInput, dc core.DisplayConfig, opts BatchOpts) error {
	if len(inputs) == 0 {
		return nil
	}

	items := make([]core.Item, 0, len(inputs))
	var allocated []*memsys.Buffer

	releaseOnErr := func() {
		var eg errgroup.Group
		for _, buf := range allocated {
			buf := buf
			eg.Go(func() error {
				name := buf.Name()
				if err := buf.Close(); err != nil {
					nlog.Warningf("bundle: close shared buffer %q: %v", name, err)
				}
				return memsys.Unlink(name)
			})
		}
		if err := eg.Wait(); err != nil {
			nlog.Warningf("bundle: unlink after failed send: %v", err)
		}
	}

	for i, in := range inputs {
		item, buf, err := b.buildItem(in, opts, i)
		if err != nil {
			releaseOnErr()
			return err
		}
		if buf != nil {
			allocated = append(allocated, buf)
		}
		items = append(items, item)
	}

	batch := &core.Batch{
		Items:         items,
		DisplayConfig: dc,
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
	}

	for _, it := range items {
		b.tracker.RegisterSent(b.cfg.Destination, it.ItemID)
	}

	var sendErr error
	switch b.cfg.Mode {
	case core.ModeRequestReply:
		sendErr = b.sendRequestReply(items, batch)
	default:
		sendErr = b.sendPublish(items, batch)
	}

	if sendErr != nil {
		if core.KindOf(sendErr) == core.KindBusy {
			stats.BatchesDropped.WithLabelValues(b.cfg.Destination).Inc()
		}
		releaseOnErr()
		return sendErr
	}
	stats.BatchesSent.WithLabelValues(b.cfg.Destination, string(b.cfg.Mode)).Inc()

	var eg errgroup.Group
	for _, buf := range allocated {
		buf := buf
		eg.Go(buf.Close)
	}
	if err := eg.Wait(); err != nil {
		nlog.Warningf("bundle: close shared buffer after send: %v", err)
	}
	return nil
}

func (b *StreamingBackend) sendRequestReply(items []core.Item, batch *core.Batch) error {
	acks, err := b.endpoint.SendRequestReply(context.Background(), batch)
	for i, it := range items {
		var ack core.Ack
		switch {
		case i < len(acks):
			ack = acks[i]
		default:
			ack = core.ErrAck(it.ItemID, "no ack received for item")
		}
		b.tracker.MarkAck(b.cfg.Destination, it.ItemID, ack.IsOK(), ack.Reason)
	}
	return err
}

// sendPublish marks every item acked immediately on a successful
// enqueue: Publish is fire-and-forget (spec.md §4.2), so there is no
// wire-level per-item ack to wait for. A Busy/transport error instead
// marks every item of the batch failed so QueueTracker.Join doesn't
// block forever on a batch that was dropped before it ever left the
// process.
func (b *StreamingBackend) sendPublish(items []core.Item, batch *core.Batch) error {
	err := b.endpoint.Publish(batch)
	for _, it := range items {
		b.tracker.MarkAck(b.cfg.Destination, it.ItemID, err == nil, errReason(err))
	}
	return err
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (b *StreamingBackend) buildItem(in SaveInput, opts BatchOpts, index int) (core.Item, *memsys.Buffer, error) {
	itemID := in.ItemID
	if itemID == "" {
		itemID = core.NewItemID()
	}
	meta := make(map[string]core.MetaValue, len(in.Metadata)+4)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if opts.MicroscopeHandler != "" {
		meta["step_name"] = core.StrValue(opts.MicroscopeHandler)
	}
	meta["step_index"] = core.IntValue(int64(opts.StepIndex) + int64(index))
	if opts.Source != "" {
		meta["source"] = core.StrValue(opts.Source)
	}
	if opts.PlatePath != "" {
		meta["plate_path"] = core.StrValue(opts.PlatePath)
	}

	item := core.Item{ItemID: itemID, Path: in.Path, Metadata: meta}

	switch {
	case in.Image != nil:
		size := in.Image.Shape.NumElements() * in.Image.DType.Size()
		name := memsys.UniqueName(b.cfg.Viewer.ShmPrefix(), in.Path, mono.NanoTime())
		buf, err := memsys.Create(name, size)
		if err != nil {
			return core.Item{}, nil, err
		}
		n := copy(buf.Bytes(), in.Image.Data)
		if int64(n) != size {
			nlog.Warningf("bundle: item %s wrote %d of %d expected bytes into %s", itemID, n, size, name)
		}
		item.Kind = core.PayloadImage
		item.Image = &core.ImagePayload{
			Shape: in.Image.Shape,
			DType: in.Image.DType,
			BufferRef: core.SharedBufferRef{
				Name:  name,
				Size:  size,
				Shape: in.Image.Shape,
				DType: in.Image.DType,
			},
		}
		return item, buf, nil
	case in.Rois != nil:
		item.Kind = core.PayloadRois
		item.Rois = in.Rois
		return item, nil, nil
	case in.Points != nil:
		item.Kind = core.PayloadPoints
		item.Points = in.Points
		return item, nil, nil
	default:
		return core.Item{}, nil, core.NewUnsupportedErr("item has no image/rois/points payload")
	}
}

// Cleanup releases the backend's endpoint and deregisters its
// reconciliation tick. It does not touch shared buffers: every buffer
// SaveBatch allocates is resolved (closed or unlinked) by the time
// SaveBatch returns.
func (b *StreamingBackend) Cleanup() error {
	StopReconciliation(b.cfg.Destination)
	return b.endpoint.Close()
}

// Router fans a caller's shutdown out across every destination it
// manages concurrently, the way a producer with several viewer
// destinations tears them all down at once.
type Router struct {
	Backends map[string]*StreamingBackend
}

func (r *Router) CloseAll() error {
	var eg errgroup.Group
	var errs cos.Errs
	for name, b := range r.Backends {
		name, b := name, b
		eg.Go(func() error {
			if err := b.Cleanup(); err != nil {
				errs.Add(cos.FmtErr(name, err))
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errs.JoinErr()
}
