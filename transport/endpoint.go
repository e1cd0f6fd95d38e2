package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
)

// Endpoint is TransportEndpoint (spec.md §4.2): a bidirectional
// request/reply channel or a one-way, best-effort publisher, selected
// per destination at configuration time (spec.md §9).
type Endpoint interface {
	// Mode reports which of the two contracts this endpoint honors.
	Mode() core.TransportMode

	// SendRequestReply blocks until the receiver replies with one ack
	// per item in batch, or ctx/AckDeadline expires (core.ErrTimeout),
	// or the connection fails (core.ErrTransportFailure). Only valid
	// when Mode() == ModeRequestReply.
	SendRequestReply(ctx context.Context, batch *core.Batch) ([]core.Ack, error)

	// Publish enqueues batch on this destination's bounded outbound
	// queue and returns immediately. If the queue is at its high-water
	// mark, the batch is dropped and Publish returns core.ErrBusy.
	// Only valid when Mode() == ModePublish.
	Publish(batch *core.Batch) error

	// Close tears down this endpoint's connections/workers. Safe to
	// call once, from StreamingBackend.cleanup.
	Close() error
}

// NewEndpoint builds the Endpoint for a destination per its
// BackendConfig, lazily: no connection is established until the first
// Send/Publish call (spec.md §4.2 "Connection is lazy").
func NewEndpoint(cfg core.BackendConfig, client *http.Client) Endpoint {
	if client == nil {
		client = http.DefaultClient
	}
	switch cfg.Mode {
	case core.ModePublish:
		return newPublishEndpoint(cfg, client)
	default:
		return newReqReplyEndpoint(cfg, client)
	}
}

// trname namespaces a destination's HTTP path, matching the teacher's
// ObjURLPath/MsgURLPath convention (transport/api.go).
func trname(destination string) string { return destination }

func urlFor(cfg core.BackendConfig) string { return cfg.URL(trname(cfg.Destination)) }

//
// receive-side registration: one handler per destination, matching the
// teacher's transport.HandleObjStream/HandleMsgStream + Unhandle idiom
//

type (
	// OnBatch is invoked by the HTTP handler for every decoded Batch
	// and must return exactly one Ack per item in batch, in the same
	// order. For a request/reply destination, the slice becomes the
	// HTTP response body; for a publish destination, it is discarded
	// and only a returned error is logged (the caller already moved on).
	OnBatch func(*core.Batch) ([]core.Ack, error)

	regEntry struct {
		mode  core.TransportMode
		onMsg OnBatch
	}
)

var (
	handlersMu sync.Mutex
	handlers   = map[string]*regEntry{}
)

// Handle registers a receiver-side callback under destination. The
// first call wires up mux; repeat registration under the same name is
// an error, matching the teacher's "duplicated reg" guard in
// bundle.DM.RegRecv.
func Handle(mux *http.ServeMux, destination string, mode core.TransportMode, onMsg OnBatch) error {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	if _, exists := handlers[destination]; exists {
		return core.NewConfigurationErr("duplicate registration for destination %q", destination)
	}
	e := &regEntry{mode: mode, onMsg: onMsg}
	handlers[destination] = e

	path := requestReplyPath(destination)
	if mode == core.ModePublish {
		path = publishPath(destination)
	}
	mux.HandleFunc(path, makeHandlerFunc(e))
	return nil
}

// Unhandle deregisters a destination, idempotent on unknown names as
// the teacher's Unhandle is not (it errors); this module's receiver
// lifecycle only ever unregisters what it registered, so idempotence
// here is a safety net, not a relied-upon behavior.
func Unhandle(destination string) {
	handlersMu.Lock()
	delete(handlers, destination)
	handlersMu.Unlock()
}

func requestReplyPath(destination string) string { return "/v1/msgstream/" + destination }
func publishPath(destination string) string      { return "/v1/objstream/" + destination }

func makeHandlerFunc(e *regEntry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := DecodeBatch(r.Body)
		r.Body.Close()
		if err != nil {
			nlog.Warningf("transport: decode failed: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		acks, err := e.onMsg(batch)
		if e.mode == core.ModePublish {
			// fire-and-forget: acknowledge receipt of the HTTP request
			// itself, not per-item processing.
			w.WriteHeader(http.StatusAccepted)
			if err != nil {
				nlog.Warningf("transport: publish handler error: %v", err)
			}
			return
		}
		if err != nil {
			acks = batchErrAcks(batch, err)
		}
		w.Header().Set("Content-Type", "application/json")
		if encErr := EncodeAcks(w, acks); encErr != nil {
			nlog.Errorf("transport: encode acks failed: %v", encErr)
		}
	}
}

// batchErrAcks fans a single handler-level failure out to every item in
// batch, so the wire still carries one ack per item_id even when the
// whole batch was rejected before per-item processing began.
func batchErrAcks(batch *core.Batch, err error) []core.Ack {
	acks := make([]core.Ack, len(batch.Items))
	for i, it := range batch.Items {
		acks[i] = core.ErrAck(it.ItemID, err.Error())
	}
	return acks
}

func wrapStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
