package transport

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
)

// publishEndpoint implements the non-blocking publish contract of
// spec.md §4.2: a bounded outbound queue with a high-water mark, one
// pooled connection worker per destination (unlike request/reply's
// per-send socket), best-effort fire-and-forget delivery.
type publishEndpoint struct {
	cfg    core.BackendConfig
	client *http.Client
	workCh chan *core.Batch
	stopCh *cos.StopCh
	wg     sync.WaitGroup
}

func newPublishEndpoint(cfg core.BackendConfig, client *http.Client) *publishEndpoint {
	e := &publishEndpoint{
		cfg:    cfg,
		client: client,
		workCh: make(chan *core.Batch, cfg.HighWaterMark),
		stopCh: cos.NewStopCh(),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *publishEndpoint) Mode() core.TransportMode { return core.ModePublish }

// Publish never blocks: if the queue is already at HighWaterMark, the
// batch is dropped and reported as Busy (spec.md §4.2, §9).
func (e *publishEndpoint) Publish(batch *core.Batch) error {
	select {
	case e.workCh <- batch:
		return nil
	default:
		nlog.Warningf("transport: destination %q busy, dropping batch of %d item(s)",
			e.cfg.Destination, len(batch.Items))
		return core.NewBusyErr(e.cfg.Destination, len(batch.Items))
	}
}

func (*publishEndpoint) SendRequestReply(context.Context, *core.Batch) ([]core.Ack, error) {
	return nil, core.NewConfigurationErr("endpoint is configured for publish, not request/reply")
}

func (e *publishEndpoint) Close() error {
	e.stopCh.Close()
	e.wg.Wait()
	e.client.CloseIdleConnections()
	return nil
}

func (e *publishEndpoint) loop() {
	defer e.wg.Done()
	for {
		select {
		case batch := <-e.workCh:
			e.send(batch)
		case <-e.stopCh.Listen():
			return
		}
	}
}

func (e *publishEndpoint) send(batch *core.Batch) {
	var buf bytes.Buffer
	if err := EncodeBatch(&buf, batch); err != nil {
		nlog.Errorf("transport: destination %q encode failed: %v", e.cfg.Destination, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlFor(e.cfg), &buf)
	if err != nil {
		nlog.Errorf("transport: destination %q request build failed: %v", e.cfg.Destination, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		if cos.IsRetriableConnErr(err) {
			nlog.Warningf("transport: destination %q send failed, retriable: %v", e.cfg.Destination, err)
		} else {
			nlog.Errorf("transport: destination %q send failed: %v", e.cfg.Destination, err)
		}
		return
	}
	defer resp.Body.Close()
	if err := wrapStatus(resp); err != nil {
		if cos.IsUnreachable(err, resp.StatusCode) {
			nlog.Warningf("transport: destination %q unreachable: %v", e.cfg.Destination, err)
		} else {
			nlog.Warningf("transport: destination %q rejected publish: %v", e.cfg.Destination, err)
		}
	}
}
