package transport

import (
	"bytes"
	"context"
	"net/http"

	"github.com/OpenHCSDev/polystore-core/cmn/cos"
	"github.com/OpenHCSDev/polystore-core/core"
)

// reqReplyEndpoint implements the blocking request/reply contract of
// spec.md §4.2: the producer sends a batch and blocks until the
// receiver replies with an ack. Per the contract, sockets in this mode
// are single-use per send, never reused across sends — so each Send
// issues the request through a private *http.Client with keep-alives
// disabled, rather than the pooled client a publish endpoint uses.
type reqReplyEndpoint struct {
	cfg    core.BackendConfig
	client *http.Client
}

func newReqReplyEndpoint(cfg core.BackendConfig, _ *http.Client) *reqReplyEndpoint {
	return &reqReplyEndpoint{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

func (e *reqReplyEndpoint) Mode() core.TransportMode { return core.ModeRequestReply }

func (e *reqReplyEndpoint) SendRequestReply(ctx context.Context, batch *core.Batch) ([]core.Ack, error) {
	var buf bytes.Buffer
	if err := EncodeBatch(&buf, batch); err != nil {
		return nil, core.NewProtocolErr("encode batch: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.AckDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlFor(e.cfg), &buf)
	if err != nil {
		return nil, core.NewTransportFailureErr(e.cfg.Destination, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || cos.IsErrClientURLTimeout(err) {
			return nil, core.NewTimeoutErr(e.cfg.Destination, err)
		}
		return nil, core.NewTransportFailureErr(e.cfg.Destination, err)
	}
	defer resp.Body.Close()

	if err := wrapStatus(resp); err != nil {
		return nil, core.NewTransportFailureErr(e.cfg.Destination, err)
	}
	acks, err := DecodeAcks(resp.Body)
	if err != nil {
		return nil, err
	}

	var failed cos.Errs
	for _, ack := range acks {
		if !ack.IsOK() {
			failed.Add(errAckError(ack))
		}
	}
	if failed.Cnt() > 0 {
		return acks, core.NewTransportFailureErr(e.cfg.Destination, cos.FmtErr("receiver", failed.JoinErr()))
	}
	return acks, nil
}

func (*reqReplyEndpoint) Publish(*core.Batch) error {
	return core.NewConfigurationErr("endpoint is configured for request/reply, not publish")
}

func (e *reqReplyEndpoint) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

type ackError struct{ reason string }

func (e ackError) Error() string { return e.reason }
func errAckError(a core.Ack) error {
	if a.Reason == "" {
		return ackError{reason: "unspecified error"}
	}
	return ackError{reason: a.Reason}
}
