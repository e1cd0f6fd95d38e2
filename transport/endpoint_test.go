package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/transport"
	"github.com/stretchr/testify/require"
)

func backendConfigFor(t *testing.T, srv *httptest.Server, mode core.TransportMode) core.BackendConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := core.BackendConfig{
		Destination: "demo",
		Host:        u.Hostname(),
		Port:        port,
		Mode:        mode,
	}
	if mode == core.ModeRequestReply {
		cfg.AckDeadline = 2 * time.Second
	} else {
		cfg.HighWaterMark = 2
	}
	return cfg
}

func TestRequestReplyRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	var received *core.Batch
	err := transport.Handle(mux, "round-trip", core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		received = b
		acks := make([]core.Ack, len(b.Items))
		for i, it := range b.Items {
			acks[i] = core.OKAck(it.ItemID)
		}
		return acks, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle("round-trip")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := backendConfigFor(t, srv, core.ModeRequestReply)
	cfg.Destination = "round-trip"
	ep := transport.NewEndpoint(cfg, nil)
	defer ep.Close()

	batch := &core.Batch{
		Items:         []core.Item{{ItemID: "x1", Kind: core.PayloadRois, Rois: &core.RoisPayload{}}},
		DisplayConfig: validDisplayConfig(),
	}
	acks, err := ep.SendRequestReply(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	require.True(t, acks[0].IsOK())
	require.NotNil(t, received)
	require.Equal(t, "x1", received.Items[0].ItemID)
}

func TestRequestReplySurfacesHandlerError(t *testing.T) {
	mux := http.NewServeMux()
	err := transport.Handle(mux, "handler-error", core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		acks := make([]core.Ack, len(b.Items))
		for i, it := range b.Items {
			acks[i] = core.ErrAck(it.ItemID, "rejected")
		}
		return acks, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle("handler-error")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := backendConfigFor(t, srv, core.ModeRequestReply)
	cfg.Destination = "handler-error"
	ep := transport.NewEndpoint(cfg, nil)
	defer ep.Close()

	batch := &core.Batch{
		Items:         []core.Item{{ItemID: "x1", Kind: core.PayloadRois, Rois: &core.RoisPayload{}}},
		DisplayConfig: validDisplayConfig(),
	}
	acks, err := ep.SendRequestReply(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, core.KindTransportFailure, core.KindOf(err))
	require.False(t, acks[0].IsOK())
}

func TestRequestReplyTimeout(t *testing.T) {
	mux := http.NewServeMux()
	err := transport.Handle(mux, "timeout-demo", core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		time.Sleep(200 * time.Millisecond)
		return []core.Ack{core.OKAck(b.Items[0].ItemID)}, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle("timeout-demo")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := backendConfigFor(t, srv, core.ModeRequestReply)
	cfg.Destination = "timeout-demo"
	cfg.AckDeadline = 20 * time.Millisecond
	ep := transport.NewEndpoint(cfg, nil)
	defer ep.Close()

	batch := &core.Batch{
		Items:         []core.Item{{ItemID: "x1", Kind: core.PayloadRois, Rois: &core.RoisPayload{}}},
		DisplayConfig: validDisplayConfig(),
	}
	_, err = ep.SendRequestReply(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, core.KindTimeout, core.KindOf(err))
}

func TestDuplicateHandleRegistrationFails(t *testing.T) {
	mux := http.NewServeMux()
	onMsg := func(*core.Batch) ([]core.Ack, error) { return nil, nil }
	require.NoError(t, transport.Handle(mux, "dup-demo", core.ModeRequestReply, onMsg))
	defer transport.Unhandle("dup-demo")

	err := transport.Handle(mux, "dup-demo", core.ModeRequestReply, onMsg)
	require.Error(t, err)
	require.Equal(t, core.KindConfiguration, core.KindOf(err))
}
