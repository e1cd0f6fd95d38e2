package bundle_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/memsys"
	"github.com/OpenHCSDev/polystore-core/transport"
	"github.com/OpenHCSDev/polystore-core/transport/bundle"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "polystore-bundle-shm-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)
	os.Setenv("POLYSTORE_SHM_DIR", dir)
	os.Exit(m.Run())
}

func testDisplayConfig() core.DisplayConfig {
	return core.DisplayConfig{
		ComponentOrder: []string{"channel"},
		ComponentModes: map[string]core.Mode{"channel": core.ModeChannel},
	}
}

func newRequestReplyConfig(t *testing.T, srv *httptest.Server, destination string) core.BackendConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return core.BackendConfig{
		Destination: destination,
		Host:        u.Hostname(),
		Port:        port,
		Viewer:      core.ViewerNapari,
		Mode:        core.ModeRequestReply,
		AckDeadline: 2 * time.Second,
	}
}

func TestSaveBatchImageRoundTripClosesSharedBuffer(t *testing.T) {
	const destination = "backend-image"
	mux := http.NewServeMux()
	var gotShmName string
	err := transport.Handle(mux, destination, core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		gotShmName = b.Items[0].Image.BufferRef.Name
		buf, openErr := memsys.Open(gotShmName)
		if openErr != nil {
			return []core.Ack{core.ErrAck(b.Items[0].ItemID, openErr.Error())}, nil
		}
		defer buf.Close()
		return []core.Ack{core.OKAck(b.Items[0].ItemID)}, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle(destination)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tracker := bundle.NewMemTracker()
	backend, err := bundle.NewStreamingBackend(newRequestReplyConfig(t, srv, destination), tracker)
	require.NoError(t, err)
	defer backend.Cleanup()

	err = backend.Save(bundle.SaveInput{
		Path: "/plate/A01.tif",
		Image: &bundle.ImageInput{
			Shape: core.Shape{2, 2},
			DType: core.DTypeUint8,
			Data:  []byte{1, 2, 3, 4},
		},
	}, testDisplayConfig(), bundle.BatchOpts{MicroscopeHandler: "h"})
	require.NoError(t, err)
	require.NotEmpty(t, gotShmName)

	require.Equal(t, 0, tracker.Outstanding(destination))

	// the backend closed (not unlinked) its own handle; the buffer
	// segment itself must still be unlinkable.
	require.NoError(t, memsys.Unlink(gotShmName))
}

func TestSaveBatchUnlinksOnHandlerRejection(t *testing.T) {
	const destination = "backend-reject"
	mux := http.NewServeMux()
	var shmName string
	err := transport.Handle(mux, destination, core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		shmName = b.Items[0].Image.BufferRef.Name
		return []core.Ack{core.ErrAck(b.Items[0].ItemID, "rejected")}, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle(destination)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tracker := bundle.NewMemTracker()
	backend, err := bundle.NewStreamingBackend(newRequestReplyConfig(t, srv, destination), tracker)
	require.NoError(t, err)
	defer backend.Cleanup()

	err = backend.Save(bundle.SaveInput{
		Path: "/plate/A02.tif",
		Image: &bundle.ImageInput{
			Shape: core.Shape{2, 2},
			DType: core.DTypeUint8,
			Data:  []byte{1, 2, 3, 4},
		},
	}, testDisplayConfig(), bundle.BatchOpts{})
	require.Error(t, err)
	require.Equal(t, core.KindTransportFailure, core.KindOf(err))

	// the buffer must already be unlinked: opening it again fails.
	_, openErr := memsys.Open(shmName)
	require.Error(t, openErr)
}

func TestSaveBatchEmptyInputIsNoop(t *testing.T) {
	const destination = "backend-empty"
	// no handler registered for destination at all: if SaveBatch sent
	// anything over the wire, the request would fail to route.
	cfg := core.BackendConfig{
		Destination: destination,
		Host:        "127.0.0.1",
		Port:        1, // unroutable; a send here would error
		Viewer:      core.ViewerNapari,
		Mode:        core.ModeRequestReply,
		AckDeadline: 2 * time.Second,
	}
	tracker := bundle.NewMemTracker()
	backend, err := bundle.NewStreamingBackend(cfg, tracker)
	require.NoError(t, err)
	defer backend.Cleanup()

	err = backend.SaveBatch(nil, testDisplayConfig(), bundle.BatchOpts{})
	require.NoError(t, err)
	require.Equal(t, 0, tracker.Outstanding(destination))
}

func TestSaveBatchRoisDoesNotAllocateSharedBuffer(t *testing.T) {
	const destination = "backend-rois"
	mux := http.NewServeMux()
	err := transport.Handle(mux, destination, core.ModeRequestReply, func(b *core.Batch) ([]core.Ack, error) {
		require.Nil(t, b.Items[0].Image)
		return []core.Ack{core.OKAck(b.Items[0].ItemID)}, nil
	})
	require.NoError(t, err)
	defer transport.Unhandle(destination)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tracker := bundle.NewMemTracker()
	backend, err := bundle.NewStreamingBackend(newRequestReplyConfig(t, srv, destination), tracker)
	require.NoError(t, err)
	defer backend.Cleanup()

	err = backend.Save(bundle.SaveInput{
		Path: "/plate/A03_results.zip",
		Rois: &core.RoisPayload{Records: [][]byte{[]byte("roi")}},
	}, testDisplayConfig(), bundle.BatchOpts{Source: "A03"})
	require.NoError(t, err)
}
