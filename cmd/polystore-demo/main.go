// Command polystore-demo wires one in-process producer
// (bundle.StreamingBackend) to one in-process receiver
// (receive.Dispatcher) over the real HTTP transport and shared-memory
// stack, using an in-memory fake ViewerAdapter, to manually exercise
// the scenarios of spec.md §8.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/OpenHCSDev/polystore-core/cmn/nlog"
	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/hk"
	"github.com/OpenHCSDev/polystore-core/receive"
	"github.com/OpenHCSDev/polystore-core/transport/bundle"
)

func main() {
	go hk.DefaultHK.Run()
	defer hk.DefaultHK.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		nlog.Errorf("demo: listen: %v", err)
		return
	}
	addr := ln.Addr().(*net.TCPAddr)

	viewer := newFakeViewer()
	dispatcher, err := receive.NewDispatcher(core.EngineConfig{
		DebounceDelay: 50 * time.Millisecond,
		MaxWait:       500 * time.Millisecond,
	}, viewer, "/data/plate-01/images")
	if err != nil {
		nlog.Errorf("demo: new dispatcher: %v", err)
		return
	}

	mux := http.NewServeMux()
	if err := dispatcher.Serve(mux, "demo", core.ModeRequestReply); err != nil {
		nlog.Errorf("demo: register handler: %v", err)
		return
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	tracker := bundle.NewMemTracker()
	backend, err := bundle.NewStreamingBackend(core.BackendConfig{
		Destination: "demo",
		Host:        "127.0.0.1",
		Port:        addr.Port,
		Viewer:      core.ViewerNapari,
		Mode:        core.ModeRequestReply,
		AckDeadline: 5 * time.Second,
		Source:      "A01",
	}, tracker)
	if err != nil {
		nlog.Errorf("demo: new backend: %v", err)
		return
	}
	defer backend.Cleanup()

	dc := core.DisplayConfig{
		ComponentOrder: []string{"channel", "z"},
		ComponentModes: map[string]core.Mode{
			"channel": core.ModeChannel,
			"z":       core.ModeSlice,
		},
	}

	err = backend.SaveBatch([]bundle.SaveInput{
		{
			Path: "/data/plate-01/images/A01_c1_z1.tif",
			Image: &bundle.ImageInput{
				Shape: core.Shape{512, 512},
				DType: core.DTypeUint16,
				Data:  make([]byte, 512*512*2),
			},
			Metadata: map[string]core.MetaValue{
				"channel": core.IntValue(1),
				"z":       core.IntValue(1),
			},
		},
	}, dc, bundle.BatchOpts{MicroscopeHandler: "demo-handler", Source: "A01"})
	if err != nil {
		nlog.Errorf("demo: save batch: %v", err)
		return
	}

	if err := bundle.JoinTimeout(tracker, "demo", 5*time.Second); err != nil {
		nlog.Errorf("demo: join: %v", err)
		return
	}
	time.Sleep(600 * time.Millisecond) // let the receiver's debounce window close

	fmt.Println(viewer.summary())
}
