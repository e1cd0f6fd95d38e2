// Package transport implements TransportEndpoint (spec.md §4.2): the
// producer/receiver wire protocol, in both request/reply and publish
// modes, generalized from the teacher's transport package (api.go,
// sendmsg.go, collect.go) from aistore's custom binary object-stream
// framing to the JSON-over-HTTP envelope spec.md §6 describes.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package transport

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/OpenHCSDev/polystore-core/core"
)

// json is aliased the way the teacher aliases jsoniter, to keep call
// sites reading like stdlib encoding/json.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeBatch serializes a Batch to spec.md §6's wire shape.
func EncodeBatch(w io.Writer, b *core.Batch) error {
	b.Type = "batch"
	return json.NewEncoder(w).Encode(b)
}

// DecodeBatch reads and validates a wire Batch. A missing or malformed
// `component_modes` is a ProtocolError per spec.md §7.
func DecodeBatch(r io.Reader) (*core.Batch, error) {
	var b core.Batch
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, core.NewProtocolErr("malformed batch: %v", err)
	}
	if b.Type != "" && b.Type != "batch" {
		return nil, core.NewProtocolErr("unexpected message type %q", b.Type)
	}
	if err := b.DisplayConfig.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// EncodeAcks/DecodeAcks serialize the per-item acks a request/reply
// response carries: one Batch can hold many Items, and QueueTracker
// needs a status per item_id (spec.md §4.4, §8 invariant 1), so the
// HTTP response body is a JSON array rather than a single Ack.
func EncodeAcks(w io.Writer, acks []core.Ack) error { return json.NewEncoder(w).Encode(acks) }

func DecodeAcks(r io.Reader) ([]core.Ack, error) {
	var acks []core.Ack
	if err := json.NewDecoder(r).Decode(&acks); err != nil {
		return nil, core.NewProtocolErr("malformed ack list: %v", err)
	}
	return acks, nil
}
