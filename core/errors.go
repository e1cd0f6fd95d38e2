// Package core defines the data model shared by the producer-side
// transport/bundle package and the receiver-side receive package:
// Item, Batch, DisplayConfig, SharedBufferRef, and the error taxonomy
// of spec.md §7.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy of spec.md §7. Every error this
// module returns across a package boundary can be classified via
// KindOf.
type Kind int

const (
	KindUnknown Kind = iota
	KindBusy
	KindTimeout
	KindTransportFailure
	KindBufferError
	KindProtocolError
	KindUnsupported
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindBusy:
		return "Busy"
	case KindTimeout:
		return "Timeout"
	case KindTransportFailure:
		return "TransportFailure"
	case KindBufferError:
		return "BufferError"
	case KindProtocolError:
		return "ProtocolError"
	case KindUnsupported:
		return "Unsupported"
	case KindConfiguration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across the producer/receiver
// boundary; it wraps an optional cause (via github.com/pkg/errors'
// WithStack, so %+v on errors.Unwrap(e) prints the stack recorded when
// the Error was built; Error() itself prints only the cause's message) and optional
// item/destination context used by StreamingBackend's per-item error
// reporting.
type Error struct {
	Kind        Kind
	Msg         string
	ItemID      string
	Destination string
	cause       error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.ItemID != "" {
		s = fmt.Sprintf("%s [item=%s]", s, e.ItemID)
	}
	if e.Destination != "" {
		s = fmt.Sprintf("%s [dest=%s]", s, e.Destination)
	}
	if e.cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, core.ErrBusy) work against any *Error of the
// matching Kind, independent of message/context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NewBusyErr(destination string, dropped int) *Error {
	e := newErr(KindBusy, "outbound queue full, dropped %d item(s)", dropped)
	e.Destination = destination
	return e
}

func NewTimeoutErr(destination string, cause error) *Error {
	e := newErr(KindTimeout, "request/reply deadline exceeded")
	e.Destination = destination
	e.cause = errors.WithStack(cause)
	return e
}

func NewTransportFailureErr(destination string, cause error) *Error {
	e := newErr(KindTransportFailure, "send failed")
	e.Destination = destination
	e.cause = errors.WithStack(cause)
	return e
}

func NewBufferErr(format string, args ...any) *Error {
	return newErr(KindBufferError, format, args...)
}

func NewProtocolErr(format string, args ...any) *Error {
	return newErr(KindProtocolError, format, args...)
}

func NewUnsupportedErr(kind string) *Error {
	return newErr(KindUnsupported, "payload kind %q is not handled", kind)
}

func NewConfigurationErr(format string, args ...any) *Error {
	return newErr(KindConfiguration, format, args...)
}

// sentinels for errors.Is comparisons that don't need message context
var (
	ErrBusy             = &Error{Kind: KindBusy}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrTransportFailure = &Error{Kind: KindTransportFailure}
	ErrBufferError      = &Error{Kind: KindBufferError}
	ErrProtocolError    = &Error{Kind: KindProtocolError}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrConfiguration    = &Error{Kind: KindConfiguration}
)

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
