// Package cos provides common low-level types and utilities shared by
// every package in this module: a multi-error accumulator, connection-
// error classification for the transport layer, and a stop-channel
// idiom for goroutine teardown.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	ratomic "sync/atomic"
)

// Errs accumulates up to maxErrs distinct errors, de-duplicated by
// message. Used by bundle.Router.CloseAll to report every failure
// encountered while tearing down multiple backends, and by the
// request/reply endpoint to join every negative ack of a batch,
// instead of only the first.
type Errs struct {
	errs []error
	cnt  int64
	mu   sync.Mutex
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() error {
	if e.Cnt() == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func (e *Errs) Error() string {
	if err := e.JoinErr(); err != nil {
		return err.Error()
	}
	return ""
}

//
// connection-error classification, used by TransportEndpoint to decide
// whether a send failure is a TransportFailure vs. a Timeout
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscallErrConnRefused) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscallErrConnReset) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscallErrBrokenPipe) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	_, ok := err.(*net.DNSError)
	return ok
}

func IsUnreachable(err error, status int) bool {
	return IsErrConnectionRefused(err) ||
		isErrDNSLookup(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		status == http.StatusRequestTimeout ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway
}

func Err2ClientURLErr(err error) (uerr *url.Error) {
	if e, ok := err.(*url.Error); ok {
		uerr = e
	}
	return
}

func IsErrClientURLTimeout(err error) bool {
	uerr := Err2ClientURLErr(err)
	return uerr != nil && uerr.Timeout()
}

func FmtErr(prefix string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
