// Package mono provides the nanosecond clock helper used for timer math
// in hk and for the timestamp part of shared-memory names built by
// transport/bundle.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// NanoTime returns the wall-clock time in nanoseconds since the Unix
// epoch (time.Now().UnixNano()). It is not monotonic: a step of the
// system clock shows up in the difference between two readings.
func NanoTime() int64 { return time.Now().UnixNano() }

// Since returns the duration elapsed since a NanoTime() reading.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
