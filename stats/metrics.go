// Package stats exposes the producer/receiver metrics named in
// SPEC_FULL.md's domain stack: batches sent and dropped, outstanding
// items per destination, and flush latency, via Prometheus client
// metrics the way the teacher's stats package tracks counters and
// latencies (stats/common_statsd.go), generalized here from the
// teacher's hand-rolled statsValue tracker to the standard
// prometheus/client_golang registry.
/*
 * Copyright (c) 2024, OpenHCSDev. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "polystore"

var (
	BatchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_sent_total",
		Help:      "Batches successfully handed to a transport endpoint, by destination and mode.",
	}, []string{"destination", "mode"})

	BatchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_dropped_total",
		Help:      "Batches dropped because a destination's outbound queue was at its high-water mark.",
	}, []string{"destination"})

	ItemsOutstanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "items_outstanding",
		Help:      "Items registered with a QueueTracker that have not yet been acked, by destination.",
	}, []string{"destination"})

	FlushLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_latency_seconds",
		Help:      "Time from a DebouncedBatchEngine's first pending item to its process_fn invocation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"window_key"})
)

// ObserveFlush records the elapsed time between an engine's first
// enqueue and the flush that drained it.
func ObserveFlush(windowKey string, since time.Time) {
	FlushLatency.WithLabelValues(windowKey).Observe(time.Since(since).Seconds())
}
