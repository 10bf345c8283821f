// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics defines the counters and histograms the Propeller core
// produces. Export and scraping are out of scope (§1 Non-goals); the core
// only registers collectors against a prometheus.Registerer the host
// process supplies, following the teacher's api/metrics package.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the Engine and its MessageProcessors
// touch. One Metrics is shared across all channels of one Engine.
type Metrics struct {
	ShardsReceived        prometheus.Counter
	ShardsGossiped        prometheus.Counter
	ShardsDropped         *prometheus.CounterVec // label "reason"
	MessagesDelivered     prometheus.Counter
	ReconstructionFailed  prometheus.Counter
	MessagesTimedOut      prometheus.Counter
	AlreadyFinalizedHits  prometheus.Counter
	ReconstructionLatency prometheus.Histogram
}

// New constructs and registers every Propeller collector against reg
// under namespace "propeller". It stops at the first registration failure
// and returns that error.
func New(reg prometheus.Registerer) (*Metrics, error) {
	const ns = "propeller"
	m := &Metrics{
		ShardsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "shards_received_total",
			Help: "Validated shards accepted by any MessageProcessor.",
		}),
		ShardsGossiped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "shards_gossiped_total",
			Help: "Shards fanned out by the GossipRouter, including cascade sends.",
		}),
		ShardsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "shards_dropped_total",
			Help: "Units dropped before reaching a MessageProcessor, by reason.",
		}, []string{"reason"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "messages_delivered_total",
			Help: "MessageReceived events emitted to the application.",
		}),
		ReconstructionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reconstruction_failed_total",
			Help: "ReconstructionFailed events emitted.",
		}),
		MessagesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "messages_timed_out_total",
			Help: "MessageTimeout events emitted.",
		}),
		AlreadyFinalizedHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "already_finalized_total",
			Help: "Incoming units dropped because their key was already finalized.",
		}),
		ReconstructionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "reconstruction_latency_seconds",
			Help:    "Time from MessageProcessor creation to Reconstructed state.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.ShardsReceived, m.ShardsGossiped, m.ShardsDropped, m.MessagesDelivered,
		m.ReconstructionFailed, m.MessagesTimedOut, m.AlreadyFinalizedHits,
		m.ReconstructionLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NoOp returns a Metrics backed by unregistered collectors, safe to call
// into from code paths that have no registerer (tests, fuzzing).
func NoOp() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}

var noOpOnce sync.Once
var noOpInstance *Metrics

// Default returns a process-wide no-op Metrics, lazily constructed.
func Default() *Metrics {
	noOpOnce.Do(func() { noOpInstance = NoOp() })
	return noOpInstance
}
