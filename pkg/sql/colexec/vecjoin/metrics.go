// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package vecjoin

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a SlidingWindowDriver
// reports through. One Metrics is shared by every join instance in a
// process; Register wires it into the default registry (or a test
// registry) exactly once per process.
type Metrics struct {
	BuildBufferedRows prometheus.Gauge
	BuildPrunedRows    prometheus.Counter
	BuildBufferedBytes prometheus.Gauge
	ProbeBatchesPulled prometheus.Counter
	BuildBatchesPulled prometheus.Counter
	RowsEmitted        prometheus.Counter
	PruneCycles        prometheus.Counter
}

// NewMetrics constructs a fresh, unregistered Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		BuildBufferedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "build_buffered_rows",
			Help:      "Number of build-side rows currently buffered awaiting a possible match.",
		}),
		BuildPrunedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "build_pruned_rows_total",
			Help:      "Total build-side rows dropped because the interval graph proved they can no longer match.",
		}),
		BuildBufferedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "build_buffered_bytes",
			Help:      "Estimated memory footprint of the build-side pruning index.",
		}),
		ProbeBatchesPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "probe_batches_pulled_total",
			Help:      "Total record batches pulled from the probe side input.",
		}),
		BuildBatchesPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "build_batches_pulled_total",
			Help:      "Total record batches pulled from the build side input.",
		}),
		RowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "rows_emitted_total",
			Help:      "Total output rows produced by the join.",
		}),
		PruneCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symjoin",
			Subsystem: "sliding_window",
			Name:      "prune_cycles_total",
			Help:      "Total number of times the driver invoked PruneFront on the build index.",
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.BuildBufferedRows, m.BuildPrunedRows, m.BuildBufferedBytes,
		m.ProbeBatchesPulled, m.BuildBatchesPulled, m.RowsEmitted, m.PruneCycles,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
