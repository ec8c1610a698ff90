// Package metrics provides in-memory diagnostics counters for the
// orchestrator: request latencies per operation and event counters for
// things that must stay observable without being user-visible errors
// (stale responses above all).
package metrics

import (
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpPredictManual = "predict_manual"
	OpPredictLive   = "predict_live"
	OpJobPoll       = "job_poll"
	OpJobSubmit     = "job_submit"
	OpModelLoad     = "model_load"
)

// Counter names.
const (
	CtrStalePollDropped    = "stale_poll_dropped"
	CtrStalePredictDropped = "stale_predict_dropped"
	CtrSamplesIngested     = "samples_ingested"
	CtrNewTimestamps       = "new_timestamps"
	CtrPollTransportErrors = "poll_transport_errors"
)

// OperationMetrics holds aggregated latency metrics for one operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count     int64
	AvgTimeMs float64
	MinTimeMs int64
	MaxTimeMs int64
}

// Snapshot is the full diagnostics state at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Operations    map[string]OperationSnapshot
	Counters      map[string]int64
}

// Collector aggregates operation latencies and event counters.
type Collector struct {
	mu       sync.Mutex
	start    time.Time
	ops      map[string]*OperationMetrics
	counters map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		start:    time.Now(),
		ops:      make(map[string]*OperationMetrics),
		counters: make(map[string]int64),
	}
}

// Observe records one completed operation of the given type.
func (c *Collector) Observe(op string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: d, MaxTime: d}
		c.ops[op] = m
	}
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// Inc increments an event counter.
func (c *Collector) Inc(counter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counter]++
}

// Count returns the current value of an event counter.
func (c *Collector) Count(counter string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[counter]
}

// Snapshot returns a consistent copy of all collected stats.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.start).Seconds(),
		Operations:    make(map[string]OperationSnapshot, len(c.ops)),
		Counters:      make(map[string]int64, len(c.counters)),
	}
	for op, m := range c.ops {
		s := OperationSnapshot{
			Count:     m.Count,
			MinTimeMs: m.MinTime.Milliseconds(),
			MaxTimeMs: m.MaxTime.Milliseconds(),
		}
		if m.Count > 0 {
			s.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		}
		snap.Operations[op] = s
	}
	for name, v := range c.counters {
		snap.Counters[name] = v
	}
	return snap
}
