package redis

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type operation int

const (
	opGet operation = iota
	opSet
	opDelete
	opCount
)

var operationNames = [opCount]string{"get", "set", "delete"}

type opStats struct {
	count   atomic.Uint64
	latency atomic.Uint64 // nanoseconds
}

// Metrics counts entity reads and writes against Redis. All methods are
// safe on a nil *Metrics, which is what a Manager uses when
// Config.EnableMetrics is false.
//
// Metrics implements prometheus.Collector; register it to export the
// counters as em4go_redis_*.
type Metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
	ops    [opCount]opStats

	compressedBytesSaved atomic.Uint64
	chunkedWrites        atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordHit counts a read that found its key
func (m *Metrics) RecordHit() {
	if m != nil {
		m.hits.Add(1)
	}
}

// RecordMiss counts a read of an absent key
func (m *Metrics) RecordMiss() {
	if m != nil {
		m.misses.Add(1)
	}
}

// RecordError counts a failed Redis call
func (m *Metrics) RecordError() {
	if m != nil {
		m.errors.Add(1)
	}
}

func (m *Metrics) record(op operation, d time.Duration) {
	if m == nil {
		return
	}
	m.ops[op].count.Add(1)
	m.ops[op].latency.Add(uint64(d.Nanoseconds()))
}

// RecordGet records a read with its latency
func (m *Metrics) RecordGet(d time.Duration) { m.record(opGet, d) }

// RecordSet records a write with its latency
func (m *Metrics) RecordSet(d time.Duration) { m.record(opSet, d) }

// RecordDelete records a delete with its latency
func (m *Metrics) RecordDelete(d time.Duration) { m.record(opDelete, d) }

// RecordCompression records bytes saved by compressing an encoding
func (m *Metrics) RecordCompression(bytesSaved uint64) {
	if m != nil {
		m.compressedBytesSaved.Add(bytesSaved)
	}
}

// RecordChunked counts an encoding written as chunks
func (m *Metrics) RecordChunked() {
	if m != nil {
		m.chunkedWrites.Add(1)
	}
}

func (m *Metrics) average(op operation) time.Duration {
	n := m.ops[op].count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.ops[op].latency.Load() / n)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits, misses := m.hits.Load(), m.misses.Load()

	s := MetricsSnapshot{
		Hits:                  hits,
		Misses:                misses,
		Errors:                m.errors.Load(),
		GetOperations:         m.ops[opGet].count.Load(),
		SetOperations:         m.ops[opSet].count.Load(),
		DeleteOperations:      m.ops[opDelete].count.Load(),
		AvgGetLatency:         m.average(opGet),
		AvgSetLatency:         m.average(opSet),
		AvgDeleteLatency:      m.average(opDelete),
		CompressionBytesSaved: m.compressedBytesSaved.Load(),
		ChunkedOperations:     m.chunkedWrites.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// Reset zeroes every counter
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	for i := range m.ops {
		m.ops[i].count.Store(0)
		m.ops[i].latency.Store(0)
	}
	m.compressedBytesSaved.Store(0)
	m.chunkedWrites.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Hits    uint64
	Misses  uint64
	Errors  uint64
	HitRate float64 // percent of reads that found their key

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	AvgGetLatency    time.Duration
	AvgSetLatency    time.Duration
	AvgDeleteLatency time.Duration

	CompressionBytesSaved uint64
	ChunkedOperations     uint64
}

var (
	descLookups = prometheus.NewDesc("em4go_redis_lookups_total",
		"Entity reads by result.", []string{"result"}, nil)
	descErrors = prometheus.NewDesc("em4go_redis_errors_total",
		"Failed Redis calls.", nil, nil)
	descOps = prometheus.NewDesc("em4go_redis_operations_total",
		"Redis calls by operation.", []string{"operation"}, nil)
	descLatency = prometheus.NewDesc("em4go_redis_operation_seconds_total",
		"Cumulative Redis call latency by operation.", []string{"operation"}, nil)
	descCompressed = prometheus.NewDesc("em4go_redis_compression_saved_bytes_total",
		"Bytes saved by compressing encodings.", nil, nil)
	descChunked = prometheus.NewDesc("em4go_redis_chunked_writes_total",
		"Encodings written as chunks.", nil, nil)
)

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{descLookups, descErrors, descOps, descLatency, descCompressed, descChunked} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, labels...)
	}
	counter(descLookups, float64(m.hits.Load()), "hit")
	counter(descLookups, float64(m.misses.Load()), "miss")
	counter(descErrors, float64(m.errors.Load()))
	for op := operation(0); op < opCount; op++ {
		counter(descOps, float64(m.ops[op].count.Load()), operationNames[op])
		counter(descLatency, time.Duration(m.ops[op].latency.Load()).Seconds(), operationNames[op])
	}
	counter(descCompressed, float64(m.compressedBytesSaved.Load()))
	counter(descChunked, float64(m.chunkedWrites.Load()))
}
