package redis

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.False(t, cfg.IsClusterMode())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"negative ttl", func(c *Config) { c.TTL = -time.Second }},
		{"empty pool", func(c *Config) { c.Pool.Size = 0 }},
		{"negative chunk size", func(c *Config) { c.LargeValue.ChunkSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("cluster mode ignores host", func(t *testing.T) {
		c := DefaultConfig()
		c.Host = ""
		c.Cluster = []string{"10.0.0.1:7000"}
		assert.True(t, c.IsClusterMode())
		assert.NoError(t, c.Validate())
	})
}

func TestConfigOptions(t *testing.T) {
	c := DefaultConfig()
	c.Database = 2
	opts := c.options()
	assert.Equal(t, []string{"localhost:6379"}, opts.Addrs)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, 4*time.Second, opts.PoolTimeout)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)

	c.Cluster = []string{"10.0.0.1:7000", "10.0.0.2:7000"}
	assert.Equal(t, c.Cluster, c.options().Addrs)
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
	_, err = NewManager(&Config{})
	assert.Error(t, err)

	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 6379, m.Config().Port)
	assert.NoError(t, m.Close())
}

func TestManagerWithoutClient(t *testing.T) {
	ctx := context.Background()
	m := &Manager{config: DefaultConfig(), metrics: NewMetrics()}

	assert.ErrorIs(t, m.Ping(ctx), ErrClientNotInitialized)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	assert.ErrorIs(t, m.SetLarge(ctx, "k", []byte("v")), ErrClientNotInitialized)
	_, err = m.GetLarge(ctx, "k")
	assert.ErrorIs(t, err, ErrClientNotInitialized)
	assert.ErrorIs(t, m.DeleteLarge(ctx, "k"), ErrClientNotInitialized)
	assert.NoError(t, m.Close())
}

func TestCompressionRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("entity-payload;"), 1000)
	compressed, err := gzipBytes(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	restored, err := gunzipBytes(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = gunzipBytes([]byte("not gzip"))
	assert.Error(t, err)
}

func TestValueMetadata(t *testing.T) {
	meta := valueMetadata{chunked: true, compressed: true, chunks: 3}
	assert.Equal(t, "chunked:true:3", meta.String())

	parsed, err := parseMetadata(meta.String())
	require.NoError(t, err)
	assert.Equal(t, meta, parsed)

	single, err := parseMetadata("single:true:1")
	require.NoError(t, err)
	assert.Equal(t, valueMetadata{compressed: true}, single)
	assert.Equal(t, "single:true:1", single.String())

	for _, bad := range []string{"", "chunked:true", "other:true:1", "chunked:true:x", "chunked:false:-1"} {
		_, err := parseMetadata(bad)
		assert.ErrorIs(t, err, ErrInvalidMetadata, bad)
	}
}

func TestLogicalKey(t *testing.T) {
	k, ok := logicalKey("em4go:user:1")
	assert.True(t, ok)
	assert.Equal(t, "em4go:user:1", k)

	k, ok = logicalKey("em4go:user:1" + metadataSuffix)
	assert.True(t, ok)
	assert.Equal(t, "em4go:user:1", k)

	_, ok = logicalKey(chunkKey("em4go:user:1", 0))
	assert.False(t, ok)
	assert.Equal(t, "em4go:user:1_internal:chunk:2", chunkKey("em4go:user:1", 2))
}

func TestLargeValueDefaults(t *testing.T) {
	l := LargeValueConfig{}.resolved()
	assert.Equal(t, 10*1024*1024, l.MaxValueSize)
	assert.Equal(t, 2*1024*1024, l.ChunkSize)
	assert.Equal(t, 100*1024, l.CompressThreshold)
	assert.False(t, l.EnableCompression)
	assert.False(t, l.EnableChunking)

	l = LargeValueConfig{ChunkSize: 64}.resolved()
	assert.Equal(t, 64, l.ChunkSize)
}

func TestSetLargeRejectsOversizedValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LargeValue.MaxValueSize = 8
	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	err = m.SetLarge(context.Background(), "k", bytes.Repeat([]byte("x"), 9))
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordHit()
	m.RecordHit()
	m.RecordHit()
	m.RecordMiss()
	m.RecordError()
	m.RecordGet(2 * time.Millisecond)
	m.RecordGet(4 * time.Millisecond)
	m.RecordSet(time.Millisecond)
	m.RecordCompression(512)
	m.RecordChunked()

	s := m.GetSnapshot()
	assert.Equal(t, uint64(3), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Errors)
	assert.InDelta(t, 75.0, s.HitRate, 0.001)
	assert.Equal(t, uint64(2), s.GetOperations)
	assert.Equal(t, 3*time.Millisecond, s.AvgGetLatency)
	assert.Equal(t, time.Millisecond, s.AvgSetLatency)
	assert.Equal(t, time.Duration(0), s.AvgDeleteLatency)
	assert.Equal(t, uint64(512), s.CompressionBytesSaved)
	assert.Equal(t, uint64(1), s.ChunkedOperations)

	m.Reset()
	assert.Equal(t, MetricsSnapshot{}, m.GetSnapshot())

	var mgr Manager
	assert.Equal(t, MetricsSnapshot{}, mgr.GetMetrics())
	mgr.ResetMetrics()
}

func TestMetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	m, err := NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()

	assert.Nil(t, m.Metrics())
	// nil metrics swallow records
	m.Metrics().RecordHit()
	m.Metrics().RecordGet(time.Millisecond)
	assert.Equal(t, MetricsSnapshot{}, m.GetMetrics())
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordHit()
	m.RecordMiss()
	m.RecordMiss()
	m.RecordSet(500 * time.Millisecond)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range metric.GetLabel() {
				name += "/" + lp.GetValue()
			}
			values[name] = metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 1.0, values["em4go_redis_lookups_total/hit"])
	assert.Equal(t, 2.0, values["em4go_redis_lookups_total/miss"])
	assert.Equal(t, 1.0, values["em4go_redis_operations_total/set"])
	assert.Equal(t, 0.0, values["em4go_redis_operations_total/get"])
	assert.InDelta(t, 0.5, values["em4go_redis_operation_seconds_total/set"], 1e-9)
}
