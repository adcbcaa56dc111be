package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Large values keep their layout under "<key>_internal:meta" and their
// chunks under "<key>_internal:chunk:<i>". Entity keys never contain
// "_internal:". These keys hash to different cluster slots, so every command
// below names a single key; pipelines are split per node by the cluster
// client.
const (
	metadataSuffix = "_internal:meta"
	chunkInfix     = "_internal:chunk"
	internalMarker = "_internal:"
	scanBatchSize  = 100
)

// Manager owns the Redis client and stores byte values, transparently
// compressing and chunking large ones.
type Manager struct {
	config  *Config
	large   LargeValueConfig
	client  redis.UniversalClient
	metrics *Metrics
}

// NewManager validates config and creates the client; it connects lazily.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	m := &Manager{config: config, large: config.LargeValue.resolved()}
	if config.EnableMetrics {
		m.metrics = NewMetrics()
	}

	opts := config.options()
	if config.IsClusterMode() {
		m.client = redis.NewClusterClient(opts.Cluster())
	} else {
		m.client = redis.NewClient(opts.Simple())
	}
	return m, nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the client
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Ping checks the connection. Failures wrap ErrConnectionFailed.
func (m *Manager) Ping(ctx context.Context) error {
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) ready() error {
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get reads one raw value; ErrKeyNotFound when absent
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	val, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	switch {
	case errors.Is(err, redis.Nil):
		m.metrics.RecordMiss()
		return nil, ErrKeyNotFound
	case err != nil:
		m.metrics.RecordError()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	m.metrics.RecordHit()
	return val, nil
}

// ExistsLarge reports whether a value written by SetLarge is stored at key
func (m *Manager) ExistsLarge(ctx context.Context, key string) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	pipe := m.client.Pipeline()
	value := pipe.Exists(ctx, key)
	meta := pipe.Exists(ctx, key+metadataSuffix)
	if _, err := pipe.Exec(ctx); err != nil {
		m.metrics.RecordError()
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return value.Val()+meta.Val() > 0, nil
}

// ScanKeys lists the keys SetLarge was called with that match pattern,
// using SCAN rather than KEYS.
func (m *Manager) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var keys []string
	iter := m.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		k, ok := logicalKey(iter.Val())
		if !ok {
			continue
		}
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// logicalKey maps a raw Redis key to the key SetLarge was called with.
// Chunk keys report false; the metadata key already stands for them.
func logicalKey(raw string) (string, bool) {
	if k, ok := strings.CutSuffix(raw, metadataSuffix); ok {
		return k, true
	}
	if strings.Contains(raw, internalMarker) {
		return "", false
	}
	return raw, true
}

// SetLarge stores value at key, gzipped and chunked as LargeValueConfig
// allows. Chunks left over from a previous, larger value are removed.
func (m *Manager) SetLarge(ctx context.Context, key string, value []byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	if len(value) > m.large.MaxValueSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes", ErrValueTooLarge, len(value), m.large.MaxValueSize)
	}

	data, meta := value, valueMetadata{}
	if m.large.EnableCompression && len(value) > m.large.CompressThreshold {
		packed, err := gzipBytes(value)
		if err != nil {
			return fmt.Errorf("compress %s: %w", key, err)
		}
		if len(packed) < len(value) {
			m.metrics.RecordCompression(uint64(len(value) - len(packed)))
			data, meta.compressed = packed, true
		}
	}

	previous, err := m.readMetadata(ctx, key)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { m.metrics.RecordSet(time.Since(start)) }()

	ttl := m.config.TTL
	pipe := m.client.Pipeline()
	if m.large.EnableChunking && len(data) > m.large.ChunkSize {
		m.metrics.RecordChunked()
		meta.chunked = true
		meta.chunks = (len(data) + m.large.ChunkSize - 1) / m.large.ChunkSize
		pipe.Del(ctx, key)
		for i := 0; i < meta.chunks; i++ {
			lo := i * m.large.ChunkSize
			pipe.Set(ctx, chunkKey(key, i), data[lo:min(lo+m.large.ChunkSize, len(data))], ttl)
		}
	} else {
		pipe.Set(ctx, key, data, ttl)
	}
	if meta.chunked || meta.compressed {
		pipe.Set(ctx, key+metadataSuffix, meta.String(), ttl)
	} else {
		pipe.Del(ctx, key+metadataSuffix)
	}
	for i := meta.chunks; i < previous.chunks; i++ {
		pipe.Del(ctx, chunkKey(key, i))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// GetLarge reads a value written by SetLarge; ErrKeyNotFound when absent
func (m *Manager) GetLarge(ctx context.Context, key string) ([]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	meta, err := m.readMetadata(ctx, key)
	if err != nil {
		return nil, err
	}

	var data []byte
	if meta.chunked {
		data, err = m.getChunks(ctx, key, meta.chunks)
	} else {
		data, err = m.Get(ctx, key)
	}
	if err != nil || !meta.compressed {
		return data, err
	}
	return gunzipBytes(data)
}

// DeleteLarge removes a value with its metadata and chunks
func (m *Manager) DeleteLarge(ctx context.Context, key string) error {
	if err := m.ready(); err != nil {
		return err
	}
	meta, err := m.readMetadata(ctx, key)
	if err != nil {
		return err
	}

	start := time.Now()
	pipe := m.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, key+metadataSuffix)
	for i := 0; i < meta.chunks; i++ {
		pipe.Del(ctx, chunkKey(key, i))
	}
	_, err = pipe.Exec(ctx)
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// valueMetadata describes how SetLarge laid a value out. It is stored as
// "<single|chunked>:<compressed>:<chunks>".
type valueMetadata struct {
	chunked    bool
	compressed bool
	chunks     int
}

func (v valueMetadata) String() string {
	kind, n := "single", 1
	if v.chunked {
		kind, n = "chunked", v.chunks
	}
	return kind + ":" + strconv.FormatBool(v.compressed) + ":" + strconv.Itoa(n)
}

func parseMetadata(s string) (valueMetadata, error) {
	kind, rest, _ := strings.Cut(s, ":")
	flag, count, ok := strings.Cut(rest, ":")
	if !ok || (kind != "chunked" && kind != "single") {
		return valueMetadata{}, fmt.Errorf("%w: %q", ErrInvalidMetadata, s)
	}
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return valueMetadata{}, fmt.Errorf("%w: chunk count %q", ErrInvalidMetadata, count)
	}

	meta := valueMetadata{chunked: kind == "chunked", compressed: flag == "true"}
	if meta.chunked {
		meta.chunks = n
	}
	return meta, nil
}

// readMetadata returns the zero layout (plain single value) when none is stored
func (m *Manager) readMetadata(ctx context.Context, key string) (valueMetadata, error) {
	s, err := m.client.Get(ctx, key+metadataSuffix).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return valueMetadata{}, nil
	case err != nil:
		m.metrics.RecordError()
		return valueMetadata{}, fmt.Errorf("redis get %s metadata: %w", key, err)
	}
	return parseMetadata(s)
}

func chunkKey(key string, i int) string {
	return key + chunkInfix + ":" + strconv.Itoa(i)
}

// getChunks reads every chunk in one pipeline and joins them
func (m *Manager) getChunks(ctx context.Context, key string, n int) ([]byte, error) {
	start := time.Now()
	pipe := m.client.Pipeline()
	cmds := make([]*redis.StringCmd, n)
	for i := range cmds {
		cmds[i] = pipe.Get(ctx, chunkKey(key, i))
	}
	_, err := pipe.Exec(ctx)
	m.metrics.RecordGet(time.Since(start))
	if err != nil && !errors.Is(err, redis.Nil) {
		m.metrics.RecordError()
		return nil, fmt.Errorf("redis get %s chunks: %w", key, err)
	}

	var buf bytes.Buffer
	for i, cmd := range cmds {
		chunk, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			// a chunk expired or was evicted under the metadata
			m.metrics.RecordMiss()
			return nil, fmt.Errorf("%w: chunk %d of %s", ErrKeyNotFound, i, key)
		}
		if err != nil {
			m.metrics.RecordError()
			return nil, fmt.Errorf("redis get %s chunk %d: %w", key, i, err)
		}
		buf.Write(chunk)
	}
	m.metrics.RecordHit()
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Metrics returns the live counters, or nil when Config.EnableMetrics is false
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// GetMetrics returns a snapshot of the counters
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics zeroes the counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}
