package buffer

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/buffer"
	"github.com/jittakal/loglake/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*ShardBuffer)(nil)

// ShardBuffer buffers framed records for a single shard. Records are
// serialized on Add; SizeBytes is the exact length of the newline-delimited
// block a flush will write.
type ShardBuffer struct {
	shard          record.ShardID
	records        []record.LogRecord
	framed         bytes.Buffer
	maxSizeBytes   int64
	maxRecords     int
	firstWriteTime time.Time
	lastWriteTime  time.Time
	mu             sync.RWMutex
}

// New creates a new shard buffer. A zero maxSizeBytes or maxRecords means
// no hard cap for that dimension; flush thresholds are enforced by the
// pipeline, the caps here only bound runaway shards.
func New(shard record.ShardID, maxSizeBytes int64, maxRecords int) *ShardBuffer {
	return &ShardBuffer{
		shard:        shard,
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// Add serializes the record and appends it as one newline-terminated line.
func (b *ShardBuffer) Add(rec record.LogRecord) error {
	line, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	lineSize := int64(len(line) + 1)
	if b.maxSizeBytes > 0 && int64(b.framed.Len())+lineSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, rec)
	b.framed.Write(line)
	b.framed.WriteByte('\n')

	now := time.Now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all buffered content. The returned slices are
// owned by the caller; the buffer is reset for reuse.
func (b *ShardBuffer) Drain() buffer.Drained {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := buffer.Drained{
		Records: b.records,
		Framed:  append([]byte(nil), b.framed.Bytes()...),
	}
	b.records = nil
	b.framed.Reset()
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
	return drained
}

// Stats returns current buffer statistics.
func (b *ShardBuffer) Stats() record.BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return record.BufferStats{
		RecordCount:    len(b.records),
		SizeBytes:      int64(b.framed.Len()),
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *ShardBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Manager manages buffers for multiple shards.
// It provides thread-safe access to shard buffers, creating them on-demand.
// Uses double-checked locking for efficient concurrent access.
type Manager struct {
	buffers      map[record.ShardID]*ShardBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// Ensure implementation satisfies interface at compile time.
var _ buffer.Manager = (*Manager)(nil)

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[record.ShardID]*ShardBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns the buffer for the shard, creating if needed.
func (m *Manager) GetOrCreate(shard record.ShardID) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[shard]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if buf, exists := m.buffers[shard]; exists {
		return buf
	}

	buf = New(shard, m.maxSizeBytes, m.maxRecords)
	m.buffers[shard] = buf
	return buf
}
