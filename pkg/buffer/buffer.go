// Package buffer defines interfaces for per-shard record buffering.
//
// Buffers batch framed records between flushes; flush decisions are made by
// the owning shard actor, never by the buffer itself.
package buffer

import (
	"github.com/jittakal/loglake/pkg/record"
)

// Drained is the content removed from a buffer by Drain: the records plus
// their serialized newline-delimited block, one line per record, each
// terminated by exactly one newline.
type Drained struct {
	Records []record.LogRecord
	Framed  []byte
}

// Buffer accumulates framed records for a single shard generation.
type Buffer interface {
	// Add appends a record to the buffer.
	// Returns an error if adding would exceed the buffer's capacity.
	Add(rec record.LogRecord) error

	// Drain removes and returns all buffered content.
	// The buffer is reset after draining.
	Drain() Drained

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() record.BufferStats

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool
}

// Manager creates and manages buffers for shards.
type Manager interface {
	// GetOrCreate returns the buffer for the given shard,
	// creating one if it doesn't exist.
	GetOrCreate(shard record.ShardID) Buffer
}
