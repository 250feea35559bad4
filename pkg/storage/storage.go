// Package storage defines interfaces for object store operations.
//
// This package provides abstractions for writing to and reading from
// various object store backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"

	"github.com/jittakal/loglake/pkg/record"
)

// ObjectStore is a write-once, read-many object store. Objects are
// addressed by key; keys are produced by the partition path resolver and
// never enumerated from the backend.
type ObjectStore interface {
	// Put durably writes one object at the given key. An object written
	// twice at the same key (a retried flush) overwrites byte-identical
	// content; Put never mutates an object into a different value.
	Put(ctx context.Context, key string, body []byte) error

	// Get reads the object at the given key. A missing object is reported
	// via ErrObjectNotFound so callers can treat it as "no data".
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys of all objects under the given partition
	// prefix, in lexicographic order. A prefix with no objects returns an
	// empty slice, not an error. Candidate prefixes themselves are always
	// computed by projection, never discovered by listing.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}

// FlushPolicy decides when a shard buffer must be flushed to storage.
type FlushPolicy interface {
	// ShouldFlush returns the trigger that fired, or TriggerNone.
	// Size and age are evaluated by the same caller so the two conditions
	// never race on one buffer.
	ShouldFlush(stats record.BufferStats) FlushTrigger
}

// FlushTrigger identifies which threshold caused a flush.
type FlushTrigger string

const (
	TriggerNone FlushTrigger = ""
	TriggerSize FlushTrigger = "size"
	TriggerAge  FlushTrigger = "age"
	TriggerStop FlushTrigger = "shutdown"
)
