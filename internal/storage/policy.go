// Package storage implements object store backends and the flush writer.
package storage

import (
	"time"

	"github.com/jittakal/loglake/pkg/record"
	"github.com/jittakal/loglake/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.FlushPolicy = (*ThresholdPolicy)(nil)

// PolicyConfig configures flush behavior.
type PolicyConfig struct {
	MaxBufferBytes int64
	MaxBufferAge   time.Duration
}

// ThresholdPolicy flushes on whichever fires first: buffered byte size or
// buffer age. Both conditions are evaluated by the shard's single actor, so
// the size check and the age timer never contend on one buffer. Defaults
// favor low latency over file count.
type ThresholdPolicy struct {
	maxSizeBytes int64
	maxAge       time.Duration
	now          func() time.Time
}

// NewThresholdPolicy creates a new flush policy.
func NewThresholdPolicy(config PolicyConfig) *ThresholdPolicy {
	return &ThresholdPolicy{
		maxSizeBytes: config.MaxBufferBytes,
		maxAge:       config.MaxBufferAge,
		now:          time.Now,
	}
}

// ShouldFlush returns the trigger that fired, or TriggerNone. Size wins
// when both thresholds are crossed at once.
func (p *ThresholdPolicy) ShouldFlush(stats record.BufferStats) storage.FlushTrigger {
	if stats.RecordCount == 0 {
		return storage.TriggerNone
	}

	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return storage.TriggerSize
	}

	if p.maxAge > 0 && stats.Age(p.now()) >= p.maxAge {
		return storage.TriggerAge
	}

	return storage.TriggerNone
}
