package storage

import (
	"testing"
	"time"

	"github.com/jittakal/loglake/pkg/record"
	"github.com/jittakal/loglake/pkg/storage"
)

func TestThresholdPolicy_ShouldFlush(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		stats record.BufferStats
		want  storage.FlushTrigger
	}{
		{
			name:  "empty buffer never flushes",
			stats: record.BufferStats{RecordCount: 0, SizeBytes: 0},
			want:  storage.TriggerNone,
		},
		{
			name: "below both thresholds",
			stats: record.BufferStats{
				RecordCount:    5,
				SizeBytes:      50,
				FirstWriteTime: now.Add(-10 * time.Second),
			},
			want: storage.TriggerNone,
		},
		{
			name: "size threshold crossed",
			stats: record.BufferStats{
				RecordCount:    5,
				SizeBytes:      101,
				FirstWriteTime: now.Add(-10 * time.Second),
			},
			want: storage.TriggerSize,
		},
		{
			name: "size threshold met exactly",
			stats: record.BufferStats{
				RecordCount:    5,
				SizeBytes:      100,
				FirstWriteTime: now.Add(-10 * time.Second),
			},
			want: storage.TriggerSize,
		},
		{
			name: "age threshold crossed",
			stats: record.BufferStats{
				RecordCount:    1,
				SizeBytes:      10,
				FirstWriteTime: now.Add(-61 * time.Second),
			},
			want: storage.TriggerAge,
		},
		{
			name: "size wins when both fire",
			stats: record.BufferStats{
				RecordCount:    50,
				SizeBytes:      500,
				FirstWriteTime: now.Add(-2 * time.Minute),
			},
			want: storage.TriggerSize,
		},
	}

	policy := NewThresholdPolicy(PolicyConfig{
		MaxBufferBytes: 100,
		MaxBufferAge:   60 * time.Second,
	})
	policy.now = func() time.Time { return now }

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ShouldFlush(tt.stats); got != tt.want {
				t.Errorf("ShouldFlush() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThresholdPolicy_DisabledThresholds(t *testing.T) {
	// Zero thresholds disable their trigger entirely.
	policy := NewThresholdPolicy(PolicyConfig{})

	stats := record.BufferStats{
		RecordCount:    1000,
		SizeBytes:      1 << 30,
		FirstWriteTime: time.Now().Add(-time.Hour),
	}
	if got := policy.ShouldFlush(stats); got != storage.TriggerNone {
		t.Errorf("ShouldFlush() = %v, want TriggerNone", got)
	}
}
