// Package consumer defines interfaces for batch consumption from Kafka.
//
// The log source delivers raw batch payloads over Kafka topics; one Kafka
// topic-partition maps to one pipeline shard.
package consumer

import (
	"context"
	"time"

	"github.com/jittakal/loglake/pkg/record"
)

// ConsumedBatch is one raw batch pulled off the transport, plus the commit
// hook that acknowledges it. Commit must only be called after the batch's
// records have been accepted into a shard buffer (at-least-once delivery).
type ConsumedBatch struct {
	Batch      record.Batch
	Offset     int64
	ReceivedAt time.Time
	CommitFunc func() error
}

// Consumer reads raw batches from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming batches from subscribed topics.
	// Returns channels for batches and errors.
	Consume(ctx context.Context) (<-chan *ConsumedBatch, <-chan error, error)

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes batches that failed validation or decoding to a
// dead letter topic.
type DLQPublisher interface {
	// Publish sends the raw batch to the DLQ with error information.
	Publish(ctx context.Context, batch record.Batch, offset int64, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
