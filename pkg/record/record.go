// Package record defines the core batch and record types shared by the
// ingest pipeline and the query executor.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Codec identifies the compression codec a batch payload declares.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
)

// MessageTypeData marks a batch that carries log events. Batches with any
// other message type (e.g. subscription control probes) carry no events and
// are skipped.
const MessageTypeData = "DATA_MESSAGE"

// ShardID identifies an independent, ordered stream of batches. Each shard
// is owned by exactly one pipeline actor.
type ShardID struct {
	Topic     string
	Partition int32
}

// String returns the shard ID in the format "topic-partition".
func (s ShardID) String() string {
	return fmt.Sprintf("%s-%d", s.Topic, s.Partition)
}

// Batch is a raw batch unit as delivered by the log source. It is owned
// transiently by the batch receiver and discarded once framed.
type Batch struct {
	Payload   []byte
	Codec     Codec
	Shard     ShardID
	ArrivedAt time.Time
}

// Envelope is the decoded wire shape of one batch.
type Envelope struct {
	MessageType         string     `json:"messageType"`
	Owner               string     `json:"owner"`
	LogGroup            string     `json:"logGroup"`
	LogStream           string     `json:"logStream"`
	SubscriptionFilters []string   `json:"subscriptionFilters"`
	LogEvents           []LogEvent `json:"logEvents"`
}

// LogEvent is a single event inside a batch envelope.
type LogEvent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// LogRecord is one framed, flattened log record. Immutable once produced by
// the framer. Timestamp is epoch milliseconds of the event time.
type LogRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	LogGroup  string `json:"logGroup"`
	LogStream string `json:"logStream"`
}

// EventTime returns the record's event time.
func (r LogRecord) EventTime() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Marshal serializes the record as one JSON line without the trailing
// newline delimiter; the delimiter is imposed exactly once by the framer.
func (r LogRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// BufferStats describes the state of a shard buffer at a point in time.
type BufferStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// Age returns how long the oldest buffered record has been waiting, or zero
// for an empty buffer.
func (s BufferStats) Age(now time.Time) time.Duration {
	if s.FirstWriteTime.IsZero() {
		return 0
	}
	return now.Sub(s.FirstWriteTime)
}
