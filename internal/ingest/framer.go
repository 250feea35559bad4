package ingest

import (
	"fmt"
	"log/slog"

	"github.com/valyala/fastjson"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/internal/validator"
	"github.com/jittakal/loglake/pkg/ingest"
	"github.com/jittakal/loglake/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ ingest.Framer = (*RecordFramer)(nil)

// MetricsCollector defines metrics operations for framing.
type MetricsCollector interface {
	IncControlBatches(topic string, partition int32)
	AddRecordsFramed(topic string, partition int32, n int)
	IncFragmentsDropped(topic string, partition int32)
}

// RecordFramer splits a decoded batch stream into flattened log records.
//
// Upstream batching concatenates JSON envelopes with no separator, so the
// framer finds envelope boundaries by walking brace/bracket nesting and
// string state rather than assuming any delimiter exists. Each envelope's
// logEvents are flattened into one LogRecord per event carrying the
// envelope's logGroup and logStream.
type RecordFramer struct {
	validator *validator.EnvelopeValidator
	logger    *slog.Logger
	metrics   MetricsCollector
	parsers   fastjson.ParserPool
}

// NewRecordFramer creates a new record framer.
func NewRecordFramer(logger *slog.Logger, metrics MetricsCollector) *RecordFramer {
	return &RecordFramer{
		validator: validator.NewEnvelopeValidator(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Frame returns the flattened records in original order. An unparsable
// trailing fragment is dropped and reported as a *errors.FrameWarning next
// to the records framed so far; it is never merged into a later batch. An
// envelope that violates the wire contract fails the whole batch as
// malformed.
func (f *RecordFramer) Frame(shard record.ShardID, stream []byte) ([]record.LogRecord, error) {
	chunks, fragment := splitConcatenated(stream)

	parser := f.parsers.Get()
	defer f.parsers.Put(parser)

	var records []record.LogRecord
	for _, chunk := range chunks {
		env, err := f.parseEnvelope(parser, chunk)
		if err != nil {
			return nil, err
		}
		if err := f.validator.Validate(env); err != nil {
			return nil, err
		}

		if env.MessageType != record.MessageTypeData {
			f.logger.Debug("skipping control batch",
				"shard", shard.String(),
				"message_type", env.MessageType,
			)
			if f.metrics != nil {
				f.metrics.IncControlBatches(shard.Topic, shard.Partition)
			}
			continue
		}

		for _, ev := range env.LogEvents {
			records = append(records, record.LogRecord{
				ID:        ev.ID,
				Timestamp: ev.Timestamp,
				Message:   ev.Message,
				LogGroup:  env.LogGroup,
				LogStream: env.LogStream,
			})
		}
	}

	if f.metrics != nil && len(records) > 0 {
		f.metrics.AddRecordsFramed(shard.Topic, shard.Partition, len(records))
	}

	if len(fragment) > 0 {
		if f.metrics != nil {
			f.metrics.IncFragmentsDropped(shard.Topic, shard.Partition)
		}
		return records, &errors.FrameWarning{Shard: shard, FragmentBytes: len(fragment)}
	}

	return records, nil
}

// parseEnvelope decodes one envelope chunk into its typed form.
func (f *RecordFramer) parseEnvelope(parser *fastjson.Parser, chunk []byte) (*record.Envelope, error) {
	v, err := parser.ParseBytes(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedBatch, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: envelope is %s, not an object", errors.ErrMalformedBatch, v.Type())
	}

	env := &record.Envelope{
		MessageType: string(v.GetStringBytes("messageType")),
		Owner:       string(v.GetStringBytes("owner")),
		LogGroup:    string(v.GetStringBytes("logGroup")),
		LogStream:   string(v.GetStringBytes("logStream")),
	}

	for _, filter := range v.GetArray("subscriptionFilters") {
		env.SubscriptionFilters = append(env.SubscriptionFilters, string(filter.GetStringBytes()))
	}

	for _, ev := range v.GetArray("logEvents") {
		env.LogEvents = append(env.LogEvents, record.LogEvent{
			ID:        string(ev.GetStringBytes("id")),
			Timestamp: ev.GetInt64("timestamp"),
			Message:   string(ev.GetStringBytes("message")),
		})
	}

	return env, nil
}

// splitConcatenated slices a stream of concatenated JSON objects into one
// chunk per complete top-level object. Whitespace between objects is
// allowed. Any incomplete or non-object tail is returned as the fragment.
func splitConcatenated(stream []byte) (chunks [][]byte, fragment []byte) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, c := range stream {
		if start < 0 {
			switch c {
			case ' ', '\t', '\r', '\n':
				continue
			case '{':
				start = i
				depth = 1
			default:
				// Not the start of an object; everything from here on is
				// unparsable.
				return chunks, stream[i:]
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				chunks = append(chunks, stream[start:i+1])
				start = -1
			}
		}
	}

	if start >= 0 {
		fragment = stream[start:]
	}
	return chunks, fragment
}
