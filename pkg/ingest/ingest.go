// Package ingest defines interfaces for batch reception and record framing.
//
// A receiver turns a raw batch unit into a decoded byte stream; a framer
// turns that stream into individually delimited log records.
package ingest

import (
	"github.com/jittakal/loglake/pkg/record"
)

// Receiver validates and decodes a raw batch.
type Receiver interface {
	// Receive validates the batch's declared codec against the payload and
	// returns the decoded bytes. It performs at most one decompression pass
	// and produces no partial output on failure.
	Receive(batch record.Batch) ([]byte, error)
}

// Framer splits a decoded batch stream into self-contained records.
type Framer interface {
	// Frame locates record boundaries structurally (the input may contain
	// multiple JSON objects concatenated with no separator) and returns the
	// flattened records in original order. A trailing fragment that cannot
	// be parsed is dropped and reported as a *errors.FrameWarning alongside
	// the successfully framed records; it is never carried into a later
	// batch. A stream with zero valid records is not an error.
	Frame(shard record.ShardID, stream []byte) ([]record.LogRecord, error)
}
