// Package ingest implements batch reception and record framing.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/ingest"
	"github.com/jittakal/loglake/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ ingest.Receiver = (*BatchReceiver)(nil)

var gzipMagic = []byte{0x1f, 0x8b}

// BatchReceiver validates a batch's declared codec against the payload and
// decodes it. It performs at most one decompression pass; a payload that is
// still gzip after that pass was compressed twice upstream and is rejected
// rather than decoded recursively.
type BatchReceiver struct {
	logger *slog.Logger
}

// NewBatchReceiver creates a new batch receiver.
func NewBatchReceiver(logger *slog.Logger) *BatchReceiver {
	return &BatchReceiver{logger: logger}
}

// Receive returns the decoded byte stream for the batch. On any failure the
// batch is rejected whole; there is no partial output.
func (r *BatchReceiver) Receive(batch record.Batch) ([]byte, error) {
	if len(batch.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", errors.ErrMalformedBatch)
	}

	switch batch.Codec {
	case record.CodecNone, "":
		if bytes.HasPrefix(batch.Payload, gzipMagic) {
			return nil, fmt.Errorf("%w: payload is gzip but codec declared %q",
				errors.ErrMalformedBatch, record.CodecNone)
		}
		return batch.Payload, nil

	case record.CodecGzip:
		if !bytes.HasPrefix(batch.Payload, gzipMagic) {
			return nil, fmt.Errorf("%w: codec declared %q but payload is not gzip",
				errors.ErrMalformedBatch, record.CodecGzip)
		}

		zr, err := gzip.NewReader(bytes.NewReader(batch.Payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedBatch, err)
		}
		decoded, err := io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("%w: gzip decode: %v", errors.ErrMalformedBatch, err)
		}

		// A gzip stream inside the decoded output means the payload was
		// compressed twice upstream. One pass only; reject instead of
		// recursing.
		if bytes.HasPrefix(decoded, gzipMagic) {
			return nil, fmt.Errorf("%w: payload compressed twice", errors.ErrMalformedBatch)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: unknown codec %q", errors.ErrMalformedBatch, batch.Codec)
	}
}
