package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/buffer"
	"github.com/jittakal/loglake/pkg/projection"
	"github.com/jittakal/loglake/pkg/record"
	pkgstorage "github.com/jittakal/loglake/pkg/storage"
)

// WriterMetrics defines metrics operations for the flush writer.
type WriterMetrics interface {
	IncFlushes(shard, trigger, status string)
	IncFlushRetries(shard string)
	IncDeliveryFailures(shard string)
	ObserveObjectWritten(shard, backend string, sizeBytes int64, durationSec float64)
}

// WriterConfig contains flush writer configuration.
type WriterConfig struct {
	Backend        string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WriteTimeout   time.Duration
}

// FlushWriter turns a drained buffer generation into one storage object:
// it compresses the newline-delimited block exactly once, resolves the
// partition path from the flush time, and writes the object with retries.
//
// Delivery is at-least-once. A write that times out is retried with
// exponential backoff; the earlier attempt may have succeeded, so a retry
// can produce a duplicate object. The object name is deterministic per
// (shard, generation) and a redrive reuses the key resolved at first flush
// (FlushAt), so a duplicate is always a byte-identical overwrite of the
// same key. The writer does not deduplicate.
type FlushWriter struct {
	store    pkgstorage.ObjectStore
	resolver projection.Resolver
	spec     *projection.Spec
	config   WriterConfig
	logger   *slog.Logger
	metrics  WriterMetrics
	now      func() time.Time
}

// NewFlushWriter creates a new flush writer. The spec must be the same
// value the query side's projection engine is constructed with.
func NewFlushWriter(
	store pkgstorage.ObjectStore,
	resolver projection.Resolver,
	spec *projection.Spec,
	config WriterConfig,
	logger *slog.Logger,
	metrics WriterMetrics,
) *FlushWriter {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 200 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}

	return &FlushWriter{
		store:    store,
		resolver: resolver,
		spec:     spec,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Flush writes one buffer generation as a single object. It returns the
// object key even on failure so the caller can redrive at the same key. On
// retry exhaustion the error is a *DeliveryError; the caller keeps the
// drained generation for redrive.
func (w *FlushWriter) Flush(
	ctx context.Context,
	shard record.ShardID,
	generation uint64,
	drained buffer.Drained,
	trigger pkgstorage.FlushTrigger,
) (string, error) {
	if len(drained.Records) == 0 {
		return "", nil
	}

	// Partition placement uses flush time, not event time; source clocks
	// can be skewed.
	key := w.resolver.Resolve(w.now()).Path(w.spec) + objectName(shard, generation)
	return key, w.flushTo(ctx, key, shard, generation, drained, trigger)
}

// FlushAt redelivers a generation at a key resolved by an earlier Flush.
// The partition key is pinned at first-flush time, so a redrive that
// crosses a partition boundary overwrites the original object instead of
// duplicating it under a later partition.
func (w *FlushWriter) FlushAt(
	ctx context.Context,
	key string,
	shard record.ShardID,
	generation uint64,
	drained buffer.Drained,
	trigger pkgstorage.FlushTrigger,
) error {
	if len(drained.Records) == 0 {
		return nil
	}
	return w.flushTo(ctx, key, shard, generation, drained, trigger)
}

func (w *FlushWriter) flushTo(
	ctx context.Context,
	key string,
	shard record.ShardID,
	generation uint64,
	drained buffer.Drained,
	trigger pkgstorage.FlushTrigger,
) error {
	startTime := w.now()

	compressed, err := compress(drained.Framed)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncFlushes(shard.String(), string(trigger), "error")
		}
		return fmt.Errorf("compress flush for shard %s: %w", shard, err)
	}

	if err := w.putWithRetry(ctx, shard, key, compressed); err != nil {
		if w.metrics != nil {
			w.metrics.IncFlushes(shard.String(), string(trigger), "failed")
			w.metrics.IncDeliveryFailures(shard.String())
		}
		return &errors.DeliveryError{
			Shard:      shard,
			Generation: generation,
			Attempts:   w.config.MaxAttempts,
			Err:        err,
		}
	}

	duration := w.now().Sub(startTime)

	w.logger.Info("flushed shard buffer",
		"shard", shard.String(),
		"generation", generation,
		"key", key,
		"trigger", string(trigger),
		"record_count", len(drained.Records),
		"raw_bytes", len(drained.Framed),
		"compressed_bytes", len(compressed),
		"duration_ms", duration.Milliseconds(),
	)

	if w.metrics != nil {
		w.metrics.IncFlushes(shard.String(), string(trigger), "success")
		w.metrics.ObserveObjectWritten(shard.String(), w.config.Backend, int64(len(compressed)), duration.Seconds())
	}

	return nil
}

// putWithRetry writes the object with exponential backoff until the retry
// budget is exhausted. Non-retryable errors abort immediately.
func (w *FlushWriter) putWithRetry(ctx context.Context, shard record.ShardID, key string, body []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.config.InitialBackoff
	policy.MaxInterval = w.config.MaxBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++

		putCtx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
		defer cancel()

		err := w.store.Put(putCtx, key, body)
		if err == nil {
			return nil
		}

		if putCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", errors.ErrWriteTimeout, err)
		}

		if !errors.IsRetryable(err) && putCtx.Err() != context.DeadlineExceeded {
			return backoff.Permanent(err)
		}

		if attempt < w.config.MaxAttempts {
			w.logger.Warn("flush write failed, retrying",
				"shard", shard.String(),
				"key", key,
				"attempt", attempt,
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.IncFlushRetries(shard.String())
			}
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(w.config.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(operation, b)
}

// compress gzips the framed block. This is the single compression pass for
// the object; the store backends never compress again.
func compress(framed []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(framed); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectName builds a deterministic object file name for a shard buffer
// generation.
func objectName(shard record.ShardID, generation uint64) string {
	return fmt.Sprintf("records_%s_%08d.json.gz", shard.String(), generation)
}
