// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/loglake/pkg/record"
)

// Sentinel errors for common conditions.
var (
	ErrMalformedBatch = errors.New("malformed batch")
	ErrBufferFull     = errors.New("buffer is full")
	ErrConsumerClosed = errors.New("consumer is closed")
	ErrStoreClosed    = errors.New("object store is closed")
	ErrObjectNotFound = errors.New("object not found")
	ErrWriteTimeout   = errors.New("write timed out")
	ErrCursorClosed   = errors.New("cursor is closed")
)

// FrameWarning reports a trailing fragment that could not be parsed as a
// complete record. The fragment is dropped; the batch is otherwise
// processed.
type FrameWarning struct {
	Shard         record.ShardID
	FragmentBytes int
}

func (e *FrameWarning) Error() string {
	return fmt.Sprintf("frame warning: shard=%s dropped trailing fragment of %d bytes",
		e.Shard, e.FragmentBytes)
}

// BatchError represents a batch that failed validation or decoding. The
// batch is dropped and counted; the pipeline keeps running.
type BatchError struct {
	Shard  record.ShardID
	Offset int64
	Reason string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch error: shard=%s offset=%d reason=%s: %v",
		e.Shard, e.Offset, e.Reason, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// StorageError represents an object store operation failure.
type StorageError struct {
	Operation string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s key=%s: %v",
		e.Operation, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DeliveryError is fatal: the flush retry budget is exhausted. The shard's
// buffer generation is preserved for redrive, never discarded.
type DeliveryError struct {
	Shard      record.ShardID
	Generation uint64
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: shard=%s generation=%d after %d attempts: %v",
		e.Shard, e.Generation, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.IsRetryable()
	}

	return errors.Is(err, ErrWriteTimeout)
}

// IsRetryable determines if a StorageError is retryable based on the
// operation type. Reads fail fast; writes are retried by the flush loop.
func (e *StorageError) IsRetryable() bool {
	if errors.Is(e.Err, ErrObjectNotFound) {
		return false
	}
	return e.Operation == "put"
}
