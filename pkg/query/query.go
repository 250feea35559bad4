// Package query defines the predicate surface and result types for reading
// records back out of the partitioned store.
package query

import (
	"context"
	"fmt"

	"github.com/jittakal/loglake/pkg/projection"
)

// Order specifies result ordering over event time.
type Order int

const (
	OrderNone Order = iota
	OrderTimeAsc
	OrderTimeDesc
)

// Predicate describes one query. Partition constraints are handled by the
// projection engine; the remaining clauses form the residual filter applied
// per row.
type Predicate struct {
	// Partition holds equality/range constraints on partition fields.
	Partition projection.Constraints

	// MessageContains filters rows whose message contains the substring.
	MessageContains string

	// MessagePattern filters rows by a SQL LIKE pattern ('%' and '_'
	// wildcards). Takes precedence over MessageContains when set.
	MessagePattern string

	// MinTimestamp / MaxTimestamp bound the event time in epoch
	// milliseconds; zero means unbounded.
	MinTimestamp int64
	MaxTimestamp int64

	OrderBy Order

	// Limit caps the number of rows returned; zero means no limit.
	Limit int
}

// Row is one result row: a flattened log record plus the storage object it
// was read from.
type Row struct {
	ID        string
	Timestamp int64
	Message   string
	LogGroup  string
	LogStream string
	ObjectKey string
}

// DedupKey identifies a row across duplicate objects produced by
// at-least-once delivery. The core does not deduplicate; downstream
// consumers may key on this.
func (r Row) DedupKey() string {
	return fmt.Sprintf("%s#%s", r.ObjectKey, r.ID)
}

// Cursor is a lazy, restartable sequence of result rows. Rows are
// materialized only as they are requested, so LIMIT-bounded queries stop
// reading objects early.
type Cursor interface {
	// Next returns the next row. The second return is false once the
	// sequence is exhausted or the context is cancelled.
	Next(ctx context.Context) (Row, bool, error)

	// Close releases resources held by the cursor.
	Close() error
}

// Executor runs queries against the partitioned store.
type Executor interface {
	// Execute prunes candidate paths via the projection engine and returns
	// a cursor over the matching rows. Missing objects are "no data", not
	// errors.
	Execute(ctx context.Context, pred Predicate) (Cursor, error)
}
