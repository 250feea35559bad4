package query

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/projection"
	"github.com/jittakal/loglake/pkg/query"
	"github.com/jittakal/loglake/pkg/storage"
)

// DefaultReadConcurrency bounds parallel object reads for ordered queries.
const DefaultReadConcurrency = 8

// Config contains query executor settings.
type Config struct {
	// ReadConcurrency bounds parallel object reads for ordered queries.
	// Zero means DefaultReadConcurrency.
	ReadConcurrency int
}

// MetricsCollector abstracts query-side metric updates.
type MetricsCollector interface {
	ObservePathsEnumerated(n int)
	AddRowsReturned(n int)
}

// Executor answers queries by enumerating candidate partition paths through
// the projection engine, listing objects under each path, and filtering the
// decoded rows. No catalog or listing outside the enumerated paths is ever
// consulted.
type Executor struct {
	store           storage.ObjectStore
	engine          projection.Enumerator
	logger          *slog.Logger
	metrics         MetricsCollector
	readConcurrency int

	parsers fastjson.ParserPool
}

var _ query.Executor = (*Executor)(nil)

// NewExecutor creates an Executor over the given store and projection engine.
func NewExecutor(store storage.ObjectStore, engine projection.Enumerator, config Config, logger *slog.Logger, metrics MetricsCollector) *Executor {
	if config.ReadConcurrency <= 0 {
		config.ReadConcurrency = DefaultReadConcurrency
	}
	return &Executor{
		store:           store,
		engine:          engine,
		logger:          logger,
		metrics:         metrics,
		readConcurrency: config.ReadConcurrency,
	}
}

// Execute prunes candidate paths and returns a cursor over matching rows.
// Unordered queries are lazy: objects are read one at a time and reading
// stops as soon as the limit is met. Ordered queries must materialize every
// candidate row before sorting, so those read in parallel up front.
func (e *Executor) Execute(ctx context.Context, pred query.Predicate) (query.Cursor, error) {
	prefixes, err := e.engine.Enumerate(pred.Partition)
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}
	e.metrics.ObservePathsEnumerated(len(prefixes))
	e.logger.Debug("Query planned", "candidatePaths", len(prefixes), "ordered", pred.OrderBy != query.OrderNone)

	if pred.OrderBy == query.OrderNone {
		return &lazyCursor{exec: e, pred: pred, prefixes: prefixes}, nil
	}

	rows, err := e.collect(ctx, pred, prefixes)
	if err != nil {
		return nil, err
	}
	sortRows(rows, pred.OrderBy)
	if pred.Limit > 0 && len(rows) > pred.Limit {
		rows = rows[:pred.Limit]
	}
	e.metrics.AddRowsReturned(len(rows))
	return &sliceCursor{rows: rows}, nil
}

// collect reads every candidate object under the given prefixes in parallel
// and returns all matching rows.
func (e *Executor) collect(ctx context.Context, pred query.Predicate, prefixes []string) ([]query.Row, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.readConcurrency)

	var mu sync.Mutex
	var all []query.Row

	for _, prefix := range prefixes {
		prefix := prefix
		g.Go(func() error {
			keys, err := e.store.List(gctx, prefix)
			if err != nil {
				return fmt.Errorf("list %s: %w", prefix, err)
			}
			for _, key := range keys {
				rows, err := e.readObject(gctx, key, pred)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					continue
				}
				mu.Lock()
				all = append(all, rows...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// readObject fetches one object and returns its rows that pass the residual
// filter. A missing object means the partition simply has no data for that
// key, not an error.
func (e *Executor) readObject(ctx context.Context, key string, pred query.Predicate) ([]query.Row, error) {
	body, err := e.store.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return e.decode(body, key, pred)
}

// decode decompresses an object body and parses its newline-delimited
// records. A line that fails to parse is skipped; one bad record does not
// poison the rest of the object.
func (e *Executor) decode(body []byte, key string, pred query.Predicate) ([]query.Row, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}

	parser := e.parsers.Get()
	defer e.parsers.Put(parser)

	var rows []query.Row
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		v, err := parser.ParseBytes(line)
		if err != nil {
			e.logger.Warn("Skipping unparsable record", "objectKey", key, "error", err)
			continue
		}
		for _, row := range rowsFromValue(v, key) {
			if rowMatches(pred, row) {
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// rowsFromValue maps one parsed line to result rows. Flat records yield one
// row. Lines carrying a nested logEvents array are an older object shape;
// those flatten to one row per event.
func rowsFromValue(v *fastjson.Value, key string) []query.Row {
	if events := v.GetArray("logEvents"); len(events) > 0 {
		group := string(v.GetStringBytes("logGroup"))
		stream := string(v.GetStringBytes("logStream"))
		rows := make([]query.Row, 0, len(events))
		for _, ev := range events {
			rows = append(rows, query.Row{
				ID:        string(ev.GetStringBytes("id")),
				Timestamp: ev.GetInt64("timestamp"),
				Message:   string(ev.GetStringBytes("message")),
				LogGroup:  group,
				LogStream: stream,
				ObjectKey: key,
			})
		}
		return rows
	}

	return []query.Row{{
		ID:        string(v.GetStringBytes("id")),
		Timestamp: v.GetInt64("timestamp"),
		Message:   string(v.GetStringBytes("message")),
		LogGroup:  string(v.GetStringBytes("logGroup")),
		LogStream: string(v.GetStringBytes("logStream")),
		ObjectKey: key,
	}}
}

func sortRows(rows []query.Row, order query.Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Timestamp != rows[j].Timestamp {
			if order == query.OrderTimeDesc {
				return rows[i].Timestamp > rows[j].Timestamp
			}
			return rows[i].Timestamp < rows[j].Timestamp
		}
		return rows[i].ID < rows[j].ID
	})
}

// lazyCursor walks candidate prefixes and objects on demand. It holds the
// rows of at most one object at a time.
type lazyCursor struct {
	exec     *Executor
	pred     query.Predicate
	prefixes []string
	keys     []string
	rows     []query.Row
	returned int
	closed   bool
}

var _ query.Cursor = (*lazyCursor)(nil)

func (c *lazyCursor) Next(ctx context.Context) (query.Row, bool, error) {
	if c.closed {
		return query.Row{}, false, apperrors.ErrCursorClosed
	}
	if c.pred.Limit > 0 && c.returned >= c.pred.Limit {
		return query.Row{}, false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return query.Row{}, false, err
		}

		if len(c.rows) > 0 {
			row := c.rows[0]
			c.rows = c.rows[1:]
			c.returned++
			c.exec.metrics.AddRowsReturned(1)
			return row, true, nil
		}

		if len(c.keys) > 0 {
			key := c.keys[0]
			c.keys = c.keys[1:]
			rows, err := c.exec.readObject(ctx, key, c.pred)
			if err != nil {
				return query.Row{}, false, err
			}
			c.rows = rows
			continue
		}

		if len(c.prefixes) > 0 {
			prefix := c.prefixes[0]
			c.prefixes = c.prefixes[1:]
			keys, err := c.exec.store.List(ctx, prefix)
			if err != nil {
				return query.Row{}, false, fmt.Errorf("list %s: %w", prefix, err)
			}
			c.keys = keys
			continue
		}

		return query.Row{}, false, nil
	}
}

func (c *lazyCursor) Close() error {
	c.closed = true
	c.rows = nil
	c.keys = nil
	c.prefixes = nil
	return nil
}

// sliceCursor serves rows that were fully materialized for sorting.
type sliceCursor struct {
	rows   []query.Row
	pos    int
	closed bool
}

var _ query.Cursor = (*sliceCursor)(nil)

func (c *sliceCursor) Next(ctx context.Context) (query.Row, bool, error) {
	if c.closed {
		return query.Row{}, false, apperrors.ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return query.Row{}, false, err
	}
	if c.pos >= len(c.rows) {
		return query.Row{}, false, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, true, nil
}

func (c *sliceCursor) Close() error {
	c.closed = true
	c.rows = nil
	return nil
}
