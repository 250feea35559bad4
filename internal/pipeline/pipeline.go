// Package pipeline runs the per-shard ingest actors.
//
// One actor goroutine owns each shard: it frames incoming batches, feeds
// the shard buffer, and makes every flush decision. Because the size check
// and the age ticker run in the same actor, the two triggers never race on
// a buffer. While a flush is in flight the actor keeps accepting records
// into the next buffer generation; ingestion does not block on storage.
package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/loglake/internal/buffer"
	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/internal/storage"
	pkgbuffer "github.com/jittakal/loglake/pkg/buffer"
	"github.com/jittakal/loglake/pkg/consumer"
	"github.com/jittakal/loglake/pkg/ingest"
	"github.com/jittakal/loglake/pkg/record"
	pkgstorage "github.com/jittakal/loglake/pkg/storage"
)

// Metrics defines metrics operations for the pipeline. Batch receipt is
// counted by the transport, not here.
type Metrics interface {
	IncBatchesMalformed(topic string, partition int32, reason string)
	SetBufferStats(shard string, sizeBytes int64, recordCount int)
}

// Config contains pipeline configuration.
type Config struct {
	// TickInterval is how often each actor re-evaluates the age trigger
	// and retries parked generations.
	TickInterval time.Duration
}

// Pipeline dispatches consumed batches to per-shard actors and owns their
// lifecycle. Shards share no mutable state; the projection spec and flush
// policy they read are immutable after construction.
type Pipeline struct {
	receiver ingest.Receiver
	framer   ingest.Framer
	policy   pkgstorage.FlushPolicy
	writer   *storage.FlushWriter
	buffers  *buffer.Manager
	dlq      consumer.DLQPublisher
	logger   *slog.Logger
	metrics  Metrics
	config   Config

	actors      map[record.ShardID]*shardActor
	failures    chan error
	recoveries  chan int
	parkedTotal atomic.Int64
	wg          sync.WaitGroup
	mu          sync.Mutex
}

// New creates a new pipeline. dlq and metrics may be nil.
func New(
	receiver ingest.Receiver,
	framer ingest.Framer,
	policy pkgstorage.FlushPolicy,
	writer *storage.FlushWriter,
	buffers *buffer.Manager,
	dlq consumer.DLQPublisher,
	config Config,
	logger *slog.Logger,
	metrics Metrics,
) *Pipeline {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}

	return &Pipeline{
		receiver: receiver,
		framer:   framer,
		policy:   policy,
		writer:   writer,
		buffers:  buffers,
		dlq:      dlq,
		logger:   logger,
		metrics:  metrics,
		config:   config,
		actors:     make(map[record.ShardID]*shardActor),
		failures:   make(chan error, 16),
		recoveries: make(chan int, 16),
	}
}

// Failures returns the channel on which exhausted-retry delivery errors
// are surfaced. The failed generation stays parked in its actor for
// redrive; it is never discarded.
func (p *Pipeline) Failures() <-chan error {
	return p.failures
}

// Recoveries returns the channel on which a successful redrive reports the
// remaining parked-generation count. Sends are best-effort, like Failures;
// ParkedGenerations always holds the current count.
func (p *Pipeline) Recoveries() <-chan int {
	return p.recoveries
}

// ParkedGenerations returns the number of drained generations currently
// awaiting redrive across all shards.
func (p *Pipeline) ParkedGenerations() int {
	return int(p.parkedTotal.Load())
}

// Run consumes batches until the channel closes or the context is
// cancelled, then drains every actor with a final flush.
func (p *Pipeline) Run(ctx context.Context, batches <-chan *consumer.ConsumedBatch) error {
	defer p.stopActors()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline context cancelled")
			return nil
		case cb, ok := <-batches:
			if !ok {
				p.logger.Info("batch channel closed")
				return nil
			}
			p.actorFor(cb.Batch.Shard).in <- cb
		}
	}
}

// actorFor returns the actor owning the shard, starting one if needed.
func (p *Pipeline) actorFor(shard record.ShardID) *shardActor {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.actors[shard]; ok {
		return a
	}

	a := &shardActor{
		pipeline:  p,
		shard:     shard,
		buf:       p.buffers.GetOrCreate(shard),
		in:        make(chan *consumer.ConsumedBatch, 64),
		flushDone: make(chan flushResult, 1),
	}
	p.actors[shard] = a

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		a.run()
	}()

	p.logger.Info("started shard actor", "shard", shard.String())
	return a
}

func (p *Pipeline) stopActors() {
	p.mu.Lock()
	for _, a := range p.actors {
		close(a.in)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

type flushResult struct {
	generation uint64
	drained    pkgbuffer.Drained
	trigger    pkgstorage.FlushTrigger
	key        string
	redrive    bool
	err        error
}

// shardActor is the single owner of one shard's buffer and flush state.
type shardActor struct {
	pipeline *Pipeline
	shard    record.ShardID
	buf      pkgbuffer.Buffer
	in       chan *consumer.ConsumedBatch

	generation uint64
	inFlight   bool
	flushDone  chan flushResult

	// parked holds drained generations whose delivery failed after the
	// retry budget; they are retried on the tick until they land.
	parked []flushResult
}

func (a *shardActor) run() {
	ticker := time.NewTicker(a.pipeline.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case cb, ok := <-a.in:
			if !ok {
				a.shutdown()
				return
			}
			a.handleBatch(cb)
			a.maybeFlush()

		case <-ticker.C:
			a.maybeFlush()
			a.maybeRedrive()

		case res := <-a.flushDone:
			a.inFlight = false
			a.finishFlush(res)
			a.maybeFlush()
		}
	}
}

// handleBatch receives, frames, and buffers one batch, then acknowledges
// it. Malformed batches are dropped (and DLQ'd when configured) with their
// offset committed so a poison batch cannot wedge the shard.
func (a *shardActor) handleBatch(cb *consumer.ConsumedBatch) {
	p := a.pipeline
	shard := a.shard

	stream, err := p.receiver.Receive(cb.Batch)
	if err != nil {
		a.dropMalformed(cb, "receive", err)
		return
	}

	records, err := p.framer.Frame(shard, stream)
	if err != nil {
		var warning *errors.FrameWarning
		if stderrors.As(err, &warning) {
			// Trailing fragment dropped; the framed records are still good.
			p.logger.Warn("dropped trailing fragment",
				"shard", shard.String(),
				"fragment_bytes", warning.FragmentBytes,
			)
		} else {
			a.dropMalformed(cb, "frame", err)
			return
		}
	}

	rejected := 0
	for _, rec := range records {
		if err := a.buf.Add(rec); err != nil {
			if stderrors.Is(err, errors.ErrBufferFull) {
				a.flushNow(pkgstorage.TriggerSize)
				err = a.buf.Add(rec)
			}
			if stderrors.Is(err, errors.ErrBufferFull) {
				// The record alone exceeds the buffer cap. It ships as
				// its own generation instead of being dropped.
				err = a.flushOversized(rec)
			}
			if err != nil {
				rejected++
				p.logger.Error("failed to buffer record",
					"shard", shard.String(),
					"record_id", rec.ID,
					"error", err,
				)
			}
		}
	}

	if p.metrics != nil {
		stats := a.buf.Stats()
		p.metrics.SetBufferStats(shard.String(), stats.SizeBytes, stats.RecordCount)
	}

	// An uncommitted offset is the only path back for a record that was
	// never accepted: the batch redelivers after a restart.
	if rejected > 0 {
		p.logger.Error("offset not committed, batch has unaccepted records",
			"shard", shard.String(),
			"offset", cb.Offset,
			"rejected", rejected,
		)
		return
	}

	// Records are in the buffer; at-least-once from here on is the flush
	// writer's problem.
	if cb.CommitFunc != nil {
		if err := cb.CommitFunc(); err != nil {
			p.logger.Error("failed to commit offset",
				"shard", shard.String(),
				"offset", cb.Offset,
				"error", err,
			)
		}
	}
}

func (a *shardActor) dropMalformed(cb *consumer.ConsumedBatch, reason string, err error) {
	p := a.pipeline

	p.logger.Warn("dropping malformed batch",
		"shard", a.shard.String(),
		"offset", cb.Offset,
		"reason", reason,
		"error", err,
	)
	if p.metrics != nil {
		p.metrics.IncBatchesMalformed(a.shard.Topic, a.shard.Partition, reason)
	}
	if p.dlq != nil {
		_ = p.dlq.Publish(context.Background(), cb.Batch, cb.Offset, reason)
	}
	if cb.CommitFunc != nil {
		_ = cb.CommitFunc()
	}
}

// maybeFlush starts an async flush if a trigger fired and none is in
// flight. At most one flush per shard is in flight at a time, preserving
// object order per shard.
func (a *shardActor) maybeFlush() {
	if a.inFlight {
		return
	}
	trigger := a.pipeline.policy.ShouldFlush(a.buf.Stats())
	if trigger == pkgstorage.TriggerNone {
		return
	}
	a.flushNow(trigger)
}

// flushNow drains the current generation and writes it in the background.
// The write deliberately ignores run-loop cancellation: a flush is a
// commit point and runs to completion or retry exhaustion.
func (a *shardActor) flushNow(trigger pkgstorage.FlushTrigger) {
	if a.inFlight {
		// Wait for the in-flight flush before draining again; called only
		// from the forced-flush path.
		res := <-a.flushDone
		a.inFlight = false
		a.finishFlush(res)
	}

	drained := a.buf.Drain()
	if len(drained.Records) == 0 {
		return
	}

	a.generation++
	a.startFlush(a.generation, drained, trigger, "", false)
}

// flushOversized writes a record too large for the shard buffer as its own
// generation. A failed delivery parks it like any other generation.
func (a *shardActor) flushOversized(rec record.LogRecord) error {
	line, err := rec.Marshal()
	if err != nil {
		return err
	}
	drained := pkgbuffer.Drained{
		Records: []record.LogRecord{rec},
		Framed:  append(line, '\n'),
	}

	if a.inFlight {
		res := <-a.flushDone
		a.inFlight = false
		a.finishFlush(res)
	}

	a.generation++
	a.startFlush(a.generation, drained, pkgstorage.TriggerSize, "", false)
	return nil
}

// startFlush writes one generation in the background. An empty key means
// resolve the partition from the flush time; a redrive passes the key of
// the original attempt so it overwrites the same object.
func (a *shardActor) startFlush(generation uint64, drained pkgbuffer.Drained, trigger pkgstorage.FlushTrigger, key string, redrive bool) {
	a.inFlight = true

	go func() {
		var err error
		if redrive {
			err = a.pipeline.writer.FlushAt(context.Background(), key, a.shard, generation, drained, trigger)
		} else {
			key, err = a.pipeline.writer.Flush(context.Background(), a.shard, generation, drained, trigger)
		}
		a.flushDone <- flushResult{
			generation: generation,
			drained:    drained,
			trigger:    trigger,
			key:        key,
			redrive:    redrive,
			err:        err,
		}
	}()
}

// finishFlush parks a failed generation for redrive and surfaces the
// delivery failure. A successful redrive reports the remaining parked
// count so health can recover.
func (a *shardActor) finishFlush(res flushResult) {
	if res.err == nil {
		if res.redrive {
			n := a.pipeline.parkedTotal.Add(-1)
			a.pipeline.logger.Info("parked generation delivered",
				"shard", a.shard.String(),
				"generation", res.generation,
				"parked", n,
			)
			select {
			case a.pipeline.recoveries <- int(n):
			default:
			}
		}
		return
	}

	a.parked = append(a.parked, res)
	if !res.redrive {
		a.pipeline.parkedTotal.Add(1)
	}
	a.pipeline.logger.Error("delivery failed, generation parked for redrive",
		"shard", a.shard.String(),
		"generation", res.generation,
		"error", res.err,
	)

	select {
	case a.pipeline.failures <- res.err:
	default:
	}
}

// maybeRedrive retries the oldest parked generation at its original key.
func (a *shardActor) maybeRedrive() {
	if a.inFlight || len(a.parked) == 0 {
		return
	}

	res := a.parked[0]
	a.parked = a.parked[1:]
	a.startFlush(res.generation, res.drained, res.trigger, res.key, true)
}

// shutdown flushes whatever is buffered and drains the in-flight flush.
func (a *shardActor) shutdown() {
	if a.inFlight {
		res := <-a.flushDone
		a.inFlight = false
		a.finishFlush(res)
	}
	a.flushNow(pkgstorage.TriggerStop)
	if a.inFlight {
		res := <-a.flushDone
		a.inFlight = false
		a.finishFlush(res)
	}

	if n := len(a.parked); n > 0 {
		a.pipeline.logger.Error("shutting down with undelivered generations",
			"shard", a.shard.String(),
			"parked", n,
		)
	}
}
