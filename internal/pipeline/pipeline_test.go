package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jittakal/loglake/internal/buffer"
	apperrors "github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/internal/ingest"
	"github.com/jittakal/loglake/internal/observability"
	intprojection "github.com/jittakal/loglake/internal/projection"
	"github.com/jittakal/loglake/internal/storage"
	"github.com/jittakal/loglake/pkg/consumer"
	"github.com/jittakal/loglake/pkg/projection"
	"github.com/jittakal/loglake/pkg/record"
)

// pipeStore is a concurrency-safe in-memory ObjectStore. Flush goroutines
// write to it from outside the actor.
type pipeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts int
}

func newPipeStore() *pipeStore {
	return &pipeStore{objects: make(map[string][]byte)}
}

func (s *pipeStore) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts > 0 {
		s.failPuts--
		return &apperrors.StorageError{Operation: "put", Key: key, Err: stderrors.New("backend unavailable")}
	}
	s.objects[key] = append([]byte(nil), body...)
	return nil
}

func (s *pipeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, apperrors.ErrObjectNotFound
	}
	return body, nil
}

func (s *pipeStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *pipeStore) Close() error { return nil }

func (s *pipeStore) snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}

type fakeDLQ struct {
	mu        sync.Mutex
	published []string
}

func (d *fakeDLQ) Publish(_ context.Context, batch record.Batch, _ int64, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.published = append(d.published, batch.Shard.String()+":"+reason)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

func newTestPipeline(store *pipeStore, dlq consumer.DLQPublisher, policy storage.PolicyConfig) *Pipeline {
	return newTestPipelineWithBuffers(store, dlq, policy, buffer.NewManager(1<<20, 10000))
}

func newTestPipelineWithBuffers(store *pipeStore, dlq consumer.DLQPublisher, policy storage.PolicyConfig, buffers *buffer.Manager) *Pipeline {
	logger := observability.NewNopLogger()
	spec := projection.DefaultSpec("logs/")
	writer := storage.NewFlushWriter(
		store,
		intprojection.NewTimeResolver(spec),
		spec,
		storage.WriterConfig{
			Backend:        "memory",
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			WriteTimeout:   time.Second,
		},
		logger,
		nil,
	)

	return New(
		ingest.NewBatchReceiver(logger),
		ingest.NewRecordFramer(logger, nil),
		storage.NewThresholdPolicy(policy),
		writer,
		buffers,
		dlq,
		Config{TickInterval: 10 * time.Millisecond},
		logger,
		nil,
	)
}

func dataEnvelope(id, message string) string {
	return `{"messageType":"DATA_MESSAGE","logGroup":"/svc/a","logStream":"s-1","logEvents":[` +
		`{"id":"` + id + `","timestamp":1705312800000,"message":"` + message + `"}]}`
}

func consumedBatch(payload string, committed *bool) *consumer.ConsumedBatch {
	return &consumer.ConsumedBatch{
		Batch: record.Batch{
			Payload:   []byte(payload),
			Codec:     record.CodecNone,
			Shard:     record.ShardID{Topic: "log-batches", Partition: 0},
			ArrivedAt: time.Now().UTC(),
		},
		Offset:     42,
		ReceivedAt: time.Now().UTC(),
		CommitFunc: func() error {
			*committed = true
			return nil
		},
	}
}

func runPipeline(t *testing.T, p *Pipeline, batches chan *consumer.ConsumedBatch) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(context.Background(), batches); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	return done
}

func gunzip(t *testing.T, body []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	return string(raw)
}

func TestPipeline_IngestToObject(t *testing.T) {
	store := newPipeStore()
	// No size or age trigger: the shutdown flush writes the object.
	p := newTestPipeline(store, nil, storage.PolicyConfig{})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(dataEnvelope("e-1", "ERROR boom")+dataEnvelope("e-2", "all fine"), &committed)
	close(batches)
	<-done

	objects := store.snapshot()
	if len(objects) != 1 {
		t.Fatalf("len(objects) = %d, want 1", len(objects))
	}
	for key, body := range objects {
		if !strings.HasPrefix(key, "logs/year=") {
			t.Errorf("key = %q, want logs/year=... prefix", key)
		}
		if !strings.Contains(key, "records_log-batches-0_00000001.json.gz") {
			t.Errorf("key = %q, want deterministic object name", key)
		}
		content := gunzip(t, body)
		if !strings.Contains(content, "ERROR boom") || !strings.Contains(content, "all fine") {
			t.Errorf("object content missing records: %q", content)
		}
		if got := strings.Count(content, "\n"); got != 2 {
			t.Errorf("newline count = %d, want 2 (one per record)", got)
		}
	}
	if !committed {
		t.Error("offset was not committed")
	}
}

func TestPipeline_SizeTriggerFlushesBeforeShutdown(t *testing.T) {
	store := newPipeStore()
	p := newTestPipeline(store, nil, storage.PolicyConfig{MaxBufferBytes: 1})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(dataEnvelope("e-1", "first"), &committed)

	// The size trigger fires on receipt, not at shutdown.
	deadline := time.After(2 * time.Second)
	for len(store.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("size-triggered flush never landed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(batches)
	<-done

	if got := len(store.snapshot()); got != 1 {
		t.Errorf("len(objects) = %d, want 1", got)
	}
}

func TestPipeline_MalformedBatchGoesToDLQ(t *testing.T) {
	store := newPipeStore()
	dlq := &fakeDLQ{}
	p := newTestPipeline(store, dlq, storage.PolicyConfig{})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	bad := consumedBatch("not json at all", &committed)
	bad.Batch.Codec = record.CodecGzip // declared gzip, payload is not
	batches <- bad
	close(batches)
	<-done

	if len(store.snapshot()) != 0 {
		t.Error("malformed batch must not produce an object")
	}
	if len(dlq.published) != 1 {
		t.Fatalf("DLQ publishes = %d, want 1", len(dlq.published))
	}
	if dlq.published[0] != "log-batches-0:receive" {
		t.Errorf("DLQ entry = %q", dlq.published[0])
	}
	if !committed {
		t.Error("malformed batch offset must still be committed")
	}
}

func TestPipeline_FailedDeliveryIsParkedAndRedriven(t *testing.T) {
	store := newPipeStore()
	// First flush exhausts both attempts; the tick redrive then succeeds.
	store.failPuts = 2
	p := newTestPipeline(store, nil, storage.PolicyConfig{MaxBufferBytes: 1})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(dataEnvelope("e-1", "persist me"), &committed)

	select {
	case err := <-p.Failures():
		var deliveryErr *apperrors.DeliveryError
		if !stderrors.As(err, &deliveryErr) {
			t.Fatalf("failure = %v, want *DeliveryError", err)
		}
		if deliveryErr.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", deliveryErr.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery failure surfaced")
	}

	// The parked generation is retried on the tick until it lands.
	deadline := time.After(2 * time.Second)
	for len(store.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("redrive never landed the parked generation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(batches)
	<-done

	objects := store.snapshot()
	if len(objects) != 1 {
		t.Fatalf("len(objects) = %d, want 1", len(objects))
	}
	for _, body := range objects {
		if !strings.Contains(gunzip(t, body), "persist me") {
			t.Error("redriven object lost the record")
		}
	}
}

func TestPipeline_OversizedRecordFlushedAlone(t *testing.T) {
	store := newPipeStore()
	// Buffer cap equal to the flush threshold, both far smaller than one
	// framed record.
	p := newTestPipelineWithBuffers(store, nil,
		storage.PolicyConfig{MaxBufferBytes: 100},
		buffer.NewManager(100, 10000),
	)

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(dataEnvelope("big-1", strings.Repeat("x", 300)), &committed)
	close(batches)
	<-done

	objects := store.snapshot()
	if len(objects) != 1 {
		t.Fatalf("len(objects) = %d, want 1", len(objects))
	}
	for _, body := range objects {
		if !strings.Contains(gunzip(t, body), strings.Repeat("x", 300)) {
			t.Error("oversized record missing from object")
		}
	}
	if !committed {
		t.Error("offset was not committed")
	}
}

func TestPipeline_RedriveRecoveryClearsParkedCount(t *testing.T) {
	store := newPipeStore()
	store.failPuts = 2
	p := newTestPipelineWithBuffers(store, nil,
		storage.PolicyConfig{MaxBufferBytes: 1},
		buffer.NewManager(1<<20, 10000),
	)

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(dataEnvelope("e-1", "persist me"), &committed)

	select {
	case <-p.Failures():
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery failure surfaced")
	}
	if got := p.ParkedGenerations(); got != 1 {
		t.Errorf("ParkedGenerations() = %d, want 1", got)
	}

	select {
	case n := <-p.Recoveries():
		if n != 0 {
			t.Errorf("recovery count = %d, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery signalled after redrive")
	}
	if got := p.ParkedGenerations(); got != 0 {
		t.Errorf("ParkedGenerations() = %d, want 0", got)
	}

	close(batches)
	<-done
}

func TestPipeline_ControlBatchProducesNothing(t *testing.T) {
	store := newPipeStore()
	p := newTestPipeline(store, nil, storage.PolicyConfig{})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var committed bool
	batches <- consumedBatch(`{"messageType":"CONTROL_MESSAGE"}`, &committed)
	close(batches)
	<-done

	if len(store.snapshot()) != 0 {
		t.Error("control batch must not produce an object")
	}
	if !committed {
		t.Error("control batch offset must be committed")
	}
}

func TestPipeline_ShardsGetSeparateObjects(t *testing.T) {
	store := newPipeStore()
	p := newTestPipeline(store, nil, storage.PolicyConfig{})

	batches := make(chan *consumer.ConsumedBatch)
	done := runPipeline(t, p, batches)

	var c0, c1 bool
	b0 := consumedBatch(dataEnvelope("e-1", "shard zero"), &c0)
	b1 := consumedBatch(dataEnvelope("e-2", "shard one"), &c1)
	b1.Batch.Shard.Partition = 1
	batches <- b0
	batches <- b1
	close(batches)
	<-done

	objects := store.snapshot()
	if len(objects) != 2 {
		t.Fatalf("len(objects) = %d, want 2", len(objects))
	}
	var sawZero, sawOne bool
	for key := range objects {
		if strings.Contains(key, "records_log-batches-0_") {
			sawZero = true
		}
		if strings.Contains(key, "records_log-batches-1_") {
			sawOne = true
		}
	}
	if !sawZero || !sawOne {
		t.Errorf("object keys = %v, want one per shard", objects)
	}
}
