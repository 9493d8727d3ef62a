package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Recorder receives relay measurements. pkg/metrics provides the Prometheus
// implementation.
type Recorder interface {
	SetPendingDepth(count int64)
	IncPublished()
	IncPublishFailures()
	ObservePublishDuration(seconds float64)
	ObserveBatchSize(size int)
	ObservePollDuration(seconds float64)
}

// Worker polls the outbox table and publishes pending entries.
type Worker struct {
	store        Store
	publisher    Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      Recorder
	logger       types.Logger
	clock        types.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithTopic sets the topic for publishing.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithBatchSize sets the maximum number of entries fetched per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention sets how long processed entries are kept. Zero keeps them.
func WithRetention(retention time.Duration) Option {
	return func(w *Worker) {
		w.retention = retention
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Recorder) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock sets the clock used for processed timestamps.
func WithClock(clock types.Clock) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// NewWorker creates a relay worker.
func NewWorker(store Store, publisher Publisher, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		store:        store,
		publisher:    publisher,
		topic:        "tenancy.lifecycle.events",
		batchSize:    100,
		pollInterval: time.Second,
		logger:       types.NopLogger{},
		clock:        types.SystemClock{},
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			if _, err := w.Poll(w.ctx); err != nil {
				w.logger.Error("outbox poll failed", err)
			}
			w.cleanup(w.ctx)
		}
	}
}

// Poll fetches one batch and publishes it. Failed entries stay pending and
// are retried on the next poll. It returns how many entries were published.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	start := time.Now()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	published := 0
	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			w.logger.Error("outbox publish failed", err, "id", entry.ID, "event_type", entry.EventType)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			if markErr := w.store.MarkFailed(ctx, entry.ID, err); markErr != nil {
				w.logger.Error("outbox mark failed", markErr, "id", entry.ID)
			}
			continue
		}
		if err := w.store.MarkProcessed(ctx, entry.ID, w.clock.Now()); err != nil {
			// published but not marked: the consumer sees a duplicate keyed by entry id
			w.logger.Error("outbox mark processed failed", err, "id", entry.ID)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.IncPublished()
		}
	}

	if w.metrics != nil {
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
	}
	return published, nil
}

func (w *Worker) publishEntry(ctx context.Context, entry *Entry) error {
	start := time.Now()
	value, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	msg := Message{
		Topic: w.topic,
		Key:   []byte(entry.ID.String()),
		Value: value,
		Headers: map[string]string{
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
		},
	}
	if err := w.publisher.Publish(ctx, msg); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	if _, err := w.store.DeleteProcessedBefore(ctx, w.clock.Now().Add(-w.retention)); err != nil {
		w.logger.Error("outbox cleanup failed", err)
	}
}

// drain publishes what is left during shutdown, bounded by a short timeout.
func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		published, err := w.Poll(ctx)
		if err != nil {
			w.logger.Error("outbox drain failed", err)
			return
		}
		if published == 0 {
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMetrics refreshes the pending depth gauge.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}
	w.metrics.SetPendingDepth(count)
	return nil
}
