// Package archive persists messages the buffer gave up on.
//
// Dropped batches arrive through the buffer's OnDrop hook, which runs on
// the buffer's own goroutines and must not block. The Archiver queues
// them and a fixed set of workers encodes each batch to object storage
// and forwards it to the dead letter topic.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jittakal/convbuffer/pkg/consumer"
	"github.com/jittakal/convbuffer/pkg/message"
	"github.com/jittakal/convbuffer/pkg/storage"
)

const defaultWriteTimeout = 30 * time.Second

// Metrics defines the metrics the archiver reports.
type Metrics interface {
	SetArchiveQueueDepth(depth int)
	IncArchiveOverflow()
}

// Config configures the archiver.
type Config struct {
	QueueSize    int
	Workers      int
	Format       message.FileFormat
	WriteTimeout time.Duration
}

// Archiver drains dropped batches to storage and the DLQ.
// Either sink may be nil.
type Archiver struct {
	config  Config
	writer  storage.Writer
	router  storage.Router
	dlq     consumer.DLQPublisher
	logger  *slog.Logger
	metrics Metrics

	queue chan message.DroppedBatch
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New creates an archiver. Call Start to launch the workers.
func New(
	config Config,
	writer storage.Writer,
	router storage.Router,
	dlq consumer.DLQPublisher,
	logger *slog.Logger,
	metrics Metrics,
) (*Archiver, error) {
	if config.QueueSize < 1 {
		return nil, fmt.Errorf("archive queue size must be at least 1, got %d", config.QueueSize)
	}
	if config.Workers < 1 {
		return nil, fmt.Errorf("archive workers must be at least 1, got %d", config.Workers)
	}
	if writer != nil && router == nil {
		return nil, errors.New("archive router is required when a writer is set")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	return &Archiver{
		config:  config,
		writer:  writer,
		router:  router,
		dlq:     dlq,
		logger:  logger.With("component", "archiver"),
		metrics: metrics,
		queue:   make(chan message.DroppedBatch, config.QueueSize),
	}, nil
}

// Start launches the worker goroutines.
func (a *Archiver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started || a.closed {
		return
	}
	a.started = true

	for i := 0; i < a.config.Workers; i++ {
		a.wg.Add(1)
		go a.work(i)
	}

	a.logger.Info("archiver started",
		"workers", a.config.Workers,
		"queue_size", a.config.QueueSize,
		"format", a.config.Format,
	)
}

// OnDrop queues a dropped batch without blocking. When the queue is full
// the batch is logged and counted as overflow.
func (a *Archiver) OnDrop(batch message.DroppedBatch) {
	if len(batch.Messages) == 0 {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.overflow(batch, "archiver closed")
		return
	}

	select {
	case a.queue <- batch:
		a.reportDepth()
	default:
		a.overflow(batch, "archive queue full")
	}
}

func (a *Archiver) overflow(batch message.DroppedBatch, cause string) {
	if a.metrics != nil {
		a.metrics.IncArchiveOverflow()
	}

	ids := make([]string, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		ids = append(ids, m.ID)
	}
	a.logger.Error("dropped batch not archived",
		"cause", cause,
		"key", batch.Key,
		"reason", batch.Reason,
		"message_ids", ids,
	)
}

func (a *Archiver) work(id int) {
	defer a.wg.Done()

	for batch := range a.queue {
		a.reportDepth()
		a.archive(batch)
	}

	a.logger.Debug("archive worker stopped", "worker", id)
}

// archive writes one batch to storage and then to the DLQ. A failure in
// one sink does not skip the other.
func (a *Archiver) archive(batch message.DroppedBatch) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout)
	defer cancel()

	if a.writer != nil {
		instanceID, _ := batch.Key.Parts()
		path := a.router.Route(batch.Reason, instanceID, batch.DroppedAt)

		if _, err := a.writer.Write(ctx, batch.Records(), path, a.config.Format); err != nil {
			a.logger.Error("failed to archive dropped batch",
				"key", batch.Key,
				"reason", batch.Reason,
				"message_count", len(batch.Messages),
				"path", path,
				"error", err,
			)
		}
	}

	if a.dlq != nil {
		if err := a.dlq.Publish(ctx, batch); err != nil {
			a.logger.Error("failed to publish dropped batch to DLQ",
				"key", batch.Key,
				"reason", batch.Reason,
				"error", err,
			)
		}
	}
}

func (a *Archiver) reportDepth() {
	if a.metrics != nil {
		a.metrics.SetArchiveQueueDepth(len(a.queue))
	}
}

// Close stops accepting batches and waits for queued ones to be written,
// or for ctx to expire.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	close(a.queue)
	a.mu.Unlock()

	if !started {
		// Nothing will drain the queue.
		for batch := range a.queue {
			a.overflow(batch, "archiver never started")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("archiver drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archiver drain: %w", ctx.Err())
	}
}
