package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jittakal/convbuffer/internal/validator"
	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

// bufferAdder is the part of the buffer manager the ingest loop uses.
type bufferAdder interface {
	AddMessage(msg message.BufferedMessage, onFlush pkgbuffer.FlushFunc) bool
}

type committer interface {
	Commit(ctx context.Context, event *message.ConsumedEvent) error
}

type ingestMetrics interface {
	IncMessagesRejected(topic, reason string)
	IncMessagesBuffered(accepted bool)
}

// ingester moves consumed events into the conversation buffer. Offsets are
// committed once the buffer accepted the message; invalid events are
// committed and skipped.
type ingester struct {
	validator *validator.CloudEventsValidator
	buffers   bufferAdder
	commits   committer
	onFlush   pkgbuffer.FlushFunc
	logger    *slog.Logger
	metrics   ingestMetrics
	now       func() time.Time
}

// run processes events until ctx is done, the event channel closes or the
// buffer stops accepting messages.
func (i *ingester) run(ctx context.Context, events <-chan *message.ConsumedEvent, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			i.logger.Info("context cancelled, stopping ingestion")
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			i.logger.Error("consumer error", "error", err)
		case ev, ok := <-events:
			if !ok {
				i.logger.Info("event channel closed")
				return nil
			}
			if !i.handle(ctx, ev) {
				i.logger.Warn("buffer manager closed, stopping ingestion")
				return nil
			}
		}
	}
}

// handle processes one event. It returns false when the buffer no longer
// accepts messages; that event is left uncommitted.
func (i *ingester) handle(ctx context.Context, ev *message.ConsumedEvent) bool {
	data, err := i.validator.ValidateInbound(ev.Event)
	if err != nil {
		i.logger.Warn("invalid message event",
			"topic", ev.Metadata.Topic,
			"partition", ev.Metadata.Partition,
			"offset", ev.Metadata.Offset,
			"error", err,
		)
		i.metrics.IncMessagesRejected(ev.Metadata.Topic, "invalid")
		i.commit(ctx, ev)
		return true
	}

	fallback := ev.Metadata.Timestamp
	if fallback.IsZero() {
		fallback = i.now()
	}
	msg := data.ToBufferedMessage(ev.Event, fallback)

	accepted := i.buffers.AddMessage(msg, i.onFlush)
	i.metrics.IncMessagesBuffered(accepted)
	if !accepted {
		return false
	}

	i.logger.Debug("message buffered",
		"key", msg.Key(),
		"message_id", msg.ID,
		"offset", ev.Metadata.Offset,
	)
	i.commit(ctx, ev)
	return true
}

func (i *ingester) commit(ctx context.Context, ev *message.ConsumedEvent) {
	if err := i.commits.Commit(ctx, ev); err != nil {
		i.logger.Error("failed to commit offset",
			"topic", ev.Metadata.Topic,
			"partition", ev.Metadata.Partition,
			"offset", ev.Metadata.Offset,
			"error", err,
		)
	}
}
