package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "gemma/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring broker implementations.
type Worker struct {
	store audit.Store
	inbox <-chan audit.Event
}

func NewWorker(store audit.Store, inbox <-chan audit.Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}

// OutboxSource is the slice of the outbox store the relay needs.
type OutboxSource interface {
	PendingBatch(ctx context.Context, limit int) ([]audit.OutboxRow, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// BrokerPublisher delivers a serialized audit event to the broker.
type BrokerPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Relay drains the transactional outbox into the broker. Events are written
// to the outbox inside the domain transaction, so the relay is the only
// component that talks to the broker for audit traffic.
type Relay struct {
	source    OutboxSource
	publisher BrokerPublisher
	logger    *slog.Logger
	pollGap   time.Duration
	batchSize int
}

type RelayOption func(*Relay)

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(source OutboxSource, publisher BrokerPublisher, pollGap time.Duration, opts ...RelayOption) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		logger:    slog.Default(),
		pollGap:   pollGap,
		batchSize: 100,
	}
	if r.pollGap <= 0 {
		r.pollGap = time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollGap)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.Error("audit relay drain failed", "error", err)
			}
		}
	}
}

// drain publishes one batch. Rows that fail stay unpublished and are retried
// on the next tick, so delivery is at-least-once.
func (r *Relay) drain(ctx context.Context) error {
	batch, err := r.source.PendingBatch(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(batch))
	for _, row := range batch {
		if err := r.publisher.Publish(ctx, row.Category, row.Payload); err != nil {
			r.logger.Warn("audit relay publish failed", "row_id", row.ID, "error", err)
			break
		}
		published = append(published, row.ID)
	}
	if len(published) == 0 {
		return nil
	}
	return r.source.MarkPublished(ctx, published, time.Now().UTC())
}
