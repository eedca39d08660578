package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "gemma/pkg/domain"
	audit "gemma/pkg/platform/audit"
	txcontext "gemma/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the same transaction as the
// domain write and published to Kafka by the relay worker, so an audit row
// exists if and only if the business mutation committed.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// payload is the JSON structure published to Kafka. Field names match
// audit.Event so the consumer side can decode without a mapping layer.
type payload struct {
	ID         string `json:"ID"`
	Category   string `json:"Category"`
	Timestamp  string `json:"Timestamp"`
	CustomerID string `json:"CustomerID,omitempty"`
	OperatorID string `json:"OperatorID,omitempty"`
	TerminalID string `json:"TerminalID,omitempty"`
	Action     string `json:"Action"`
	Subject    string `json:"Subject,omitempty"`
	Reason     string `json:"Reason,omitempty"`
	DeviceInfo string `json:"DeviceInfo,omitempty"`
	RequestID  string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action; eventCategories is the source of
	// truth even when the caller set one.
	category := audit.AuditEvent(event.Action).Category()

	p := payload{
		ID:         eventID.String(),
		Category:   string(category),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		TerminalID: event.TerminalID,
		Action:     event.Action,
		Subject:    event.Subject,
		Reason:     event.Reason,
		DeviceInfo: event.DeviceInfo,
		RequestID:  event.RequestID,
	}
	if !event.CustomerID.IsNil() {
		p.CustomerID = event.CustomerID.String()
	}
	if !event.OperatorID.IsNil() {
		p.OperatorID = event.OperatorID.String()
	}

	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, category, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, eventID, string(category), event.Action, payloadBytes, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit outbox row: %w", err)
	}
	return nil
}

// ListByCustomer reads back events for one customer. Outbox rows are kept
// after publishing (published_at set), so this also serves as a local audit
// trail for support queries.
func (s *Store) ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		WHERE payload->>'CustomerID' = $1
		ORDER BY created_at
	`, customerID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
		events = append(events, p.toEvent())
	}
	return events, rows.Err()
}

// PendingBatch returns up to limit unpublished outbox rows, oldest first.
// Used by the relay worker.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]audit.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox batch: %w", err)
	}
	defer rows.Close()

	var batch []audit.OutboxRow
	for rows.Next() {
		var row audit.OutboxRow
		if err := rows.Scan(&row.ID, &row.Category, &row.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

// MarkPublished stamps rows that made it to the broker.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2)
	`, at, ids)
	if err != nil {
		return fmt.Errorf("mark outbox rows published: %w", err)
	}
	return nil
}

func (p payload) toEvent() audit.Event {
	event := audit.Event{
		Category:   audit.EventCategory(p.Category),
		TerminalID: p.TerminalID,
		Action:     p.Action,
		Subject:    p.Subject,
		Reason:     p.Reason,
		DeviceInfo: p.DeviceInfo,
		RequestID:  p.RequestID,
	}
	if t, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		event.Timestamp = t
	}
	if u, err := uuid.Parse(p.CustomerID); err == nil {
		event.CustomerID = id.CustomerID(u)
	}
	if u, err := uuid.Parse(p.OperatorID); err == nil {
		event.OperatorID = id.OperatorID(u)
	}
	return event
}
