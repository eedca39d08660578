package accesslog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"gemma/internal/identify/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/tx"
)

// PostgresStore persists access-log rows in PostgreSQL. Append only.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry *models.AccessEntry) error {
	var terminalID, deviceInfo any
	if entry.TerminalID != "" {
		terminalID = string(entry.TerminalID)
	}
	if entry.DeviceInfo != "" {
		deviceInfo = entry.DeviceInfo
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO access_log (id, tag_uid, customer_id, terminal_id, outcome, device_info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(entry.ID),
		entry.TagUID,
		uuid.UUID(entry.CustomerID),
		terminalID,
		string(entry.Outcome),
		deviceInfo,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append access entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.AccessEntry, error) {
	query := `
		SELECT id, tag_uid, customer_id, terminal_id, outcome, device_info, created_at
		FROM access_log
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`
	args := []any{uuid.UUID(customerID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AccessEntry
	for rows.Next() {
		var (
			entry      models.AccessEntry
			entryID    uuid.UUID
			custID     uuid.NullUUID
			terminalID sql.NullString
			outcome    string
			deviceInfo sql.NullString
		)
		if err := rows.Scan(&entryID, &entry.TagUID, &custID, &terminalID, &outcome, &deviceInfo, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access entry: %w", err)
		}
		entry.ID = id.AccessEntryID(entryID)
		if custID.Valid {
			entry.CustomerID = id.CustomerID(custID.UUID)
		}
		entry.TerminalID = id.TerminalID(terminalID.String)
		entry.Outcome = models.AccessOutcome(outcome)
		entry.DeviceInfo = deviceInfo.String
		out = append(out, &entry)
	}
	return out, rows.Err()
}
