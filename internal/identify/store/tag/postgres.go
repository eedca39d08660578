package tag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gemma/internal/identify/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/platform/tx"
)

// PostgresStore persists the tag registry in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) Register(ctx context.Context, tag *models.Tag) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO nfc_tags (uid, customer_id, active, created_at)
		VALUES ($1, $2, $3, $4)
	`, tag.UID, uuid.UUID(tag.CustomerID), tag.Active, tag.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("register tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUID(ctx context.Context, uid string) (*models.Tag, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT uid, customer_id, active, created_at
		FROM nfc_tags
		WHERE uid = $1
	`, uid)
	return scanTag(row)
}

func (s *PostgresStore) SetActive(ctx context.Context, uid string, active bool) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE nfc_tags SET active = $2 WHERE uid = $1
	`, uid, active)
	if err != nil {
		return fmt.Errorf("set tag active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tag active: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]*models.Tag, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT uid, customer_id, active, created_at
		FROM nfc_tags
		WHERE customer_id = $1
		ORDER BY created_at
	`, uuid.UUID(customerID))
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (*models.Tag, error) {
	var (
		tag        models.Tag
		customerID uuid.UUID
	)
	err := row.Scan(&tag.UID, &customerID, &tag.Active, &tag.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tag: %w", err)
	}
	tag.CustomerID = id.CustomerID(customerID)
	return &tag, nil
}
