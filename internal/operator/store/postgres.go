package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gemma/internal/operator/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

const operatorColumns = `id, username, password_hash, display_name, status, created_at, updated_at`

// PostgresStore persists operators in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, operator *models.Operator) error {
	query := `
		INSERT INTO operators (` + operatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(operator.ID),
		operator.Username,
		operator.PasswordHash,
		operator.DisplayName,
		string(operator.Status),
		operator.CreatedAt,
		operator.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators WHERE id = $1`
	return scanOperator(s.db.QueryRowContext(ctx, query, uuid.UUID(operatorID)))
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators WHERE lower(username) = lower($1)`
	return scanOperator(s.db.QueryRowContext(ctx, query, username))
}

func (s *PostgresStore) SetStatus(ctx context.Context, operatorID id.OperatorID, status models.Status) error {
	query := `UPDATE operators SET status = $2, updated_at = now() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(operatorID), string(status))
	if err != nil {
		return fmt.Errorf("update operator status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operator status: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperator(row rowScanner) (*models.Operator, error) {
	var (
		operator models.Operator
		rawID    uuid.UUID
		status   string
	)
	err := row.Scan(
		&rawID,
		&operator.Username,
		&operator.PasswordHash,
		&operator.DisplayName,
		&status,
		&operator.CreatedAt,
		&operator.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan operator: %w", err)
	}
	operator.ID = id.OperatorID(rawID)
	operator.Status = models.Status(status)
	return &operator, nil
}
