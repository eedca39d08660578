package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/platform/tx"
)

// PostgresStore persists ledger rows in PostgreSQL. The table is append
// only; no update or delete statements exist here on purpose.
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

func (s *PostgresStore) Append(ctx context.Context, row *models.Transaction) error {
	var operatorID any
	if !row.OperatorID.IsNil() {
		operatorID = uuid.UUID(row.OperatorID)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO transactions (id, customer_id, delta, previous_balance, new_balance, reason, operator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.UUID(row.ID),
		uuid.UUID(row.CustomerID),
		row.Delta,
		row.PreviousBalance,
		row.NewBalance,
		string(row.Reason),
		operatorID,
		row.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT id, customer_id, delta, previous_balance, new_balance, reason, operator_id, created_at
		FROM transactions
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
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var (
			row        models.Transaction
			txID       uuid.UUID
			custID     uuid.UUID
			reason     string
			operatorID uuid.NullUUID
		)
		if err := rows.Scan(&txID, &custID, &row.Delta, &row.PreviousBalance, &row.NewBalance, &reason, &operatorID, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		row.ID = id.TransactionID(txID)
		row.CustomerID = id.CustomerID(custID)
		row.Reason = models.Reason(reason)
		if operatorID.Valid {
			row.OperatorID = id.OperatorID(operatorID.UUID)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasQualifyingSale(ctx context.Context, customerID id.CustomerID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE customer_id = $1 AND reason = $2 AND delta > 0
		)
	`, uuid.UUID(customerID), string(models.ReasonSale)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check qualifying sale: %w", err)
	}
	return exists, nil
}
