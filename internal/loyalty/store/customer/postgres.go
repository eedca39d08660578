package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/platform/tx"
)

const customerColumns = `id, name, phone, email, points, referral_code, referred_by,
	referral_count, referral_points_earned, status, created_at, updated_at`

// PostgresStore persists customers in PostgreSQL. Queries honor a
// transaction carried in the context so the ledger service can span customer
// and transaction writes atomically.
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

func (s *PostgresStore) Create(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var referredBy any
	if customer.ReferredBy != nil {
		referredBy = uuid.UUID(*customer.ReferredBy)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(customer.ID),
		customer.Name,
		customer.Phone,
		nullString(customer.Email),
		customer.Points,
		string(customer.ReferralCode),
		referredBy,
		customer.ReferralCount,
		customer.ReferralPointsEarned,
		string(customer.Status),
		customer.CreatedAt,
		customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	customer, err := scanCustomer(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(customerID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find customer by id: %w", err)
	}
	return customer, nil
}

func (s *PostgresStore) FindByReferralCode(ctx context.Context, code id.ReferralCode) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE referral_code = $1`
	customer, err := scanCustomer(s.execer(ctx).QueryRowContext(ctx, query, string(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find customer by referral code: %w", err)
	}
	return customer, nil
}

// Execute locks the row with SELECT FOR UPDATE, runs validate then mutate,
// and writes the result back before the transaction releases the lock.
func (s *PostgresStore) Execute(ctx context.Context, customerID id.CustomerID, validate func(*models.Customer) error, mutate func(*models.Customer)) (*models.Customer, error) {
	var result *models.Customer
	err := tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		execer := s.execer(ctx)

		query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1 FOR UPDATE`
		customer, err := scanCustomer(execer.QueryRowContext(ctx, query, uuid.UUID(customerID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock customer: %w", err)
		}

		if err := validate(customer); err != nil {
			return err
		}
		mutate(customer)

		var referredBy any
		if customer.ReferredBy != nil {
			referredBy = uuid.UUID(*customer.ReferredBy)
		}
		_, err = execer.ExecContext(ctx, `
			UPDATE customers SET
				name = $2, phone = $3, email = $4, points = $5,
				referral_code = $6, referred_by = $7, referral_count = $8,
				referral_points_earned = $9, status = $10, updated_at = $11
			WHERE id = $1
		`,
			uuid.UUID(customer.ID),
			customer.Name,
			customer.Phone,
			nullString(customer.Email),
			customer.Points,
			string(customer.ReferralCode),
			referredBy,
			customer.ReferralCount,
			customer.ReferralPointsEarned,
			string(customer.Status),
			customer.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
		result = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]*models.Customer, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+customerColumns+`,
			CASE WHEN lower(name) LIKE $1 || '%'
				OR phone LIKE $1 || '%'
				OR lower(email) LIKE $1 || '%' THEN 0 ELSE 1 END AS rank
		FROM customers
		WHERE lower(name) LIKE '%' || $1 || '%'
			OR phone LIKE '%' || $1 || '%'
			OR lower(email) LIKE '%' || $1 || '%'
		ORDER BY rank, name
		LIMIT $2
	`, needle, limit)
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		customer, err := scanCustomerRow(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, customer)
	}
	return out, rows.Err()
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Customer, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		customer, err := scanCustomerRow(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, customer)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	return scanCustomerRow(row, false)
}

func scanCustomerRow(row rowScanner, withRank bool) (*models.Customer, error) {
	var (
		customer   models.Customer
		customerID uuid.UUID
		email      sql.NullString
		code       string
		referredBy uuid.NullUUID
		status     string
		rank       int
	)
	dest := []any{
		&customerID, &customer.Name, &customer.Phone, &email, &customer.Points,
		&code, &referredBy, &customer.ReferralCount, &customer.ReferralPointsEarned,
		&status, &customer.CreatedAt, &customer.UpdatedAt,
	}
	if withRank {
		dest = append(dest, &rank)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	customer.ID = id.CustomerID(customerID)
	customer.Email = email.String
	customer.ReferralCode = id.ReferralCode(code)
	customer.Status = models.CustomerStatus(status)
	if referredBy.Valid {
		ref := id.CustomerID(referredBy.UUID)
		customer.ReferredBy = &ref
	}
	return &customer, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
