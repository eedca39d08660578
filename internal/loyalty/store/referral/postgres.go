package referral

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

const referralColumns = `id, referrer_id, referred_id, status, points_awarded, created_at, completed_at`

// PostgresStore persists referrals in PostgreSQL. A unique index on
// referred_id enforces the one-referral-per-customer rule.
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

func (s *PostgresStore) Create(ctx context.Context, referral *models.Referral) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(referral.ID),
		uuid.UUID(referral.ReferrerID),
		uuid.UUID(referral.ReferredID),
		string(referral.Status),
		referral.PointsAwarded,
		referral.CreatedAt,
		referral.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, referralID id.ReferralID) (*models.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`
	referral, err := scanReferral(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(referralID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find referral by id: %w", err)
	}
	return referral, nil
}

func (s *PostgresStore) FindPendingByReferred(ctx context.Context, referredID id.CustomerID) (*models.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referred_id = $1 AND status = $2`
	referral, err := scanReferral(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(referredID), string(models.ReferralStatusPending)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find pending referral: %w", err)
	}
	return referral, nil
}

func (s *PostgresStore) FindByReferred(ctx context.Context, referredID id.CustomerID) (*models.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referred_id = $1`
	referral, err := scanReferral(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(referredID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find referral by referred: %w", err)
	}
	return referral, nil
}

// Execute locks the referral row with SELECT FOR UPDATE, runs validate then
// mutate, and writes the result back before releasing the lock.
func (s *PostgresStore) Execute(ctx context.Context, referralID id.ReferralID, validate func(*models.Referral) error, mutate func(*models.Referral)) (*models.Referral, error) {
	var result *models.Referral
	err := tx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		execer := s.execer(ctx)

		query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1 FOR UPDATE`
		referral, err := scanReferral(execer.QueryRowContext(ctx, query, uuid.UUID(referralID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock referral: %w", err)
		}

		if err := validate(referral); err != nil {
			return err
		}
		mutate(referral)

		_, err = execer.ExecContext(ctx, `
			UPDATE referrals SET status = $2, points_awarded = $3, completed_at = $4
			WHERE id = $1
		`,
			uuid.UUID(referral.ID),
			string(referral.Status),
			referral.PointsAwarded,
			referral.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("update referral: %w", err)
		}
		result = referral
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListByReferrer(ctx context.Context, referrerID id.CustomerID) ([]*models.Referral, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY created_at
	`, uuid.UUID(referrerID))
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var out []*models.Referral
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		out = append(out, referral)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountCompletedByReferrer(ctx context.Context, referrerID id.CustomerID) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referrals WHERE referrer_id = $1 AND status = $2
	`, uuid.UUID(referrerID), string(models.ReferralStatusCompleted)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed referrals: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SumPointsByReferrer(ctx context.Context, referrerID id.CustomerID) (int64, error) {
	var sum int64
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points_awarded), 0) FROM referrals
		WHERE referrer_id = $1 AND status = $2
	`, uuid.UUID(referrerID), string(models.ReferralStatusCompleted)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum referral points: %w", err)
	}
	return sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReferral(row rowScanner) (*models.Referral, error) {
	var (
		referral    models.Referral
		referralID  uuid.UUID
		referrerID  uuid.UUID
		referredID  uuid.UUID
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&referralID, &referrerID, &referredID, &status, &referral.PointsAwarded, &referral.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	referral.ID = id.ReferralID(referralID)
	referral.ReferrerID = id.CustomerID(referrerID)
	referral.ReferredID = id.CustomerID(referredID)
	referral.Status = models.ReferralStatus(status)
	if completedAt.Valid {
		referral.CompletedAt = &completedAt.Time
	}
	return &referral, nil
}
