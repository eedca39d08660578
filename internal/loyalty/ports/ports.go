// Package ports defines shared interfaces for the loyalty module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/audit"
	"gemma/pkg/requestcontext"
)

// AuditPublisher emits audit events for business-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// CustomerStore manages customer records and their cached balances.
//
// Execute is the atomic validate-then-mutate primitive: implementations hold
// the record lock (mutex in memory, SELECT FOR UPDATE in postgres) across
// both callbacks and persist the mutated record before releasing it.
type CustomerStore interface {
	// Create inserts a new customer. Returns sentinel.ErrAlreadyUsed when
	// the phone number or referral code is already taken.
	Create(ctx context.Context, customer *models.Customer) error

	// FindByID returns sentinel.ErrNotFound for unknown IDs.
	FindByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)

	// FindByReferralCode resolves a referral code to its owner.
	FindByReferralCode(ctx context.Context, code id.ReferralCode) (*models.Customer, error)

	// Execute loads the customer, runs validate, and if it passes runs
	// mutate and persists the result, all under the record lock. The
	// returned customer reflects the mutated state.
	Execute(ctx context.Context, customerID id.CustomerID, validate func(*models.Customer) error, mutate func(*models.Customer)) (*models.Customer, error)

	// Search returns customers whose name, phone, or email matches the
	// query, ranked with prefix matches first.
	Search(ctx context.Context, query string, limit int) ([]*models.Customer, error)

	// List returns every customer. Used by the reconciliation sweep.
	List(ctx context.Context) ([]*models.Customer, error)
}

// TransactionStore is the append-only points ledger.
type TransactionStore interface {
	// Append inserts a ledger row. Rows are immutable once written.
	Append(ctx context.Context, tx *models.Transaction) error

	// ListByCustomer returns rows newest first, up to limit. A limit of
	// zero means no cap.
	ListByCustomer(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error)

	// HasQualifyingSale reports whether the customer has at least one
	// positive sale row.
	HasQualifyingSale(ctx context.Context, customerID id.CustomerID) (bool, error)
}

// ReferralStore manages referral relationship rows.
type ReferralStore interface {
	// Create inserts a pending referral. Returns sentinel.ErrAlreadyUsed
	// when the referred customer already has a referral row.
	Create(ctx context.Context, referral *models.Referral) error

	// FindByID returns sentinel.ErrNotFound for unknown IDs.
	FindByID(ctx context.Context, referralID id.ReferralID) (*models.Referral, error)

	// FindPendingByReferred returns the pending referral naming the
	// customer as referred, or sentinel.ErrNotFound.
	FindPendingByReferred(ctx context.Context, referredID id.CustomerID) (*models.Referral, error)

	// FindByReferred returns the referral naming the customer as referred
	// regardless of status, or sentinel.ErrNotFound.
	FindByReferred(ctx context.Context, referredID id.CustomerID) (*models.Referral, error)

	// Execute is the atomic validate-then-mutate primitive, matching the
	// CustomerStore contract.
	Execute(ctx context.Context, referralID id.ReferralID, validate func(*models.Referral) error, mutate func(*models.Referral)) (*models.Referral, error)

	// ListByReferrer returns all referrals created by the referrer.
	ListByReferrer(ctx context.Context, referrerID id.CustomerID) ([]*models.Referral, error)

	// CountCompletedByReferrer counts completed referrals. This is the
	// source of truth the cached counter is reconciled against.
	CountCompletedByReferrer(ctx context.Context, referrerID id.CustomerID) (int, error)

	// SumPointsByReferrer sums PointsAwarded over completed referrals.
	SumPointsByReferrer(ctx context.Context, referrerID id.CustomerID) (int64, error)
}

// LogAudit is a shared helper for recording audit events across loyalty
// services. It logs to the structured logger and emits to the publisher when
// one is configured.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
		event.RequestID = requestID
	}
	if event.TerminalID == "" {
		event.TerminalID = string(requestcontext.TerminalID(ctx))
	}
	if event.OperatorID.IsNil() {
		event.OperatorID = requestcontext.OperatorID(ctx)
	}
	if event.DeviceInfo == "" {
		event.DeviceInfo = requestcontext.DeviceInfo(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	args := append(attrs, "event", event.Action, "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
