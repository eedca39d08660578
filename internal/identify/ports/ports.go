// Package ports defines the interfaces the identification services consume.
package ports

import (
	"context"
	"log/slog"

	"gemma/internal/identify/models"
	loyalty "gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/audit"
	"gemma/pkg/requestcontext"
)

// TagStore is the registry of provisioned physical credentials. UIDs are
// stored normalized; callers normalize before lookup.
type TagStore interface {
	// Register inserts a tag binding. Returns sentinel.ErrAlreadyUsed when
	// the uid is already provisioned.
	Register(ctx context.Context, tag *models.Tag) error

	// FindByUID returns sentinel.ErrNotFound for unknown uids. Inactive
	// tags are returned; the resolver decides how to treat them.
	FindByUID(ctx context.Context, uid string) (*models.Tag, error)

	// SetActive flips the tag's active flag.
	SetActive(ctx context.Context, uid string, active bool) error

	// ListByCustomer returns every tag bound to the customer.
	ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]*models.Tag, error)
}

// AccessLogStore records successful taps. Append-only.
type AccessLogStore interface {
	Append(ctx context.Context, entry *models.AccessEntry) error

	// ListByCustomer returns entries newest first, up to limit. A limit of
	// zero means no cap.
	ListByCustomer(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.AccessEntry, error)
}

// DebounceWindow suppresses repeat hardware reads of the same credential.
// Observe reports whether this is the first sighting of the uid within the
// window; later sightings inside the window return false.
type DebounceWindow interface {
	Observe(ctx context.Context, uid string) (bool, error)
}

// CustomerDirectory is the slice of the customer store the resolver needs.
// The loyalty customer stores satisfy it as-is.
type CustomerDirectory interface {
	FindByID(ctx context.Context, customerID id.CustomerID) (*loyalty.Customer, error)
	Search(ctx context.Context, query string, limit int) ([]*loyalty.Customer, error)
}

// AuditPublisher emits audit events for identification activity.
type AuditPublisher = audit.Publisher

// LogAudit mirrors the loyalty helper: structured log plus best-effort emit,
// enriched from the request context.
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
