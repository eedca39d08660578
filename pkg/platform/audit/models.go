package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "gemma/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: customer
	// lifecycle and consent-adjacent actions. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers operator authentication and access events.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine business events: taps, point
	// mutations, referral activity. Short retention, may be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	CustomerID id.CustomerID
	OperatorID id.OperatorID
	TerminalID string
	Action     string
	// Subject identifies the thing acted on when it is not the customer
	// (a tag uid, a referral id).
	Subject string
	Reason  string
	// DeviceInfo is the parsed user-agent summary of the emitting terminal.
	DeviceInfo string
	RequestID  string
}

// AuditEvent names the closed set of actions this system emits.
type AuditEvent string

const (
	EventTagAccess            AuditEvent = "tag_access"
	EventTagRejected          AuditEvent = "tag_rejected"
	EventPointsCredited       AuditEvent = "points_credited"
	EventPointsDebited        AuditEvent = "points_debited"
	EventReferralCreated      AuditEvent = "referral_created"
	EventReferralCompleted    AuditEvent = "referral_completed"
	EventReferralReconciled   AuditEvent = "referral_reconciled"
	EventCustomerCreated      AuditEvent = "customer_created"
	EventCustomerDeactivated  AuditEvent = "customer_deactivated"
	EventCustomerReactivated  AuditEvent = "customer_reactivated"
	EventOperatorLogin        AuditEvent = "operator_login"
	EventOperatorLoginFailed  AuditEvent = "operator_login_failed"
)

// eventCategories is the source of truth for action → category routing.
var eventCategories = map[AuditEvent]EventCategory{
	EventTagAccess:           CategoryOperations,
	EventTagRejected:         CategorySecurity,
	EventPointsCredited:      CategoryOperations,
	EventPointsDebited:       CategoryOperations,
	EventReferralCreated:     CategoryOperations,
	EventReferralCompleted:   CategoryOperations,
	EventReferralReconciled:  CategoryOperations,
	EventCustomerCreated:     CategoryCompliance,
	EventCustomerDeactivated: CategoryCompliance,
	EventCustomerReactivated: CategoryCompliance,
	EventOperatorLogin:       CategorySecurity,
	EventOperatorLoginFailed: CategorySecurity,
}

// Category resolves the routing category for an action. Unknown actions go
// to operations rather than being dropped.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. The postgres implementation writes to an
// outbox table that the relay worker publishes to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCustomer(ctx context.Context, customerID id.CustomerID) ([]Event, error)
}

// Publisher emits audit events from domain logic. Implementations must be
// cheap enough to call inline on the request path.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// StorePublisher adapts a Store into a Publisher for deployments without a
// broker: events land in the store and stop there.
type StorePublisher struct {
	store Store
}

func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{store: store}
}

func (p *StorePublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	return p.store.Append(ctx, event)
}

// OutboxRow is one serialized, not yet published audit event. Shared between
// the outbox store and the relay worker.
type OutboxRow struct {
	ID       uuid.UUID
	Category string
	Payload  []byte
}
