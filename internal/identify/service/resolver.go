// Package service implements the identification resolver: the single entry
// point turning hardware taps, scanned codes, and free-text queries into
// customer references.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"gemma/internal/identify/debounce"
	"gemma/internal/identify/metrics"
	"gemma/internal/identify/models"
	"gemma/internal/identify/ports"
	loyalty "gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/requestcontext"
)

var tracer = otel.Tracer("gemma/identify/service")

// lookupAttempts bounds the retry of transient store failures on the tap
// path. A tap is latency-sensitive; one retry, then surface.
const lookupAttempts = 2

const defaultDebounceWindow = 1500 * time.Millisecond

const defaultSearchLimit = 10

// Service resolves customer identity from the three input channels.
type Service struct {
	tags        ports.TagStore
	accessLog   ports.AccessLogStore
	customers   ports.CustomerDirectory
	window      ports.DebounceWindow
	logger      *slog.Logger
	publisher   ports.AuditPublisher
	metrics     *metrics.Metrics
	searchLimit int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDebounceWindow replaces the default in-process window, typically with
// the redis-backed one so debounce state is shared across processes.
func WithDebounceWindow(window ports.DebounceWindow) Option {
	return func(s *Service) {
		if window != nil {
			s.window = window
		}
	}
}

// WithSearchLimit caps the ranked result list returned by Search.
func WithSearchLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.searchLimit = limit
		}
	}
}

func New(tags ports.TagStore, accessLog ports.AccessLogStore, customers ports.CustomerDirectory, opts ...Option) *Service {
	s := &Service{
		tags:        tags,
		accessLog:   accessLog,
		customers:   customers,
		window:      debounce.NewInMemory(defaultDebounceWindow),
		logger:      slog.Default(),
		searchLimit: defaultSearchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveTag resolves a raw hardware UID. Unregistered and inactive
// credentials are indistinguishable to the caller; both report
// CodeTagNotRegistered and write no access-log entry. A successful
// resolution appends an access-log entry unless the same uid was already
// seen inside the debounce window.
func (s *Service) ResolveTag(ctx context.Context, rawUID string) (*models.Resolution, error) {
	ctx, span := tracer.Start(ctx, "identify.ResolveTag")
	defer span.End()
	start := time.Now()

	uid, err := models.NormalizeUID(rawUID)
	if err != nil {
		return nil, err
	}

	tag, err := s.findTag(ctx, uid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.rejectTag(ctx, uid)
		}
		span.RecordError(err)
		return nil, err
	}
	if !tag.Active {
		return nil, s.rejectTag(ctx, uid)
	}

	customer, err := s.customers.FindByID(ctx, tag.CustomerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "registered tag points at a missing customer",
				"uid", uid, "customer_id", tag.CustomerID)
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found for credential")
		}
		span.RecordError(err)
		return nil, err
	}

	resolution := &models.Resolution{
		Channel:  models.ChannelTag,
		Customer: customer,
		TagUID:   uid,
		ReadOnly: !customer.IsActive(),
	}
	s.recordTap(ctx, resolution)

	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(string(models.ChannelTag)).Inc()
		s.metrics.ObserveResolve(start)
	}
	return resolution, nil
}

// findTag retries once on transient store failure before surfacing.
func (s *Service) findTag(ctx context.Context, uid string) (*models.Tag, error) {
	var tag *models.Tag
	var err error
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		tag, err = s.tags.FindByUID(ctx, uid)
		if err == nil || !errors.Is(err, sentinel.ErrUnavailable) {
			return tag, err
		}
		s.logger.WarnContext(ctx, "tag lookup failed, retrying", "uid", uid, "error", err)
	}
	return nil, err
}

func (s *Service) rejectTag(ctx context.Context, uid string) error {
	if s.metrics != nil {
		s.metrics.TagsRejected.Inc()
	}
	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		Action:  string(audit.EventTagRejected),
		Subject: uid,
	})
	return dErrors.New(dErrors.CodeTagNotRegistered, "credential not registered")
}

// recordTap appends the debounced access-log entry. Log failures never fail
// the resolution; the operator already has the customer on screen.
func (s *Service) recordTap(ctx context.Context, resolution *models.Resolution) {
	first, err := s.window.Observe(ctx, resolution.TagUID)
	if err != nil {
		// A broken debounce backend degrades to duplicate entries, not
		// missing ones.
		s.logger.WarnContext(ctx, "debounce window unavailable", "error", err)
		first = true
	}
	if !first {
		if s.metrics != nil {
			s.metrics.DebouncedTaps.Inc()
		}
		return
	}

	outcome := models.OutcomeResolved
	if resolution.ReadOnly {
		outcome = models.OutcomeReadOnly
	}
	entry := &models.AccessEntry{
		ID:         id.NewAccessEntryID(),
		TagUID:     resolution.TagUID,
		CustomerID: resolution.Customer.ID,
		TerminalID: requestcontext.TerminalID(ctx),
		Outcome:    outcome,
		DeviceInfo: requestcontext.DeviceInfo(ctx),
		CreatedAt:  requestcontext.Now(ctx),
	}
	if err := s.accessLog.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append access-log entry",
			"uid", resolution.TagUID, "error", err)
		return
	}

	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: resolution.Customer.ID,
		Action:     string(audit.EventTagAccess),
		Subject:    resolution.TagUID,
	}, "outcome", string(outcome))
}

// ResolveCode resolves a scanned-code payload. Only the strict CUSTOMER:<id>
// shape is accepted.
func (s *Service) ResolveCode(ctx context.Context, decoded string) (*models.Resolution, error) {
	ctx, span := tracer.Start(ctx, "identify.ResolveCode")
	defer span.End()
	start := time.Now()

	customerID, err := models.ParseScannedCode(decoded)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		span.RecordError(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(string(models.ChannelCode)).Inc()
		s.metrics.ObserveResolve(start)
	}
	return &models.Resolution{
		Channel:  models.ChannelCode,
		Customer: customer,
		ReadOnly: !customer.IsActive(),
	}, nil
}

// Search returns a ranked candidate list for a free-text query. This channel
// is exploratory: callers must explicitly pick a result, so it never returns
// a Resolution.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*loyalty.Customer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "search query must not be empty")
	}
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}

	results, err := s.customers.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SearchQueries.Inc()
	}
	return results, nil
}

// AccessHistory lists a customer's recent taps, newest first.
func (s *Service) AccessHistory(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.AccessEntry, error) {
	return s.accessLog.ListByCustomer(ctx, customerID, limit)
}

// Tags lists the credentials provisioned for a customer.
func (s *Service) Tags(ctx context.Context, customerID id.CustomerID) ([]*models.Tag, error) {
	return s.tags.ListByCustomer(ctx, customerID)
}
