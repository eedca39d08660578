// Package service authenticates staff operators and issues access tokens.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"gemma/internal/operator/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/requestcontext"
)

var tracer = otel.Tracer("gemma/operator/service")

// defaultTokenTTL applies when no TTL option is given. Matches a shift plus
// slack so operators rarely re-authenticate mid-day.
const defaultTokenTTL = 12 * time.Hour

// Store persists operator accounts.
type Store interface {
	// Create inserts an account. Returns sentinel.ErrAlreadyUsed when the
	// username is already taken (case-insensitively).
	Create(ctx context.Context, operator *models.Operator) error

	// FindByID returns sentinel.ErrNotFound for unknown ids.
	FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)

	// FindByUsername matches case-insensitively.
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)

	SetStatus(ctx context.Context, operatorID id.OperatorID, status models.Status) error
}

// TokenIssuer mints signed access tokens. The jwttoken service satisfies it.
type TokenIssuer interface {
	GenerateAccessToken(operatorID id.OperatorID, username string, expiresIn time.Duration) (string, error)
}

// Service is the operator account and login service.
type Service struct {
	store     Store
	issuer    TokenIssuer
	logger    *slog.Logger
	publisher audit.Publisher
	tokenTTL  time.Duration
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func New(store Store, issuer TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		issuer:   issuer,
		logger:   slog.Default(),
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginResult carries the issued token and the authenticated account.
type LoginResult struct {
	Token     string
	ExpiresIn time.Duration
	Operator  *models.Operator
}

// Login verifies the credentials and issues an access token. Unknown
// usernames and wrong passwords are indistinguishable to the caller; both
// come back as CodeUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "operator.login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "username and password are required")
	}

	operator, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Burn a comparison so unknown usernames cost the same
			// as wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.auditLoginFailed(ctx, username, "unknown username")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load operator")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		s.auditLoginFailed(ctx, username, "wrong password")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	if !operator.CanLogin() {
		s.auditLoginFailed(ctx, username, "account disabled")
		return nil, dErrors.New(dErrors.CodeForbidden, "account is disabled")
	}

	token, err := s.issuer.GenerateAccessToken(operator.ID, operator.Username, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not issue access token")
	}

	s.logAudit(ctx, audit.Event{
		OperatorID: operator.ID,
		Action:     string(audit.EventOperatorLogin),
	}, "username", operator.Username)

	return &LoginResult{Token: token, ExpiresIn: s.tokenTTL, Operator: operator}, nil
}

// Create provisions a new operator account with a freshly hashed password.
func (s *Service) Create(ctx context.Context, username, password, displayName string) (*models.Operator, error) {
	ctx, span := tracer.Start(ctx, "operator.create")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "username is required")
	}
	if len(password) < 8 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "password is too long")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not hash password")
	}

	now := s.now().UTC()
	operator := &models.Operator{
		ID:           id.NewOperatorID(),
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Status:       models.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, operator); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "username %q is already taken", username)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not create operator")
	}

	s.logger.InfoContext(ctx, "operator created", "operator_id", operator.ID, "username", operator.Username)
	return operator, nil
}

// SetStatus enables or disables an account.
func (s *Service) SetStatus(ctx context.Context, operatorID id.OperatorID, status models.Status) error {
	if status != models.StatusActive && status != models.StatusDisabled {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown status %q", status)
	}
	if err := s.store.SetStatus(ctx, operatorID, status); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "operator not found")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not update operator")
	}
	s.logger.InfoContext(ctx, "operator status changed", "operator_id", operatorID, "status", status)
	return nil
}

// Get returns the account for an id, for the whoami endpoint.
func (s *Service) Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	operator, err := s.store.FindByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "operator not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load operator")
	}
	return operator, nil
}

func (s *Service) auditLoginFailed(ctx context.Context, username, reason string) {
	s.logAudit(ctx, audit.Event{
		Action: string(audit.EventOperatorLoginFailed),
		Reason: reason,
	}, "username", username)
}

// logAudit mirrors the loyalty helper: structured log plus best-effort emit,
// enriched from the request context.
func (s *Service) logAudit(ctx context.Context, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
		event.RequestID = requestID
	}
	if event.TerminalID == "" {
		event.TerminalID = string(requestcontext.TerminalID(ctx))
	}
	if event.DeviceInfo == "" {
		event.DeviceInfo = requestcontext.DeviceInfo(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	args := append(attrs, "event", event.Action, "log_type", "audit")
	s.logger.InfoContext(ctx, event.Action, args...)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}

// dummyHash is a bcrypt hash of an unguessable throwaway value, used to keep
// login timing flat when the username does not exist.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gemma-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()
