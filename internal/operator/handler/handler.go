// Package handler wires the operator authentication and account endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gemma/internal/operator/models"
	"gemma/internal/operator/service"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/httputil"
	"gemma/pkg/requestcontext"
)

// Operators is the slice of the operator service the handler consumes.
type Operators interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Create(ctx context.Context, username, password, displayName string) (*models.Operator, error)
	SetStatus(ctx context.Context, operatorID id.OperatorID, status models.Status) error
	Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)
}

// Handler wires operator endpoints to the service.
type Handler struct {
	operators Operators
	logger    *slog.Logger
}

func New(operators Operators, logger *slog.Logger) *Handler {
	return &Handler{operators: operators, logger: logger}
}

// RegisterPublic mounts the endpoints that must work without a token.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

// Register mounts the authenticated account endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/auth/me", h.HandleWhoAmI)
	r.Post("/operators", h.HandleCreate)
	r.Put("/operators/{operatorID}/status", h.HandleSetStatus)
}

// HandleLogin handles POST /auth/login requests.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.operators.Login(ctx, req.Username, req.Password)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			h.logger.WarnContext(ctx, "login failed",
				"request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromLoginResult(result))
}

// HandleWhoAmI handles GET /auth/me requests.
func (h *Handler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	operatorID := requestcontext.OperatorID(ctx)
	if operatorID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated operator"))
		return
	}

	operator, err := h.operators.Get(ctx, operatorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromOperator(operator))
}

// HandleCreate handles POST /operators requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateOperatorRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	operator, err := h.operators.Create(ctx, req.Username, req.Password, req.DisplayName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, FromOperator(operator))
}

// HandleSetStatus handles PUT /operators/{operatorID}/status requests.
func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	operatorID, err := id.ParseOperatorID(chi.URLParam(r, "operatorID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid operator id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[SetStatusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.operators.SetStatus(ctx, operatorID, models.Status(req.Status)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
