// Package handler wires the loyalty endpoints: customer registration, the
// points ledger, prize redemption, referrals, and reconciliation.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gemma/internal/loyalty/levels"
	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/service/ledger"
	"gemma/internal/loyalty/service/reconcile"
	"gemma/internal/loyalty/service/referral"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/httputil"
	"gemma/pkg/requestcontext"
)

// historyDefaultLimit caps history responses when the client does not ask
// for a specific page size.
const historyDefaultLimit = 50

// Ledger is the slice of the points ledger the handler consumes.
type Ledger interface {
	Sale(ctx context.Context, customerID id.CustomerID, amount float64) (*models.Transaction, error)
	ApplyDelta(ctx context.Context, req ledger.DeltaRequest) (*models.Transaction, error)
	Redeem(ctx context.Context, customerID id.CustomerID, prizeName string) (*models.Transaction, error)
	Prizes() models.PrizeTable
	GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	History(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error)
	DeactivateCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	ReactivateCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
}

// Referrals is the slice of the referral engine the handler consumes.
type Referrals interface {
	Register(ctx context.Context, input referral.RegisterInput) (*models.Customer, error)
	CompleteReferral(ctx context.Context, referredID id.CustomerID) (*models.Referral, error)
	Overview(ctx context.Context, customerID id.CustomerID) (*referral.ReferrerOverview, error)
}

// Reconciler repairs drifted referral caches.
type Reconciler interface {
	Reconcile(ctx context.Context, customerID id.CustomerID) (*reconcile.Report, error)
	ReconcileAll(ctx context.Context) ([]*reconcile.Report, error)
}

// Handler wires loyalty endpoints to the services.
type Handler struct {
	ledger     Ledger
	referrals  Referrals
	reconciler Reconciler
	levels     levels.Table
	logger     *slog.Logger
}

type Option func(*Handler)

// WithLevels replaces the built-in level table, typically with one loaded
// from the LEVELS_FILE config.
func WithLevels(table levels.Table) Option {
	return func(h *Handler) {
		if len(table) > 0 {
			h.levels = table
		}
	}
}

func New(ledger Ledger, referrals Referrals, reconciler Reconciler, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		ledger:     ledger,
		referrals:  referrals,
		reconciler: reconciler,
		levels:     levels.DefaultTable(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts loyalty endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/customers", h.HandleRegister)
	r.Get("/customers/{customerID}", h.HandleGetCustomer)
	r.Get("/customers/{customerID}/history", h.HandleHistory)
	r.Post("/customers/{customerID}/sale", h.HandleSale)
	r.Post("/customers/{customerID}/points", h.HandleApplyDelta)
	r.Post("/customers/{customerID}/redeem", h.HandleRedeem)
	r.Post("/customers/{customerID}/deactivate", h.HandleDeactivate)
	r.Post("/customers/{customerID}/reactivate", h.HandleReactivate)

	r.Get("/customers/{customerID}/referrals", h.HandleReferralOverview)
	r.Post("/customers/{customerID}/referrals/complete", h.HandleCompleteReferral)

	r.Post("/customers/{customerID}/reconcile", h.HandleReconcile)
	r.Post("/reconcile", h.HandleReconcileAll)

	r.Get("/prizes", h.HandlePrizes)
	r.Get("/levels", h.HandleLevels)
}

// HandleRegister handles POST /customers requests.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterCustomerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	customer, err := h.referrals.Register(ctx, referral.RegisterInput{
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			h.logger.WarnContext(ctx, "customer registration failed",
				"request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, h.customerResponse(customer))
}

// HandleGetCustomer handles GET /customers/{customerID} requests.
func (h *Handler) HandleGetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	customer, err := h.ledger.GetCustomer(ctx, customerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.customerResponse(customer))
}

// HandleHistory handles GET /customers/{customerID}/history requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	limit := historyDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	rows, err := h.ledger.History(ctx, customerID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromTransactions(rows))
}

// HandleSale handles POST /customers/{customerID}/sale requests.
func (h *Handler) HandleSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[SaleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	row, err := h.ledger.Sale(ctx, customerID, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromTransaction(row))
}

// HandleApplyDelta handles POST /customers/{customerID}/points requests.
func (h *Handler) HandleApplyDelta(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[ApplyDeltaRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	reason, err := models.ParseReason(req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	row, err := h.ledger.ApplyDelta(ctx, ledger.DeltaRequest{
		CustomerID: customerID,
		Delta:      req.Delta,
		Reason:     reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromTransaction(row))
}

// HandleRedeem handles POST /customers/{customerID}/redeem requests.
func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[RedeemRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	row, err := h.ledger.Redeem(ctx, customerID, req.Prize)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromTransaction(row))
}

// HandleDeactivate handles POST /customers/{customerID}/deactivate requests.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.ledger.DeactivateCustomer)
}

// HandleReactivate handles POST /customers/{customerID}/reactivate requests.
func (h *Handler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.ledger.ReactivateCustomer)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, id.CustomerID) (*models.Customer, error)) {
	ctx := r.Context()

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	customer, err := op(ctx, customerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.customerResponse(customer))
}

// HandleReferralOverview handles GET /customers/{customerID}/referrals requests.
func (h *Handler) HandleReferralOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	overview, err := h.referrals.Overview(ctx, customerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, overview)
}

// HandleCompleteReferral handles POST /customers/{customerID}/referrals/complete
// requests. The path customer is the referred party whose pending referral
// gets completed.
func (h *Handler) HandleCompleteReferral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	ref, err := h.referrals.CompleteReferral(ctx, customerID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeAlreadyCompleted) {
			h.logger.WarnContext(ctx, "manual referral completion failed",
				"request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromReferral(ref))
}

// HandleReconcile handles POST /customers/{customerID}/reconcile requests.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	report, err := h.reconciler.Reconcile(ctx, customerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleReconcileAll handles POST /reconcile requests. Only drifted
// customers appear in the response.
func (h *Handler) HandleReconcileAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reports, err := h.reconciler.ReconcileAll(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ReconcileAllResponse{Repaired: FromReports(reports)})
}

// HandlePrizes handles GET /prizes requests.
func (h *Handler) HandlePrizes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, PrizesResponse{Prizes: h.ledger.Prizes()})
}

// HandleLevels handles GET /levels requests.
func (h *Handler) HandleLevels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LevelsResponse{Levels: h.levels})
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (id.CustomerID, bool) {
	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid customer id"))
		return id.CustomerID{}, false
	}
	return customerID, true
}

func (h *Handler) customerResponse(customer *models.Customer) CustomerResponse {
	return FromCustomer(customer, h.levels)
}
