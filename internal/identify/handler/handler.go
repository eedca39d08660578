// Package handler wires the identification endpoints: credential
// resolution, customer search, and per-terminal scan sessions.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gemma/internal/identify/bridge"
	"gemma/internal/identify/models"
	"gemma/internal/identify/session"
	loyalty "gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/httputil"
	"gemma/pkg/requestcontext"
)

// Resolver is the slice of the identification service the handler consumes.
type Resolver interface {
	ResolveTag(ctx context.Context, rawUID string) (*models.Resolution, error)
	ResolveCode(ctx context.Context, decoded string) (*models.Resolution, error)
	Search(ctx context.Context, query string, limit int) ([]*loyalty.Customer, error)
	AccessHistory(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.AccessEntry, error)
	Tags(ctx context.Context, customerID id.CustomerID) ([]*models.Tag, error)
}

// BridgeStatus reports the hardware connection state for the ops surface.
type BridgeStatus interface {
	State() bridge.ConnState
}

// Handler wires identification endpoints to the resolver and the session
// manager.
type Handler struct {
	resolver    Resolver
	sessions    *session.Manager
	bridge      BridgeStatus
	logger      *slog.Logger
	searchLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithBridgeStatus exposes the hardware connection state on the status
// endpoint. Without it the endpoint reports "disabled".
func WithBridgeStatus(status BridgeStatus) Option {
	return func(h *Handler) {
		h.bridge = status
	}
}

// WithSearchRateLimit installs the per-terminal rate limit middleware on the
// search endpoint only.
func WithSearchRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.searchLimit = mw
	}
}

func New(resolver Resolver, sessions *session.Manager, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolver,
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts identification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identify/tag", h.HandleResolveTag)
	r.Post("/identify/code", h.HandleResolveCode)
	if h.searchLimit != nil {
		r.With(h.searchLimit).Get("/identify/search", h.HandleSearch)
	} else {
		r.Get("/identify/search", h.HandleSearch)
	}
	r.Get("/identify/bridge", h.HandleBridgeStatus)

	r.Post("/terminals/{terminalID}/scan", h.HandleStartScan)
	r.Get("/terminals/{terminalID}/scan", h.HandleScanState)
	r.Delete("/terminals/{terminalID}/scan", h.HandleCancelScan)

	r.Get("/customers/{customerID}/access-log", h.HandleAccessLog)
	r.Get("/customers/{customerID}/tags", h.HandleTags)
}

// HandleResolveTag handles POST /identify/tag requests.
func (h *Handler) HandleResolveTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveTagRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resolution, err := h.resolver.ResolveTag(ctx, req.UID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeTagNotRegistered) {
			h.logger.WarnContext(ctx, "tag resolution failed",
				"request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromResolution(resolution))
}

// HandleResolveCode handles POST /identify/code requests.
func (h *Handler) HandleResolveCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveCodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resolution, err := h.resolver.ResolveCode(ctx, req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromResolution(resolution))
}

// HandleSearch handles GET /identify/search requests.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be an integer"))
			return
		}
		limit = parsed
	}

	results, err := h.resolver.Search(ctx, r.URL.Query().Get("q"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromSearchResults(results))
}

// HandleBridgeStatus handles GET /identify/bridge requests.
func (h *Handler) HandleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if h.bridge != nil {
		state = string(h.bridge.State())
	}
	httputil.WriteJSON(w, http.StatusOK, BridgeStatusResponse{State: state})
}

// HandleStartScan handles POST /terminals/{terminalID}/scan requests. The
// request long-polls: it blocks until the scan session finishes (credential
// resolved, timeout, error, or cancellation) and returns the outcome. A
// client that disconnects cancels its scan.
func (h *Handler) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	terminal := id.TerminalID(chi.URLParam(r, "terminalID"))

	scan, err := h.sessions.Start(terminal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	select {
	case outcome := <-scan.Done:
		httputil.WriteJSON(w, http.StatusOK, FromOutcome(scan, outcome))
	case <-ctx.Done():
		// The operator UI went away; a credential tapped now would
		// resolve into the void. The scan may already have finished,
		// so a cancel conflict here is fine.
		_ = h.sessions.Cancel(terminal)
	}
}

// HandleScanState handles GET /terminals/{terminalID}/scan requests.
func (h *Handler) HandleScanState(w http.ResponseWriter, r *http.Request) {
	terminal := id.TerminalID(chi.URLParam(r, "terminalID"))
	httputil.WriteJSON(w, http.StatusOK, ScanStateResponse{
		TerminalID: terminal.String(),
		State:      string(h.sessions.State(terminal)),
	})
}

// HandleCancelScan handles DELETE /terminals/{terminalID}/scan requests.
func (h *Handler) HandleCancelScan(w http.ResponseWriter, r *http.Request) {
	terminal := id.TerminalID(chi.URLParam(r, "terminalID"))
	if err := h.sessions.Cancel(terminal); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAccessLog handles GET /customers/{customerID}/access-log requests.
func (h *Handler) HandleAccessLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed customer id"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.resolver.AccessHistory(ctx, customerID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AccessLogResponse{Entries: entries})
}

// HandleTags handles GET /customers/{customerID}/tags requests.
func (h *Handler) HandleTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed customer id"))
		return
	}

	tags, err := h.resolver.Tags(ctx, customerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}
