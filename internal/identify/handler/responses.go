package handler

import (
	"time"

	"gemma/internal/identify/models"
	"gemma/internal/identify/session"
	loyalty "gemma/internal/loyalty/models"
)

// ResolutionResponse is the HTTP response for the tag and code channels.
type ResolutionResponse struct {
	Channel  string           `json:"channel"`
	Customer *CustomerSummary `json:"customer"`
	TagUID   string           `json:"tag_uid,omitempty"`
	ReadOnly bool             `json:"read_only"`
}

// CustomerSummary is the customer projection returned on identification.
// Balance and status are enough for the operator screen; full detail comes
// from the loyalty surface.
type CustomerSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Points       int64  `json:"points"`
	ReferralCode string `json:"referral_code"`
	Status       string `json:"status"`
}

// FromResolution converts a domain resolution to an HTTP response.
func FromResolution(res *models.Resolution) *ResolutionResponse {
	return &ResolutionResponse{
		Channel:  string(res.Channel),
		Customer: summarize(res.Customer),
		TagUID:   res.TagUID,
		ReadOnly: res.ReadOnly,
	}
}

// SearchResponse is the HTTP response for GET /identify/search.
type SearchResponse struct {
	Results []*CustomerSummary `json:"results"`
}

// FromSearchResults converts ranked search candidates to an HTTP response.
func FromSearchResults(customers []*loyalty.Customer) *SearchResponse {
	resp := &SearchResponse{Results: make([]*CustomerSummary, 0, len(customers))}
	for _, c := range customers {
		resp.Results = append(resp.Results, summarize(c))
	}
	return resp
}

func summarize(c *loyalty.Customer) *CustomerSummary {
	if c == nil {
		return nil
	}
	return &CustomerSummary{
		ID:           c.ID.String(),
		Name:         c.Name,
		Phone:        c.Phone,
		Email:        c.Email,
		Points:       c.Points,
		ReferralCode: c.ReferralCode.String(),
		Status:       string(c.Status),
	}
}

// ScanOutcomeResponse is the HTTP response for POST /terminals/{id}/scan.
type ScanOutcomeResponse struct {
	ScanID     string              `json:"scan_id"`
	TerminalID string              `json:"terminal_id"`
	StartedAt  time.Time           `json:"started_at"`
	State      string              `json:"state"`
	Resolution *ResolutionResponse `json:"resolution,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// FromOutcome converts a finished scan session to an HTTP response.
func FromOutcome(scan *session.Scan, outcome session.Outcome) *ScanOutcomeResponse {
	resp := &ScanOutcomeResponse{
		ScanID:     scan.ID.String(),
		TerminalID: scan.TerminalID.String(),
		StartedAt:  scan.StartedAt,
		State:      string(outcome.State),
		Message:    outcome.Message,
	}
	if outcome.Resolution != nil {
		resp.Resolution = FromResolution(outcome.Resolution)
	}
	return resp
}

// ScanStateResponse is the HTTP response for GET /terminals/{id}/scan.
type ScanStateResponse struct {
	TerminalID string `json:"terminal_id"`
	State      string `json:"state"`
}

// BridgeStatusResponse is the HTTP response for GET /identify/bridge.
type BridgeStatusResponse struct {
	State string `json:"state"`
}

// AccessLogResponse is the HTTP response for GET /customers/{id}/access-log.
type AccessLogResponse struct {
	Entries []*models.AccessEntry `json:"entries"`
}

// TagsResponse is the HTTP response for GET /customers/{id}/tags.
type TagsResponse struct {
	Tags []*models.Tag `json:"tags"`
}
