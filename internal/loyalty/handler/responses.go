package handler

import (
	"time"

	"gemma/internal/loyalty/levels"
	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/service/reconcile"
)

// CustomerResponse is the wire representation of a customer, enriched with
// the level classification derived from the current balance.
type CustomerResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Email         string          `json:"email,omitempty"`
	Points        int64           `json:"points"`
	ReferralCode  string          `json:"referral_code"`
	ReferralCount int             `json:"referral_count"`
	Status        string          `json:"status"`
	Level         levels.Level    `json:"level"`
	NextLevel     levels.NextInfo `json:"next_level"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FromCustomer converts a customer to its response representation,
// classifying the balance against the given level table.
func FromCustomer(customer *models.Customer, table levels.Table) CustomerResponse {
	return CustomerResponse{
		ID:            customer.ID.String(),
		Name:          customer.Name,
		Phone:         customer.Phone,
		Email:         customer.Email,
		Points:        customer.Points,
		ReferralCode:  string(customer.ReferralCode),
		ReferralCount: customer.ReferralCount,
		Status:        string(customer.Status),
		Level:         levels.Classify(customer.Points, table),
		NextLevel:     levels.Next(customer.Points, table),
		CreatedAt:     customer.CreatedAt,
	}
}

// TransactionResponse is the wire representation of one ledger row. Applied
// differs from Delta only when a deduction clamped at zero.
type TransactionResponse struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customer_id"`
	Delta           int64     `json:"delta"`
	Applied         int64     `json:"applied"`
	PreviousBalance int64     `json:"previous_balance"`
	NewBalance      int64     `json:"new_balance"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

// FromTransaction converts a ledger row to its response representation.
func FromTransaction(row *models.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              row.ID.String(),
		CustomerID:      row.CustomerID.String(),
		Delta:           row.Delta,
		Applied:         row.Applied(),
		PreviousBalance: row.PreviousBalance,
		NewBalance:      row.NewBalance,
		Reason:          string(row.Reason),
		CreatedAt:       row.CreatedAt,
	}
}

// HistoryResponse is the HTTP response body for GET /customers/{customerID}/history.
type HistoryResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// FromTransactions converts ledger rows to the history response.
func FromTransactions(rows []*models.Transaction) HistoryResponse {
	out := make([]TransactionResponse, len(rows))
	for i, row := range rows {
		out[i] = FromTransaction(row)
	}
	return HistoryResponse{Transactions: out}
}

// ReferralResponse is the wire representation of a referral row.
type ReferralResponse struct {
	ID            string     `json:"id"`
	ReferrerID    string     `json:"referrer_id"`
	ReferredID    string     `json:"referred_id"`
	Status        string     `json:"status"`
	PointsAwarded int64      `json:"points_awarded"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// FromReferral converts a referral to its response representation.
func FromReferral(ref *models.Referral) ReferralResponse {
	return ReferralResponse{
		ID:            ref.ID.String(),
		ReferrerID:    ref.ReferrerID.String(),
		ReferredID:    ref.ReferredID.String(),
		Status:        string(ref.Status),
		PointsAwarded: ref.PointsAwarded,
		CreatedAt:     ref.CreatedAt,
		CompletedAt:   ref.CompletedAt,
	}
}

// ReconcileAllResponse is the HTTP response body for POST /reconcile.
type ReconcileAllResponse struct {
	Repaired []*reconcile.Report `json:"repaired"`
}

// FromReports normalizes a nil report slice to an empty one so the response
// always carries an array.
func FromReports(reports []*reconcile.Report) []*reconcile.Report {
	if reports == nil {
		return []*reconcile.Report{}
	}
	return reports
}

// PrizesResponse is the HTTP response body for GET /prizes.
type PrizesResponse struct {
	Prizes models.PrizeTable `json:"prizes"`
}

// LevelsResponse is the HTTP response body for GET /levels.
type LevelsResponse struct {
	Levels levels.Table `json:"levels"`
}
