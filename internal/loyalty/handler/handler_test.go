package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/service/ledger"
	"gemma/internal/loyalty/service/reconcile"
	"gemma/internal/loyalty/service/referral"
	"gemma/internal/loyalty/store/customer"
	referralstore "gemma/internal/loyalty/store/referral"
	"gemma/internal/loyalty/store/transaction"
	id "gemma/pkg/domain"
)

type loyaltyEnv struct {
	router    chi.Router
	customers *customer.InMemory
	referrals *referralstore.InMemory
}

func newLoyaltyEnv(t *testing.T) *loyaltyEnv {
	t.Helper()

	customers := customer.NewInMemory()
	referrals := referralstore.NewInMemory()
	transactions := transaction.NewInMemory()
	logger := slog.Default()

	pointsLedger := ledger.New(customers, transactions, ledger.WithLogger(logger))
	referralEngine := referral.New(customers, referrals, pointsLedger, referral.WithLogger(logger))
	pointsLedger.SetSaleHook(referralEngine.OnQualifyingSale)
	reconciler := reconcile.New(customers, referrals)

	router := chi.NewRouter()
	New(pointsLedger, referralEngine, reconciler, logger).Register(router)

	return &loyaltyEnv{router: router, customers: customers, referrals: referrals}
}

func (e *loyaltyEnv) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *loyaltyEnv) register(t *testing.T, name, phone, code string) CustomerResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/customers", map[string]string{
		"name": name, "phone": phone, "referral_code": code,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 registering customer, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CustomerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode customer response: %v", err)
	}
	return resp
}

func TestRegisterAndGetCustomer(t *testing.T) {
	env := newLoyaltyEnv(t)

	created := env.register(t, "Mario Rossi", "+393331112233", "")
	if created.ReferralCode == "" {
		t.Fatalf("expected a generated referral code")
	}
	if created.Points != 0 {
		t.Fatalf("expected zero starting balance, got %d", created.Points)
	}
	if created.Level.Name != "Bronzo" {
		t.Fatalf("expected Bronzo level at zero points, got %q", created.Level.Name)
	}

	rec := env.do(t, http.MethodGet, "/customers/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching customer, got %d", rec.Code)
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	env := newLoyaltyEnv(t)
	env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers", map[string]string{
		"name": "Altro Mario", "phone": "+393331112233",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate phone, got %d", rec.Code)
	}
}

func TestReferralFlowViaHandlers(t *testing.T) {
	env := newLoyaltyEnv(t)

	referrer := env.register(t, "Mario Rossi", "+393331112233", "")
	referred := env.register(t, "Anna Bianchi", "+393334445566", referrer.ReferralCode)
	if referred.Points != 10 {
		t.Fatalf("expected welcome bonus of 10, got %d", referred.Points)
	}

	rec := env.do(t, http.MethodPost, "/customers/"+referred.ID+"/sale", map[string]float64{"amount": 15.90})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 recording sale, got %d: %s", rec.Code, rec.Body.String())
	}
	var sale TransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("failed to decode sale response: %v", err)
	}
	if sale.Delta != 15 {
		t.Fatalf("expected 15 points from a 15.90 sale, got %d", sale.Delta)
	}

	rec = env.do(t, http.MethodGet, "/customers/"+referrer.ID+"/referrals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching overview, got %d", rec.Code)
	}
	var overview referral.ReferrerOverview
	if err := json.NewDecoder(rec.Body).Decode(&overview); err != nil {
		t.Fatalf("failed to decode overview: %v", err)
	}
	if overview.Completed != 1 || overview.PointsEarned != 20 {
		t.Fatalf("expected 1 completed referral worth 20 points, got %+v", overview)
	}
}

func TestManualDeltaClampsAtZero(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/points", map[string]any{
		"delta": 10, "reason": "manual_credit",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 crediting points, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/customers/"+created.ID+"/points", map[string]any{
		"delta": -25, "reason": "manual_debit",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 debiting points, got %d: %s", rec.Code, rec.Body.String())
	}
	var row TransactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&row); err != nil {
		t.Fatalf("failed to decode transaction: %v", err)
	}
	if row.NewBalance != 0 || row.Applied != -10 || row.Delta != -25 {
		t.Fatalf("expected clamp to zero with applied -10, got %+v", row)
	}
}

func TestManualDeltaRejectsUnknownReason(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/points", map[string]any{
		"delta": 10, "reason": "because",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown reason, got %d", rec.Code)
	}
}

func TestSaleValidation(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/sale", map[string]float64{"amount": -3})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
}

func TestRedeemUnknownPrize(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/redeem", map[string]string{"prize": "Yacht"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown prize, got %d", rec.Code)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error != "not_found" {
		t.Fatalf("expected not_found error code, got %q", envelope.Error)
	}
}

func TestUnknownCustomerIs404(t *testing.T) {
	env := newLoyaltyEnv(t)

	rec := env.do(t, http.MethodGet, "/customers/8f9a9f3e-0b1c-4a6d-9a3e-111122223333", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/customers/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestDeactivateBlocksSales(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/deactivate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deactivating, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/customers/"+created.ID+"/sale", map[string]float64{"amount": 10})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 selling to inactive customer, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/customers/"+created.ID+"/reactivate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reactivating, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/sale", map[string]float64{"amount": 5})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 recording sale %d, got %d", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/customers/"+created.ID+"/history?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching history, got %d", rec.Code)
	}
	var history HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history.Transactions) != 2 {
		t.Fatalf("expected 2 rows with limit=2, got %d", len(history.Transactions))
	}

	rec = env.do(t, http.MethodGet, "/customers/"+created.ID+"/history?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed limit, got %d", rec.Code)
	}
}

func TestReconcileEndpoints(t *testing.T) {
	env := newLoyaltyEnv(t)
	created := env.register(t, "Mario Rossi", "+393331112233", "")

	customerID, err := id.ParseCustomerID(created.ID)
	if err != nil {
		t.Fatalf("failed to parse customer id: %v", err)
	}

	// Drift the cached counters directly, as a buggy writer would.
	_, err = env.customers.Execute(context.Background(), customerID,
		func(*models.Customer) error { return nil },
		func(c *models.Customer) {
			c.ReferralCount = 7
			c.ReferralPointsEarned = 140
		})
	if err != nil {
		t.Fatalf("failed to drift counters: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/customers/"+created.ID+"/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reconciling, got %d: %s", rec.Code, rec.Body.String())
	}
	var report reconcile.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Repaired || report.StoredCount != 7 || report.ExpectedCount != 0 {
		t.Fatalf("expected repair from 7 to 0 completed referrals, got %+v", report)
	}

	rec = env.do(t, http.MethodPost, "/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on sweep, got %d", rec.Code)
	}
	var sweep ReconcileAllResponse
	if err := json.NewDecoder(rec.Body).Decode(&sweep); err != nil {
		t.Fatalf("failed to decode sweep response: %v", err)
	}
	if len(sweep.Repaired) != 0 {
		t.Fatalf("expected no drifted customers after repair, got %d", len(sweep.Repaired))
	}
}

func TestPrizesAndLevelsEndpoints(t *testing.T) {
	env := newLoyaltyEnv(t)

	rec := env.do(t, http.MethodGet, "/prizes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching prizes, got %d", rec.Code)
	}
	var prizes PrizesResponse
	if err := json.NewDecoder(rec.Body).Decode(&prizes); err != nil {
		t.Fatalf("failed to decode prizes: %v", err)
	}
	if len(prizes.Prizes) == 0 {
		t.Fatalf("expected the built-in prize catalog")
	}

	rec = env.do(t, http.MethodGet, "/levels", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching levels, got %d", rec.Code)
	}
}
