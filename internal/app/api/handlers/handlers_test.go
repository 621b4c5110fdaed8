package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	nh "github.com/fatflowers/stembill/internal/app/service/notification_handler"
	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_change"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	"github.com/fatflowers/stembill/internal/app/service/statistics"
	"github.com/fatflowers/stembill/internal/app/service/storage_usage"
	"github.com/fatflowers/stembill/internal/app/service/transaction"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/response"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"
)

var nop = zap.NewNop().Sugar()

type envelope struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body []byte, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type stubWebhook struct {
	endpoints []nh.Endpoint
	res       *reconciler.Result
	err       error
}

func (s *stubWebhook) HandleNotification(_ context.Context, ep nh.Endpoint, body []byte, sig string) (*reconciler.Result, error) {
	s.endpoints = append(s.endpoints, ep)
	if sig == "" {
		return nil, &verifier.VerificationError{Reason: "missing Stripe-Signature header"}
	}
	return s.res, s.err
}

func TestWebhookRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	wh := &stubWebhook{res: &reconciler.Result{EventID: "evt_1", EventType: "invoice.payment_succeeded", Outcome: reconciler.OutcomeApplied}}
	r := gin.New()
	RegisterWebhookRoutes(r.Group("/webhooks"), wh, nop)

	w, env := do(t, r, http.MethodPost, "/webhooks/stripe", []byte(`{}`), map[string]string{"Stripe-Signature": "t=1,v1=x"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.APIResponseCodeOK, env.Code)
	var res reconciler.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, reconciler.OutcomeApplied, res.Outcome)

	w, env = do(t, r, http.MethodPost, "/webhooks/stripe-connect", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.APIResponseCodeVerificationFailed, env.Code)
	assert.Equal(t, []nh.Endpoint{nh.EndpointPlatform, nh.EndpointConnect}, wh.endpoints)

	wh.res, wh.err = nil, errors.New("connection reset")
	w, env = do(t, r, http.MethodPost, "/webhooks/stripe", []byte(`{}`), map[string]string{"Stripe-Signature": "t=1,v1=x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, response.APIResponseCodeError, env.Code)
	assert.NotContains(t, env.Message, "connection reset")
}

func TestWebhookRejectsOversizeBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	wh := &stubWebhook{res: &reconciler.Result{Outcome: reconciler.OutcomeApplied}}
	r := gin.New()
	RegisterWebhookRoutes(r.Group("/webhooks"), wh, nop)

	body := bytes.Repeat([]byte("a"), maxWebhookBody+1)
	w, env := do(t, r, http.MethodPost, "/webhooks/stripe", body, map[string]string{"Stripe-Signature": "t=1,v1=x"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, response.APIResponseCodePayloadTooLarge, env.Code)
	assert.Empty(t, wh.endpoints)

	w, _ = do(t, r, http.MethodPost, "/webhooks/stripe", body[:maxWebhookBody], map[string]string{"Stripe-Signature": "t=1,v1=x"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []nh.Endpoint{nh.EndpointPlatform}, wh.endpoints)
}

type stubBilling struct {
	err error
}

func (s *stubBilling) ChangePlan(_ context.Context, req *plan_change.ChangePlanRequest) (*plan_change.ChangePlanResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &plan_change.ChangePlanResult{PriceID: req.PriceID, Plan: "basic"}, nil
}

func (s *stubBilling) CreatePaymentIntent(_ context.Context, projectID, _ string) (*payment_settler.PaymentIntentResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &payment_settler.PaymentIntentResult{PaymentIntentID: "pi_" + projectID, ClientSecret: "secret", Amount: 10000, Currency: "usd"}, nil
}

func (s *stubBilling) Recalculate(_ context.Context, req *storage_usage.RecalculateRequest) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.User{ID: req.UserID, StorageUsed: *req.StorageUsed, StorageLimit: 100}, nil
}

func TestBillingRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &stubBilling{}
	r := gin.New()
	RegisterBillingRoutes(r.Group("/api/v1"), svc, svc, svc, nop)

	w, env := do(t, r, http.MethodPost, "/api/v1/billing/change_plan", mustJSON(map[string]string{"user_id": "u1", "price_id": "price_basic"}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"price_id":"price_basic"`)

	w, env = do(t, r, http.MethodPost, "/api/v1/projects/payment_intent", mustJSON(map[string]string{"project_id": "p1", "client_id": "c1"}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"client_secret":"secret"`)

	w, env = do(t, r, http.MethodPost, "/api/v1/storage/recalculate", mustJSON(map[string]any{"user_id": "u1", "storage_used": 150}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state StorageStateResponse
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.EqualValues(t, 150, state.StorageUsed)

	w, env = do(t, r, http.MethodPost, "/api/v1/storage/recalculate", mustJSON(map[string]any{"user_id": "u1"}), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestBillingRoutes_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   response.APIResponseCode
	}{
		{fmt.Errorf("%w: project p1 is Paid", types.ErrInvariantViolation), http.StatusBadRequest, response.APIResponseCodeInvariantViolation},
		{fmt.Errorf("find project: %w", repository.ErrNotFound), http.StatusNotFound, response.APIResponseCodeNotFound},
		{repository.ErrConcurrentUpdate, http.StatusConflict, response.APIResponseCodeConflict},
		{&stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Msg: "card declined"}, http.StatusBadGateway, response.APIResponseCodeUpstreamError},
		{errors.New("boom"), http.StatusInternalServerError, response.APIResponseCodeError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := gin.New()
			svc := &stubBilling{err: tc.err}
			RegisterBillingRoutes(r.Group("/api/v1"), svc, svc, svc, nop)
			w, env := do(t, r, http.MethodPost, "/api/v1/projects/payment_intent", mustJSON(map[string]string{"project_id": "p1", "client_id": "c1"}), nil)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

type stubAdmin struct {
	lastScan *transaction.ScanRequest
	reset    []string
}

func (s *stubAdmin) ScanTransactions(_ context.Context, req *transaction.ScanRequest) (*transaction.ScanTransactionsResponse, error) {
	s.lastScan = req
	if req.SortBy == "version" {
		return nil, fmt.Errorf("%w: cannot sort by version", types.ErrInvariantViolation)
	}
	return &transaction.ScanTransactionsResponse{Items: []*models.Transaction{{ID: "t1", UserID: "u1"}}, Total: 1}, nil
}

func (s *stubAdmin) ScanActivities(_ context.Context, req *transaction.ScanRequest) (*transaction.ScanActivitiesResponse, error) {
	s.lastScan = req
	return &transaction.ScanActivitiesResponse{Items: []*models.Activity{{ID: "a1"}}, Total: 1}, nil
}

func (s *stubAdmin) Reset(_ context.Context, eventID string) (bool, error) {
	s.reset = append(s.reset, eventID)
	return true, nil
}

func (s *stubAdmin) BillingSummary(_ context.Context, _ *statistics.BillingSummaryRequest) (*statistics.BillingSummaryResponse, error) {
	return &statistics.BillingSummaryResponse{DataItems: map[statistics.StatisticType][]statistics.StatisticDataItem{
		statistics.StatisticTypeUsersInGrace: {{Value: 3}},
	}}, nil
}

func TestAdminRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &stubAdmin{}
	r := gin.New()
	RegisterAdminRoutes(r.Group("/api/v1/admin"), svc, svc, svc, nop)

	body := mustJSON(map[string]any{
		"filters": []map[string]any{{"field": "user_id", "operator": "eq", "values": []string{"u1"}}},
		"size":    5,
	})
	w, env := do(t, r, http.MethodPost, "/api/v1/admin/list_transactions", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"total":1`)
	require.Len(t, svc.lastScan.Filters, 1)
	assert.Equal(t, types.CommonFilterOperatorEq, svc.lastScan.Filters[0].Operator)

	w, env = do(t, r, http.MethodPost, "/api/v1/admin/list_transactions", mustJSON(map[string]any{"sort_by": "version"}), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.APIResponseCodeInvariantViolation, env.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/list_activities", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/admin/processed_events/reset", mustJSON(map[string]string{"event_id": "evt_9"}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"evt_9"}, svc.reset)
	assert.Contains(t, string(env.Data), `"existed":true`)

	w, _ = do(t, r, http.MethodPost, "/api/v1/admin/processed_events/reset", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/admin/billing_summary", []byte(`{}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"users_in_grace"`)
}

func TestUserTransactionList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &stubAdmin{}
	r := gin.New()
	RegisterTransactionRoutes(r.Group("/api/v1"), svc, nop)

	w, _ := do(t, r, http.MethodGet, "/api/v1/billing/transactions?user_id=u1&size=20", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, svc.lastScan.Size)
	assert.Equal(t, []any{"u1"}, svc.lastScan.Filters[0].Values)

	w, _ = do(t, r, http.MethodGet, "/api/v1/billing/transactions", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/billing/transactions?user_id=u1&size=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHealthRoutes(r)
	w, env := do(t, r, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}
