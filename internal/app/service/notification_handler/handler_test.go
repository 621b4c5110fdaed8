package notification_handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	"github.com/fatflowers/stembill/internal/app/service/event_verifier/verifiertest"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	platformSecret = "whsec_platform"
	connectSecret  = "whsec_connect"
)

type stubReconciler struct {
	events []*verifier.VerifiedEvent
	res    *reconciler.Result
	err    error
}

func (s *stubReconciler) Reconcile(_ context.Context, ev *verifier.VerifiedEvent) (*reconciler.Result, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	res := *s.res
	res.EventID, res.EventType = ev.ID, ev.Type
	return &res, nil
}

type recordingLog struct {
	mu      sync.Mutex
	entries []models.WebhookEventLog
}

func (l *recordingLog) Save(_ context.Context, e *models.WebhookEventLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
}

func newHandler(rec *stubReconciler, log *recordingLog) *NotificationHandler {
	return &NotificationHandler{
		secrets:    map[Endpoint]string{EndpointPlatform: platformSecret, EndpointConnect: connectSecret},
		verifier:   verifier.New(),
		reconciler: rec,
		notifSvc:   log,
		Logger:     zap.NewNop().Sugar(),
	}
}

func customerEvent(id string) []byte {
	return verifiertest.Event(id, "customer.created", map[string]any{"id": "cus_1", "object": "customer"}, nil)
}

func TestHandleNotification_LogsReceivedAndHandled(t *testing.T) {
	rec := &stubReconciler{res: &reconciler.Result{Outcome: reconciler.OutcomeIgnored}}
	log := &recordingLog{}
	h := newHandler(rec, log)

	body := customerEvent("evt_1")
	res, err := h.HandleNotification(context.Background(), EndpointPlatform, body, verifiertest.Sign(body, platformSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeIgnored, res.Outcome)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "evt_1", rec.events[0].ID)

	require.Len(t, log.entries, 2)
	assert.Equal(t, models.WebhookEventLogStatusReceived, log.entries[0].Status)
	assert.Equal(t, models.WebhookEventLogStatusHandled, log.entries[1].Status)
	assert.Equal(t, "ignored", log.entries[1].Result["outcome"])
	assert.Equal(t, string(EndpointPlatform), log.entries[1].Endpoint)
}

func TestHandleNotification_SecretsAreNotInterchangeable(t *testing.T) {
	rec := &stubReconciler{res: &reconciler.Result{Outcome: reconciler.OutcomeApplied}}
	log := &recordingLog{}
	h := newHandler(rec, log)

	body := customerEvent("evt_2")
	_, err := h.HandleNotification(context.Background(), EndpointConnect, body, verifiertest.Sign(body, platformSecret, time.Now()))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
	assert.Empty(t, rec.events)
	assert.Empty(t, log.entries, "unauthenticated bodies are never stored")

	_, err = h.HandleNotification(context.Background(), EndpointConnect, body, verifiertest.Sign(body, connectSecret, time.Now()))
	require.NoError(t, err)
}

func TestHandleNotification_ReconcileFailure(t *testing.T) {
	rec := &stubReconciler{err: errors.New("db down")}
	log := &recordingLog{}
	h := newHandler(rec, log)

	body := customerEvent("evt_3")
	_, err := h.HandleNotification(context.Background(), EndpointPlatform, body, verifiertest.Sign(body, platformSecret, time.Now()))
	require.Error(t, err)
	assert.False(t, IsVerificationError(err))

	require.Len(t, log.entries, 2)
	assert.Equal(t, models.WebhookEventLogStatusHandleFailed, log.entries[1].Status)
	assert.Equal(t, "db down", log.entries[1].Result["error"])
}

func TestHandleNotification_UnknownEndpoint(t *testing.T) {
	h := newHandler(&stubReconciler{}, &recordingLog{})
	_, err := h.HandleNotification(context.Background(), Endpoint("paypal"), []byte("{}"), "sig")
	require.Error(t, err)
	assert.False(t, IsVerificationError(err))
}
