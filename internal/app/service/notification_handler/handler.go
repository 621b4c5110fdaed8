package notification_handler

import (
	"context"
	"errors"
	"fmt"

	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	notificationlog "github.com/fatflowers/stembill/internal/app/service/notification_log"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	models "github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/logctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Endpoint names the webhook endpoint an event arrived on. Each endpoint has
// its own signing secret.
type Endpoint string

const (
	EndpointPlatform Endpoint = "stripe"
	EndpointConnect  Endpoint = "stripe_connect"
)

type eventReconciler interface {
	Reconcile(ctx context.Context, ev *verifier.VerifiedEvent) (*reconciler.Result, error)
}

type eventLog interface {
	Save(ctx context.Context, entry *models.WebhookEventLog)
}

// NotificationHandler is the webhook intake: verify, log, reconcile, log the
// outcome.
type NotificationHandler struct {
	secrets    map[Endpoint]string
	verifier   *verifier.Verifier
	reconciler eventReconciler
	notifSvc   eventLog
	Logger     *zap.SugaredLogger
}

func NewNotificationHandler(cfg *config.Config, v *verifier.Verifier, rec *reconciler.Reconciler, notif *notificationlog.Service, log *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{
		secrets: map[Endpoint]string{
			EndpointPlatform: cfg.Stripe.WebhookSecret,
			EndpointConnect:  cfg.Stripe.ConnectWebhookSecret,
		},
		verifier:   v,
		reconciler: rec,
		notifSvc:   notif,
		Logger:     log,
	}
}

// HandleNotification verifies rawBody and reconciles it. A
// *verifier.VerificationError means the request must be refused; any other
// error means Stripe should redeliver.
func (h *NotificationHandler) HandleNotification(ctx context.Context, endpoint Endpoint, rawBody []byte, signature string) (res *reconciler.Result, resErr error) {
	log := logctx.FromCtx(ctx, h.Logger).With("endpoint", endpoint)

	secret, ok := h.secrets[endpoint]
	if !ok {
		return nil, fmt.Errorf("unsupported webhook endpoint: %s", endpoint)
	}
	ev, err := h.verifier.Verify(rawBody, signature, secret)
	if err != nil {
		// Unauthenticated bodies are not persisted.
		log.Warnw("webhook rejected", "err", err)
		return nil, err
	}
	log = log.With("event_id", ev.ID, "event_type", ev.Type)
	if ev.Account != "" {
		log = log.With("account", ev.Account)
	}
	ctx = logctx.WithLogger(ctx, log)

	h.notifSvc.Save(ctx, &models.WebhookEventLog{
		Endpoint:  string(endpoint),
		EventID:   ev.ID,
		EventType: ev.Type,
		Data:      datatypes.JSON(rawBody),
		Status:    models.WebhookEventLogStatusReceived,
	})

	defer func() {
		result := datatypes.JSONMap{}
		status := models.WebhookEventLogStatusHandled
		if res != nil {
			result["outcome"] = string(res.Outcome)
			if res.Detail != "" {
				result["detail"] = res.Detail
			}
		}
		if resErr != nil {
			result["error"] = resErr.Error()
			status = models.WebhookEventLogStatusHandleFailed
		}
		h.notifSvc.Save(ctx, &models.WebhookEventLog{
			Endpoint:  string(endpoint),
			EventID:   ev.ID,
			EventType: ev.Type,
			Data:      datatypes.JSON(rawBody),
			Result:    result,
			Status:    status,
		})
	}()

	res, resErr = h.reconciler.Reconcile(ctx, ev)
	if resErr != nil {
		return nil, resErr
	}
	if res.Outcome == reconciler.OutcomeUnresolved || res.Outcome == reconciler.OutcomeRejected {
		log.Warnw("webhook acknowledged without effect", "outcome", res.Outcome, "detail", res.Detail)
	}
	return res, nil
}

// IsVerificationError reports whether err came from signature verification.
func IsVerificationError(err error) bool {
	var ve *verifier.VerificationError
	return errors.As(err, &ve)
}

var Module = fx.Options(
	fx.Provide(NewNotificationHandler),
)
