package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	nh "github.com/fatflowers/stembill/internal/app/service/notification_handler"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 20

type WebhookHandler interface {
	HandleNotification(ctx context.Context, endpoint nh.Endpoint, rawBody []byte, signature string) (*reconciler.Result, error)
}

// @Summary      Stripe Webhook
// @Description  Receives Stripe platform events. The raw body is verified against the Stripe-Signature header before anything else happens.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature header"
// @Param        payload body object true "Stripe event"
// @Success      200  {object}  handlers.RespWebhook
// @Failure      400  {object}  handlers.RespOK
// @Failure      413  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /webhooks/stripe [post]
func ApiStripeWebhook(h WebhookHandler, log *zap.SugaredLogger) gin.HandlerFunc {
	return apiWebhook(h, nh.EndpointPlatform, log)
}

// @Summary      Stripe Connect Webhook
// @Description  Receives events from connected accounts, signed with the connect endpoint secret.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature header"
// @Param        payload body object true "Stripe event"
// @Success      200  {object}  handlers.RespWebhook
// @Failure      400  {object}  handlers.RespOK
// @Failure      413  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /webhooks/stripe-connect [post]
func ApiStripeConnectWebhook(h WebhookHandler, log *zap.SugaredLogger) gin.HandlerFunc {
	return apiWebhook(h, nh.EndpointConnect, log)
}

func apiWebhook(h WebhookHandler, endpoint nh.Endpoint, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logctx.FromGin(c, log).Warnw("webhook body over limit", "endpoint", endpoint, "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, response.ErrorT[any](response.APIResponseCodePayloadTooLarge, nil))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Warnw("webhook body unreadable", "endpoint", endpoint, "err", err)
			badRequest(c, err)
			return
		}

		res, err := h.HandleNotification(c.Request.Context(), endpoint, body, c.GetHeader(verifier.SignatureHeader))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h WebhookHandler, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(h, log))
	r.POST("/stripe-connect", ApiStripeConnectWebhook(h, log))
}
