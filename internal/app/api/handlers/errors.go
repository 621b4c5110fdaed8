package handlers

import (
	"errors"
	"net/http"

	nh "github.com/fatflowers/stembill/internal/app/service/notification_handler"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/response"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"
)

// statusFor maps a service error onto the HTTP status and envelope code.
func statusFor(err error) (int, response.APIResponseCode) {
	var se *stripe.Error
	switch {
	case nh.IsVerificationError(err):
		return http.StatusBadRequest, response.APIResponseCodeVerificationFailed
	case errors.Is(err, types.ErrInvariantViolation):
		return http.StatusBadRequest, response.APIResponseCodeInvariantViolation
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, stripe_client.ErrNotFound):
		return http.StatusNotFound, response.APIResponseCodeNotFound
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return http.StatusConflict, response.APIResponseCodeConflict
	case errors.Is(err, stripe_client.ErrNotConfigured), errors.As(err, &se):
		return http.StatusBadGateway, response.APIResponseCodeUpstreamError
	default:
		return http.StatusInternalServerError, response.APIResponseCodeError
	}
}

// respondError writes err with its mapped status. Client errors carry the
// error text; server errors only the generic message.
func respondError(c *gin.Context, base *zap.SugaredLogger, err error) {
	status, code := statusFor(err)
	log := logctx.FromGin(c, base)
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.FullPath(), "status", status, "err", err)
		c.JSON(status, response.ErrorT[any](code, nil))
		return
	}
	log.Infow("request refused", "path", c.FullPath(), "status", status, "err", err)
	c.JSON(status, response.ErrorMsg(code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
}
