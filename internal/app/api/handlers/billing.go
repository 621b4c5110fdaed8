package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_change"
	"github.com/fatflowers/stembill/internal/app/service/storage_usage"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PlanChanger interface {
	ChangePlan(ctx context.Context, req *plan_change.ChangePlanRequest) (*plan_change.ChangePlanResult, error)
}

type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, projectID, clientID string) (*payment_settler.PaymentIntentResult, error)
}

type StorageRecalculator interface {
	Recalculate(ctx context.Context, req *storage_usage.RecalculateRequest) (*models.User, error)
}

type CreatePaymentIntentRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	ClientID  string `json:"client_id" binding:"required"`
}

// StorageStateResponse is the storage view of a user after a recompute.
type StorageStateResponse struct {
	UserID                  string     `json:"user_id"`
	StorageUsed             int64      `json:"storage_used"`
	StorageLimit            int64      `json:"storage_limit"`
	HasExceededStorageLimit bool       `json:"has_exceeded_storage_limit"`
	IsInGracePeriod         bool       `json:"is_in_grace_period"`
	GracePeriodExpiresAt    *time.Time `json:"grace_period_expires_at,omitempty"`
}

// @Summary      Change Plan
// @Description  Upgrades apply immediately with prorations. Downgrades are scheduled for the end of the current period.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        request body plan_change.ChangePlanRequest true "Target price"
// @Success      200  {object}  handlers.RespChangePlan
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/billing/change_plan [post]
func ApiChangePlan(svc PlanChanger, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req plan_change.ChangePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.ChangePlan(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Create Project Payment Intent
// @Description  Opens a destination charge so the client can pay the project owner.
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        request body handlers.CreatePaymentIntentRequest true "Project and paying client"
// @Success      200  {object}  handlers.RespPaymentIntent
// @Failure      400  {object}  handlers.RespOK
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/projects/payment_intent [post]
func ApiCreatePaymentIntent(svc PaymentIntentCreator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.CreatePaymentIntent(c.Request.Context(), req.ProjectID, req.ClientID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Recalculate Storage
// @Description  Records a new storage usage figure and re-derives the exceeded and grace flags.
// @Tags         Storage
// @Accept       json
// @Produce      json
// @Param        request body storage_usage.RecalculateRequest true "User and bytes used"
// @Success      200  {object}  handlers.RespStorageState
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/storage/recalculate [post]
func ApiRecalculateStorage(svc StorageRecalculator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req storage_usage.RecalculateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, err := svc.Recalculate(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		out := StorageStateResponse{
			UserID:                  u.ID,
			StorageUsed:             u.StorageUsed,
			StorageLimit:            u.StorageLimit,
			HasExceededStorageLimit: u.HasExceededStorageLimit,
			IsInGracePeriod:         u.IsInGracePeriod,
			GracePeriodExpiresAt:    u.GracePeriodExpiresAt,
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

func RegisterBillingRoutes(r gin.IRouter, plans PlanChanger, payments PaymentIntentCreator, storage StorageRecalculator, log *zap.SugaredLogger) {
	r.POST("/billing/change_plan", ApiChangePlan(plans, log))
	r.POST("/projects/payment_intent", ApiCreatePaymentIntent(payments, log))
	r.POST("/storage/recalculate", ApiRecalculateStorage(storage, log))
}
