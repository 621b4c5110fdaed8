package handlers

import (
	"context"
	"net/http"

	"github.com/fatflowers/stembill/internal/app/service/statistics"
	"github.com/fatflowers/stembill/internal/app/service/transaction"
	"github.com/fatflowers/stembill/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LedgerScanner interface {
	ScanTransactions(ctx context.Context, req *transaction.ScanRequest) (*transaction.ScanTransactionsResponse, error)
	ScanActivities(ctx context.Context, req *transaction.ScanRequest) (*transaction.ScanActivitiesResponse, error)
}

type EventResetter interface {
	Reset(ctx context.Context, eventID string) (bool, error)
}

type SummaryProvider interface {
	BillingSummary(ctx context.Context, req *statistics.BillingSummaryRequest) (*statistics.BillingSummaryResponse, error)
}

type ResetProcessedEventRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

type ResetProcessedEventResponse struct {
	EventID string `json:"event_id"`
	Existed bool   `json:"existed"`
}

// @Summary      List Transactions (Admin)
// @Description  Retrieves a paginated and filterable list of ledger rows.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body transaction.ScanRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListTransactions
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/admin/list_transactions [post]
func ApiListTransactions(svc LedgerScanner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transaction.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List Activities (Admin)
// @Description  Retrieves a paginated and filterable list of audit entries.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body transaction.ScanRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListActivities
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/v1/admin/list_activities [post]
func ApiListActivities(svc LedgerScanner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transaction.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.ScanActivities(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Reset Processed Event (Admin)
// @Description  Forgets a processed event id so the next delivery of that event is applied again.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ResetProcessedEventRequest true "Event to replay"
// @Success      200  {object}  handlers.RespResetProcessedEvent
// @Router       /api/v1/admin/processed_events/reset [post]
func ApiResetProcessedEvent(dedup EventResetter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetProcessedEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		existed, err := dedup.Reset(c.Request.Context(), req.EventID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ResetProcessedEventResponse{EventID: req.EventID, Existed: existed}))
	}
}

// @Summary      Billing Summary (Admin)
// @Description  Daily ledger totals and point-in-time subscription, storage and project counts.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.BillingSummaryRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespBillingSummary
// @Router       /api/v1/admin/billing_summary [post]
func ApiBillingSummary(svc SummaryProvider, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.BillingSummaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.BillingSummary(c.Request.Context(), &req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, ledger LedgerScanner, dedup EventResetter, stats SummaryProvider, log *zap.SugaredLogger) {
	r.POST("/list_transactions", ApiListTransactions(ledger, log))
	r.POST("/list_activities", ApiListActivities(ledger, log))
	r.POST("/processed_events/reset", ApiResetProcessedEvent(dedup, log))
	r.POST("/billing_summary", ApiBillingSummary(stats, log))
}
