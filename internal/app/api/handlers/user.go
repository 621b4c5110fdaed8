package handlers

import (
	"net/http"
	"strconv"

	"github.com/fatflowers/stembill/internal/app/service/transaction"
	types "github.com/fatflowers/stembill/pkg/types"

	"github.com/fatflowers/stembill/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @Summary      List User Transactions
// @Description  Returns one user's ledger rows, newest first.
// @Tags         Billing
// @Produce      json
// @Param        user_id query string true "User ID"
// @Param        from query int false "Offset"
// @Param        size query int false "Page size"
// @Success      200  {object}  handlers.RespUserListTransactions
// @Router       /api/v1/billing/transactions [get]
func ApiTransactionList(svc LedgerScanner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		from := 0
		if v := c.Query("from"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				from = n
			}
		}
		size := 100
		if v := c.Query("size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "invalid size"))
				return
			}
			size = n
		}

		req := &transaction.ScanRequest{
			Filters: []types.CommonFilter{{Field: "user_id", Operator: types.CommonFilterOperatorEq, Values: []any{userID}}},
			From:    from,
			Size:    size,
			SortBy:  "created_at",
		}
		res, err := svc.ScanTransactions(c.Request.Context(), req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res.Items))
	}
}

func RegisterTransactionRoutes(r gin.IRouter, svc LedgerScanner, log *zap.SugaredLogger) {
	r.GET("/billing/transactions", ApiTransactionList(svc, log))
}
