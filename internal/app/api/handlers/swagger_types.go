package handlers

import (
	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_change"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	"github.com/fatflowers/stembill/internal/app/service/statistics"
	"github.com/fatflowers/stembill/internal/app/service/transaction"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespWebhook struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    reconciler.Result        `json:"data"`
}

type RespChangePlan struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    plan_change.ChangePlanResult `json:"data"`
}

type RespPaymentIntent struct {
	Code    response.APIResponseCode            `json:"code"`
	Message string                              `json:"message"`
	Data    payment_settler.PaymentIntentResult `json:"data"`
}

type RespStorageState struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    StorageStateResponse     `json:"data"`
}

// RespListTransactions wraps ScanTransactionsResponse in the standard envelope.
type RespListTransactions struct {
	Code    response.APIResponseCode             `json:"code"`
	Message string                               `json:"message"`
	Data    transaction.ScanTransactionsResponse `json:"data"`
}

type RespListActivities struct {
	Code    response.APIResponseCode           `json:"code"`
	Message string                             `json:"message"`
	Data    transaction.ScanActivitiesResponse `json:"data"`
}

type RespResetProcessedEvent struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    ResetProcessedEventResponse `json:"data"`
}

// RespBillingSummary wraps BillingSummaryResponse in the standard envelope.
type RespBillingSummary struct {
	Code    response.APIResponseCode          `json:"code"`
	Message string                            `json:"message"`
	Data    statistics.BillingSummaryResponse `json:"data"`
}

// RespUserListTransactions wraps a list of transactions in the standard envelope.
type RespUserListTransactions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.Transaction     `json:"data"`
}
