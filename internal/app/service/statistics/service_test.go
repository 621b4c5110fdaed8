package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/db/dbtest"
	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func seed(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	ledger := []struct {
		typ    types.TransactionType
		amount string
		at     time.Time
	}{
		{types.TransactionTypeSubscriptionPayment, "12.00", now.Add(-time.Hour)},
		{types.TransactionTypeSubscriptionPayment, "30.50", now.Add(-2 * time.Hour)},
		{types.TransactionTypeProjectPayment, "100.00", now.Add(-25 * time.Hour)},
		{types.TransactionTypeRefund, "-100.00", now.Add(-24 * time.Hour)},
		{types.TransactionTypeSubscriptionPayment, "12.00", now.AddDate(0, 0, -90)},
	}
	for i, l := range ledger {
		require.NoError(t, gdb.Create(&models.Transaction{
			ID: tool.GenerateUUIDV7(), UserID: "u1", Type: l.typ, ExternalRef: string(rune('a' + i)),
			Amount: decimal.RequireFromString(l.amount), Currency: "usd", CreatedAt: l.at,
		}).Error)
	}

	require.NoError(t, gdb.Create([]*models.User{
		{ID: "u1", SubscriptionStatus: types.SubscriptionStatusSubscribed},
		{ID: "u2", SubscriptionStatus: types.SubscriptionStatusFree, HasExceededStorageLimit: true, IsInGracePeriod: true},
		{ID: "u3", SubscriptionStatus: types.SubscriptionStatusFree, HasExceededStorageLimit: true},
	}).Error)
	require.NoError(t, gdb.Create([]*models.Subscription{
		{ID: tool.GenerateUUIDV7(), ExternalID: "sub_1", UserID: "u1", Plan: "pro", PriceID: "price_pro", IsActive: true},
		{ID: tool.GenerateUUIDV7(), ExternalID: "sub_0", UserID: "u2", Plan: "basic", PriceID: "price_basic"},
	}).Error)
	require.NoError(t, gdb.Create([]*models.Project{
		{ID: "p1", OwnerID: "u1", Amount: decimal.NewFromInt(100), PaymentStatus: types.PaymentStatusPaid},
		{ID: "p2", OwnerID: "u1", Amount: decimal.NewFromInt(50), PaymentStatus: types.PaymentStatusUnpaid},
		{ID: "p3", OwnerID: "u1", PaymentStatus: types.PaymentStatusPaid},
	}).Error)
}

func TestBillingSummary_All(t *testing.T) {
	gdb := dbtest.New(t)
	seed(t, gdb)
	s := New(gdb)
	s.now = func() time.Time { return now }

	res, err := s.BillingSummary(context.Background(), &BillingSummaryRequest{Days: 7})
	require.NoError(t, err)
	require.Len(t, res.DataItems, len(allStatisticTypes))

	daily := res.DataItems[StatisticTypeDailyLedger]
	require.Len(t, daily, 3, "the 90 day old row is outside the window")
	assert.Equal(t, "2026-05-10", daily[0].Date)
	assert.Equal(t, string(types.TransactionTypeSubscriptionPayment), daily[0].Group)
	assert.EqualValues(t, 2, daily[0].Value)
	assert.True(t, decimal.RequireFromString("42.50").Equal(*daily[0].Amount))
	assert.Equal(t, "2026-05-09", daily[1].Date)
	assert.Equal(t, string(types.TransactionTypeProjectPayment), daily[1].Group)
	assert.Equal(t, string(types.TransactionTypeRefund), daily[2].Group)

	assert.Equal(t, []StatisticDataItem{{Label: "pro", Value: 1}}, res.DataItems[StatisticTypeActiveSubscriptionsByPlan])
	assert.Equal(t, []StatisticDataItem{{Label: "free", Value: 2}, {Label: "subscribed", Value: 1}}, res.DataItems[StatisticTypeUsersByStatus])
	assert.Equal(t, []StatisticDataItem{{Value: 1}}, res.DataItems[StatisticTypeUsersInGrace])
	assert.Equal(t, []StatisticDataItem{{Value: 2}}, res.DataItems[StatisticTypeUsersOverLimit])
	assert.Equal(t, []StatisticDataItem{{Label: "Paid", Value: 2}, {Label: "Unpaid", Value: 1}}, res.DataItems[StatisticTypeProjectsByPaymentStatus])
}

func TestBillingSummary_SelectedItems(t *testing.T) {
	gdb := dbtest.New(t)
	s := New(gdb)

	res, err := s.BillingSummary(context.Background(), &BillingSummaryRequest{
		DataItems: []StatisticType{StatisticTypeUsersInGrace, StatisticTypeDailyLedger},
	})
	require.NoError(t, err)
	assert.Len(t, res.DataItems, 2)
	assert.Equal(t, []StatisticDataItem{}, res.DataItems[StatisticTypeDailyLedger])

	_, err = s.BillingSummary(context.Background(), &BillingSummaryRequest{DataItems: []StatisticType{"gmv_forecast"}})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
}
