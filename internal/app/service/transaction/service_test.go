package transaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/db/dbtest"
	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) *Service {
	t.Helper()
	gdb := dbtest.New(t)

	for i := range 5 {
		typ := types.TransactionTypeSubscriptionPayment
		if i%2 == 1 {
			typ = types.TransactionTypeProjectPayment
		}
		require.NoError(t, gdb.Create(&models.Transaction{
			ID:          tool.GenerateUUIDV7(),
			UserID:      lo.Ternary(i < 3, "u1", "u2"),
			Type:        typ,
			ExternalRef: fmt.Sprintf("ref_%d", i),
			Amount:      decimal.NewFromInt(int64(10 * (i + 1))),
			Currency:    "usd",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}
	for i, action := range []string{"subscription.activated", "storage.grace_started", "subscription.activated"} {
		require.NoError(t, gdb.Create(&models.Activity{
			ID:         tool.GenerateUUIDV7(),
			UserID:     "u1",
			Action:     action,
			TargetType: "user",
			Metadata:   datatypes.JSONMap{"i": i},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	return NewService(zap.NewNop().Sugar(), gdb)
}

func TestScanTransactions_FiltersAndPages(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	res, err := s.ScanTransactions(ctx, &ScanRequest{
		Filters: []types.CommonFilter{{Field: "user_id", Operator: types.CommonFilterOperatorEq, Values: []any{"u1"}}},
		Size:    2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "ref_2", res.Items[0].ExternalRef, "newest first by default")
	assert.Equal(t, "ref_1", res.Items[1].ExternalRef)

	res, err = s.ScanTransactions(ctx, &ScanRequest{
		Filters:   []types.CommonFilter{{Field: "type", Operator: types.CommonFilterOperatorIn, Values: []any{string(types.TransactionTypeProjectPayment)}}},
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	assert.Equal(t, []string{"ref_1", "ref_3"}, lo.Map(res.Items, func(txn *models.Transaction, _ int) string { return txn.ExternalRef }))

	res, err = s.ScanTransactions(ctx, &ScanRequest{From: 4, Size: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Total)
	assert.Len(t, res.Items, 1)
}

func TestScanTransactions_RejectsUnlistedColumns(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.ScanTransactions(ctx, &ScanRequest{
		Filters: []types.CommonFilter{{Field: "1=1; drop table users", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}},
	})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)

	_, err = s.ScanTransactions(ctx, &ScanRequest{SortBy: "version"})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)

	_, err = s.ScanTransactions(ctx, &ScanRequest{SortOrder: "sideways"})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)

	_, err = s.ScanTransactions(ctx, nil)
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
}

func TestScanActivities(t *testing.T) {
	s := newService(t)

	res, err := s.ScanActivities(context.Background(), &ScanRequest{
		Filters: []types.CommonFilter{{Field: "action", Operator: types.CommonFilterOperatorEq, Values: []any{"subscription.activated"}}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].CreatedAt.After(res.Items[1].CreatedAt))

	_, err = s.ScanActivities(context.Background(), &ScanRequest{SortBy: "amount"})
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
}
