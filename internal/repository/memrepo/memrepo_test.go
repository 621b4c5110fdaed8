package memrepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollback(t *testing.T) {
	repo := New()
	ctx := context.Background()
	repo.PutUser(models.User{ID: "u1", Version: 1})

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx repository.Repository) error {
		_, err := tx.InsertProcessedEventIfAbsent(ctx, &models.ProcessedEvent{EventID: "evt_1", ProcessedAt: time.Now()})
		require.NoError(t, err)
		u, err := tx.FindUserByID(ctx, "u1")
		require.NoError(t, err)
		u.StorageLimit = 42
		require.NoError(t, tx.UpdateUser(ctx, u))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, repo.ProcessedEventCount())
	require.Zero(t, repo.User("u1").StorageLimit)
	require.EqualValues(t, 1, repo.User("u1").Version)
}

func TestFailOn(t *testing.T) {
	repo := New()
	boom := errors.New("db down")
	repo.FailOn("CreateActivity", boom)
	require.ErrorIs(t, repo.CreateActivity(context.Background(), &models.Activity{UserID: "u1"}), boom)
	repo.FailOn("CreateActivity", nil)
	require.NoError(t, repo.CreateActivity(context.Background(), &models.Activity{UserID: "u1"}))
	require.Len(t, repo.Activities(), 1)
}

func TestSecondActiveSubscriptionRejected(t *testing.T) {
	repo := New()
	ctx := context.Background()
	require.NoError(t, repo.UpsertSubscription(ctx, &models.Subscription{ExternalID: "sub_1", UserID: "u1", IsActive: true}))
	require.ErrorIs(t, repo.UpsertSubscription(ctx, &models.Subscription{ExternalID: "sub_2", UserID: "u1", IsActive: true}), repository.ErrConcurrentUpdate)
}
