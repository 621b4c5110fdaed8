package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/fatflowers/stembill/internal/repository/memrepo"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordAppends(t *testing.T) {
	repo := memrepo.New()
	r := New(repo, zap.NewNop().Sugar())

	r.Record(context.Background(), "u1", ActionSubscriptionActivated, TargetSubscription, lo.ToPtr("sub_1"), map[string]any{"plan": "pro"})

	got := repo.Activities()
	require.Len(t, got, 1)
	require.Equal(t, ActionSubscriptionActivated, got[0].Action)
	require.Equal(t, "pro", got[0].Metadata["plan"])
}

func TestRecordSwallowsFailures(t *testing.T) {
	repo := memrepo.New()
	repo.FailOn("CreateActivity", errors.New("disk full"))
	core, logs := observer.New(zap.ErrorLevel)
	r := New(repo, zap.New(core).Sugar())

	require.NotPanics(t, func() {
		r.Record(context.Background(), "u1", ActionSubscriptionCancelled, TargetSubscription, nil, nil)
	})
	require.Equal(t, 1, logs.FilterMessage("failed to record activity").Len())
	require.Empty(t, repo.Activities())
}

func TestFlushBuffer(t *testing.T) {
	repo := memrepo.New()
	r := New(repo, zap.NewNop().Sugar())
	var b Buffer
	b.Add("u1", ActionSubscriptionResumed, TargetSubscription, nil, nil)
	b.Add("", ActionSubscriptionResumed, TargetSubscription, nil, nil)
	b.Add("u1", ActionStorageGraceCleared, TargetUser, lo.ToPtr("u1"), nil)

	r.Flush(context.Background(), &b)
	require.Len(t, repo.Activities(), 2)

	var nilBuf *Buffer
	r.Flush(context.Background(), nilBuf)
}
