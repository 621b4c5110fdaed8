package storage_limit

import (
	"math/rand"
	"testing"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/stretchr/testify/require"
)

func checkInvariants(t *testing.T, used, limit int64, s State) {
	t.Helper()
	require.Equal(t, used > limit, s.HasExceededStorageLimit, "used=%d limit=%d", used, limit)
	if s.IsInGracePeriod {
		require.True(t, s.HasExceededStorageLimit)
		require.NotNil(t, s.GracePeriodExpiresAt)
	} else {
		require.Nil(t, s.GracePeriodExpiresAt)
	}
}

func TestEvaluateOpensGraceWhenExceeded(t *testing.T) {
	e := New(config.DefaultGracePeriod)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := e.Evaluate(6*config.GiB, config.DefaultFreeStorageLimitBytes, now)
	require.True(t, s.HasExceededStorageLimit)
	require.True(t, s.IsInGracePeriod)
	require.Equal(t, now.Add(21*24*time.Hour), *s.GracePeriodExpiresAt)

	s = e.Evaluate(config.GiB, config.DefaultFreeStorageLimitBytes, now)
	require.Equal(t, State{}, s)

	// equal is not exceeded
	s = e.Evaluate(100, 100, now)
	require.False(t, s.HasExceededStorageLimit)
}

func TestOpenGraceAnchorsOnPeriodEnd(t *testing.T) {
	e := New(0)
	periodEnd := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	s := e.OpenGrace(2, 1, periodEnd)
	require.Equal(t, periodEnd.AddDate(0, 0, 21), *s.GracePeriodExpiresAt)
}

func TestClearDropsGrace(t *testing.T) {
	e := New(config.DefaultGracePeriod)
	s := e.Clear(10, 5)
	require.True(t, s.HasExceededStorageLimit)
	require.False(t, s.IsInGracePeriod)
	require.Nil(t, s.GracePeriodExpiresAt)
}

func TestRecheck(t *testing.T) {
	e := New(config.DefaultGracePeriod)
	now := time.Now()
	open := e.Evaluate(10, 5, now)

	kept := e.Recheck(8, 5, open)
	require.Equal(t, open.GracePeriodExpiresAt, kept.GracePeriodExpiresAt)
	require.True(t, kept.IsInGracePeriod)

	require.Equal(t, State{}, e.Recheck(4, 5, open))

	noWindow := e.Recheck(10, 5, State{})
	require.True(t, noWindow.HasExceededStorageLimit)
	require.False(t, noWindow.IsInGracePeriod)
}

func TestInvariantsHoldForRandomInputs(t *testing.T) {
	e := New(config.DefaultGracePeriod)
	rng := rand.New(rand.NewSource(7))
	now := time.Now()
	prev := State{}
	for i := 0; i < 2000; i++ {
		used := rng.Int63n(1 << 40)
		limit := rng.Int63n(1 << 40)
		if i%10 == 0 {
			limit = used
		}
		for _, s := range []State{
			e.Evaluate(used, limit, now),
			e.OpenGrace(used, limit, now.Add(time.Hour)),
			e.Clear(used, limit),
			e.Recheck(used, limit, prev),
		} {
			checkInvariants(t, used, limit, s)
			prev = s
		}
	}
}

func TestApplyTo(t *testing.T) {
	e := New(config.DefaultGracePeriod)
	u := &models.User{}
	e.Evaluate(3, 2, time.Now()).ApplyTo(u)
	require.True(t, u.IsInGracePeriod)
	require.Equal(t, Of(u).GracePeriodExpiresAt, u.GracePeriodExpiresAt)
}
