package storage_limit

import (
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/config"
	"go.uber.org/fx"
)

// State is the derived storage flag set of a user. A valid State always has
// IsInGracePeriod implying HasExceededStorageLimit and a non-nil expiry.
type State struct {
	HasExceededStorageLimit bool
	IsInGracePeriod         bool
	GracePeriodExpiresAt    *time.Time
}

// Of reads the current flags off a user.
func Of(u *models.User) State {
	return State{
		HasExceededStorageLimit: u.HasExceededStorageLimit,
		IsInGracePeriod:         u.IsInGracePeriod,
		GracePeriodExpiresAt:    u.GracePeriodExpiresAt,
	}
}

// ApplyTo copies the flags onto u.
func (s State) ApplyTo(u *models.User) {
	u.HasExceededStorageLimit = s.HasExceededStorageLimit
	u.IsInGracePeriod = s.IsInGracePeriod
	u.GracePeriodExpiresAt = s.GracePeriodExpiresAt
}

// Evaluator computes storage flags. All methods are pure.
type Evaluator struct {
	grace time.Duration
}

func New(grace time.Duration) *Evaluator {
	if grace <= 0 {
		grace = config.DefaultGracePeriod
	}
	return &Evaluator{grace: grace}
}

func NewFromConfig(cfg *config.Config) *Evaluator {
	return New(cfg.Billing.GracePeriod)
}

func (e *Evaluator) GracePeriod() time.Duration { return e.grace }

// Evaluate is used when the limit changes because of a plan change or a
// cancellation: exceeding the limit opens a grace window ending grace after now.
func (e *Evaluator) Evaluate(storageUsed, storageLimit int64, now time.Time) State {
	return e.OpenGrace(storageUsed, storageLimit, now)
}

// OpenGrace is Evaluate with an explicit anchor, e.g. the current period end.
func (e *Evaluator) OpenGrace(storageUsed, storageLimit int64, anchor time.Time) State {
	if storageUsed <= storageLimit {
		return State{}
	}
	expires := anchor.Add(e.grace)
	return State{HasExceededStorageLimit: true, IsInGracePeriod: true, GracePeriodExpiresAt: &expires}
}

// Clear recomputes the exceeded flag and drops any grace window. Used after a
// successful payment.
func (e *Evaluator) Clear(storageUsed, storageLimit int64) State {
	return State{HasExceededStorageLimit: storageUsed > storageLimit}
}

// Recheck is the opportunistic recompute run when usage changes without a
// plan change. An open window is kept while still exceeding and cleared once
// usage is back under the limit; a new window is never opened here.
func (e *Evaluator) Recheck(storageUsed, storageLimit int64, prev State) State {
	if storageUsed <= storageLimit {
		return State{}
	}
	if prev.IsInGracePeriod && prev.GracePeriodExpiresAt != nil {
		return State{HasExceededStorageLimit: true, IsInGracePeriod: true, GracePeriodExpiresAt: prev.GracePeriodExpiresAt}
	}
	return State{HasExceededStorageLimit: true}
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
