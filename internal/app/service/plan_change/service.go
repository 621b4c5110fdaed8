package plan_change

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	"github.com/fatflowers/stembill/internal/app/service/plan_catalog"
	"github.com/fatflowers/stembill/internal/app/service/storage_limit"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/keylock"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxAttempts = 3

type ChangePlanRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	PriceID string `json:"price_id" binding:"required"`
}

type ChangePlanResult struct {
	Kind           plan_catalog.ChangeKind `json:"kind"`
	SubscriptionID string                  `json:"subscription_id"`
	PriceID        string                  `json:"price_id"`
	Plan           string                  `json:"plan"`
	// EffectiveAt is when the new price applies: now for upgrades, the end
	// of the current period for scheduled changes.
	EffectiveAt  time.Time `json:"effective_at"`
	StorageLimit int64     `json:"storage_limit"`
}

// Service performs user initiated plan changes. Upgrades apply at once with
// prorations; downgrades, and lateral moves under the schedule policy, are
// handed to a Stripe subscription schedule and land later through the
// subscription updated webhook.
type Service struct {
	repo    repository.Repository
	catalog *plan_catalog.Catalog
	storage *storage_limit.Evaluator
	stripe  stripe_client.API
	audit   *activity.Recorder
	locks   keylock.Locker
	policy  types.LateralChangePolicy
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(
	cfg *config.Config,
	repo repository.Repository,
	catalog *plan_catalog.Catalog,
	storage *storage_limit.Evaluator,
	stripe stripe_client.API,
	audit *activity.Recorder,
	locks keylock.Locker,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		storage: storage,
		stripe:  stripe,
		audit:   audit,
		locks:   locks,
		policy:  lo.CoalesceOrEmpty(cfg.Billing.LateralChangePolicy, types.LateralChangeSchedule),
		log:     log,
		now:     time.Now,
	}
}

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func (s *Service) ChangePlan(ctx context.Context, req *ChangePlanRequest) (*ChangePlanResult, error) {
	plan, err := s.catalog.Lookup(req.PriceID)
	if err != nil {
		return nil, invariant("price %s is not a plan", req.PriceID)
	}
	user, err := s.repo.FindUserByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", req.UserID, err)
	}
	customerID := lo.FromPtr(user.StripeCustomerID)
	if customerID == "" {
		return nil, invariant("user %s has no stripe customer", user.ID)
	}

	// Same key as the webhook path so a change cannot interleave with an
	// event for this customer.
	unlock, err := s.locks.Lock(ctx, "customer:"+customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := s.repo.FindActiveSubscriptionByUser(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invariant("user %s has no active subscription", user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("find active subscription of %s: %w", user.ID, err)
	}

	var (
		fresh *stripe_client.Subscription
		price *stripe_client.Price
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fresh, err = s.stripe.RetrieveSubscription(gctx, sub.ExternalID)
		return err
	})
	g.Go(func() error {
		var err error
		price, err = s.stripe.RetrievePrice(gctx, req.PriceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !price.Active {
		return nil, invariant("price %s is archived", req.PriceID)
	}
	if !fresh.IsLive() {
		return nil, invariant("subscription %s is %s", fresh.ID, fresh.Status)
	}

	kind := s.catalog.Classify(lo.ToPtr(sub.PriceID), req.PriceID)
	log := logctx.FromCtx(ctx, s.log).With("user_id", user.ID, "subscription_id", sub.ExternalID,
		"from_price", sub.PriceID, "to_price", req.PriceID, "kind", kind)

	var res *ChangePlanResult
	switch kind {
	case plan_catalog.ChangeNone:
		return nil, invariant("already on price %s", req.PriceID)
	case plan_catalog.ChangeUpgrade:
		res, err = s.upgrade(ctx, user.ID, sub.ExternalID, fresh, plan)
	case plan_catalog.ChangeLateral:
		if s.policy == types.LateralChangeReject {
			return nil, invariant("lateral change from %s to %s is not allowed", sub.PriceID, req.PriceID)
		}
		res, err = s.schedule(ctx, user.ID, sub.ExternalID, fresh, plan, kind)
	default:
		res, err = s.schedule(ctx, user.ID, sub.ExternalID, fresh, plan, kind)
	}
	if err != nil {
		log.Errorw("plan change failed", "err", err)
		return nil, err
	}
	log.Infow("plan change accepted", "effective_at", res.EffectiveAt)
	return res, nil
}

func (s *Service) upgrade(ctx context.Context, userID, subscriptionID string, fresh *stripe_client.Subscription, plan types.PlanItem) (*ChangePlanResult, error) {
	updated, err := s.stripe.UpdateSubscriptionPrice(ctx, fresh.ID, fresh.ItemID, plan.PriceID)
	if err != nil {
		return nil, err
	}

	var (
		previousPrice string
		prev, next    storage_limit.State
		user          *models.User
	)
	err = repository.RunInTransaction(ctx, s.repo, maxAttempts, func(tx repository.Repository) error {
		sub, err := tx.FindSubscriptionByExternalID(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("find subscription %s: %w", subscriptionID, err)
		}
		previousPrice = sub.PriceID
		sub.PriceID, sub.Plan = plan.PriceID, plan.Plan
		sub.Interval = lo.CoalesceOrEmpty(plan.Interval, updated.Interval)
		if !updated.CurrentPeriodEnd.IsZero() {
			sub.StartDate, sub.EndDate = updated.CurrentPeriodStart, updated.CurrentPeriodEnd
		}
		sub.ClearPendingDowngrade()
		if err := tx.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription %s: %w", subscriptionID, err)
		}

		user, err = tx.FindUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("find user %s: %w", userID, err)
		}
		prev = storage_limit.Of(user)
		user.StorageLimit = plan.StorageLimitBytes
		next = s.storage.Recheck(user.StorageUsed, user.StorageLimit, prev)
		next.ApplyTo(user)
		if err := tx.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("update user %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		// Stripe already moved the price; the subscription updated webhook
		// will carry the same change.
		return nil, fmt.Errorf("upgrade applied at stripe, local update failed: %w", err)
	}

	s.audit.Record(ctx, userID, activity.ActionSubscriptionUpgraded, activity.TargetSubscription, lo.ToPtr(subscriptionID), map[string]any{
		"previous_price": previousPrice,
		"price_id":       plan.PriceID,
		"plan":           plan.Plan,
		"storage_limit":  plan.StorageLimitBytes,
	})
	if prev.IsInGracePeriod && !next.IsInGracePeriod {
		s.audit.Record(ctx, userID, activity.ActionStorageGraceCleared, activity.TargetUser, lo.ToPtr(userID), map[string]any{
			"storage_used":  user.StorageUsed,
			"storage_limit": user.StorageLimit,
		})
	}
	return &ChangePlanResult{
		Kind:           plan_catalog.ChangeUpgrade,
		SubscriptionID: subscriptionID,
		PriceID:        plan.PriceID,
		Plan:           plan.Plan,
		EffectiveAt:    s.now().UTC(),
		StorageLimit:   plan.StorageLimitBytes,
	}, nil
}

func (s *Service) schedule(ctx context.Context, userID, subscriptionID string, fresh *stripe_client.Subscription, plan types.PlanItem, kind plan_catalog.ChangeKind) (*ChangePlanResult, error) {
	scheduleID, err := s.stripe.ScheduleDowngrade(ctx, fresh, plan.PriceID)
	if err != nil {
		return nil, err
	}
	effectiveAt := fresh.CurrentPeriodEnd

	err = repository.RunInTransaction(ctx, s.repo, maxAttempts, func(tx repository.Repository) error {
		sub, err := tx.FindSubscriptionByExternalID(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("find subscription %s: %w", subscriptionID, err)
		}
		sub.PendingDowngradeTo = lo.ToPtr(plan.PriceID)
		sub.PendingDowngradeAt = lo.ToPtr(effectiveAt)
		if err := tx.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("save subscription %s: %w", subscriptionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("change scheduled at stripe, local update failed: %w", err)
	}

	s.audit.Record(ctx, userID, activity.ActionSubscriptionDowngradeSched, activity.TargetSubscription, lo.ToPtr(subscriptionID), map[string]any{
		"price_id":     plan.PriceID,
		"plan":         plan.Plan,
		"kind":         string(kind),
		"effective_at": effectiveAt,
		"schedule_id":  scheduleID,
	})
	return &ChangePlanResult{
		Kind:           kind,
		SubscriptionID: subscriptionID,
		PriceID:        plan.PriceID,
		Plan:           plan.Plan,
		EffectiveAt:    effectiveAt,
		StorageLimit:   plan.StorageLimitBytes,
	}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
