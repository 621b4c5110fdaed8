package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	"github.com/fatflowers/stembill/internal/app/service/storage_limit"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func (r *Reconciler) lookupPlan(priceID string) (types.PlanItem, error) {
	plan, err := r.catalog.Lookup(priceID)
	if err != nil {
		return types.PlanItem{}, fmt.Errorf("%w: %w", ErrUnresolvedReference, err)
	}
	return plan, nil
}

func findSubscription(ctx context.Context, tx repository.Repository, externalID string) (*models.Subscription, error) {
	sub, err := tx.FindSubscriptionByExternalID(ctx, externalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription %s: %w", externalID, err)
	}
	return sub, nil
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, tx repository.Repository, p *verifier.PaymentSucceeded, fresh *stripe_client.Subscription, buf *activity.Buffer) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("invoice_id", p.InvoiceID, "subscription_id", p.SubscriptionID, "customer_id", p.CustomerID)
	if p.SubscriptionID == "" {
		log.Infow("invoice without subscription ignored")
		return OutcomeIgnored, nil
	}
	user, err := userByCustomer(ctx, tx, p.CustomerID)
	if err != nil {
		return "", err
	}

	if fresh != nil && !fresh.IsLive() {
		// A late invoice for a subscription Stripe has since ended must not
		// reactivate it; the payment is still booked.
		log.Warnw("payment for subscription that is no longer live", "user_id", user.ID, "stripe_status", fresh.Status)
		if err := r.bookInvoice(ctx, tx, user.ID, p); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}

	priceID, periodStart, periodEnd, cancelAtPeriodEnd := p.PriceID, p.PeriodStart, p.PeriodEnd, false
	if fresh != nil {
		priceID = lo.CoalesceOrEmpty(fresh.PriceID, priceID)
		if !fresh.CurrentPeriodEnd.IsZero() {
			periodStart, periodEnd = fresh.CurrentPeriodStart, fresh.CurrentPeriodEnd
		}
		cancelAtPeriodEnd = fresh.CancelAtPeriodEnd
	}
	plan, err := r.lookupPlan(priceID)
	if err != nil {
		return "", err
	}

	sub, err := findSubscription(ctx, tx, p.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub != nil && sub.UserID != user.ID {
		return "", fmt.Errorf("%w: subscription %s belongs to user %s, invoice customer maps to %s",
			ErrInvariantViolation, p.SubscriptionID, sub.UserID, user.ID)
	}
	activated := sub == nil || !sub.IsActive
	if sub == nil {
		sub = &models.Subscription{UserID: user.ID, ExternalID: p.SubscriptionID}
	}

	replaced, err := tx.DeactivateOtherSubscriptions(ctx, user.ID, p.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("deactivate other subscriptions of %s: %w", user.ID, err)
	}
	if replaced > 0 {
		log.Infow("older active subscription deactivated", "user_id", user.ID, "count", replaced)
	}

	previousPrice := sub.PriceID
	cancelToggled := sub.CancelAtPeriodEnd != cancelAtPeriodEnd
	sub.PriceID = priceID
	sub.Plan = plan.Plan
	sub.Interval = lo.CoalesceOrEmpty(plan.Interval, intervalOf(fresh))
	sub.StartDate, sub.EndDate = periodStart, periodEnd
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd
	sub.IsActive = true
	if sub.PendingDowngradeTo != nil && *sub.PendingDowngradeTo == priceID {
		sub.ClearPendingDowngrade()
	}
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("save subscription %s: %w", p.SubscriptionID, err)
	}

	prev := storage_limit.Of(user)
	user.SubscriptionStatus = types.SubscriptionStatusSubscribed
	user.StorageLimit = plan.StorageLimitBytes
	state := r.storage.Clear(user.StorageUsed, user.StorageLimit)
	state.ApplyTo(user)
	if err := tx.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("update user %s: %w", user.ID, err)
	}

	if err := r.bookInvoice(ctx, tx, user.ID, p); err != nil {
		return "", err
	}

	action := activity.ActionSubscriptionRenewed
	switch {
	case activated:
		action = activity.ActionSubscriptionActivated
	case previousPrice != "" && previousPrice != priceID:
		action = activity.ActionSubscriptionPlanChanged
	}
	buf.Add(user.ID, action, activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), map[string]any{
		"invoice_id":     p.InvoiceID,
		"billing_reason": p.BillingReason,
		"plan":           plan.Plan,
		"price_id":       priceID,
		"previous_price": previousPrice,
		"amount_paid":    p.AmountPaid,
		"currency":       p.Currency,
		"period_end":     periodEnd,
	})
	if cancelToggled {
		// The later customer.subscription.updated will find the flag already
		// set, so the toggle is recorded here.
		buf.Add(user.ID, cancelAction(cancelAtPeriodEnd), activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), map[string]any{
			"period_end": periodEnd,
		})
	}
	r.noteGrace(buf, user, prev, state)
	log.Infow("subscription payment applied", "user_id", user.ID, "plan", plan.Plan, "activated", activated)
	return OutcomeApplied, nil
}

// bookInvoice appends the ledger row for a paid invoice. A replay of the same
// invoice is a no-op.
func (r *Reconciler) bookInvoice(ctx context.Context, tx repository.Repository, userID string, p *verifier.PaymentSucceeded) error {
	created, err := tx.CreateTransaction(ctx, &models.Transaction{
		UserID:                 userID,
		Type:                   types.TransactionTypeSubscriptionPayment,
		ExternalRef:            p.InvoiceID,
		Amount:                 decimal.New(p.AmountPaid, -2),
		Currency:               strings.ToLower(p.Currency),
		SubscriptionExternalID: lo.ToPtr(p.SubscriptionID),
		InvoiceID:              lo.EmptyableToPtr(p.InvoiceID),
		PaymentIntentID:        lo.EmptyableToPtr(p.PaymentIntentID),
		ChargeID:               lo.EmptyableToPtr(p.ChargeID),
	})
	if err != nil {
		return fmt.Errorf("record invoice %s: %w", p.InvoiceID, err)
	}
	if !created {
		logctx.FromCtx(ctx, r.log).Infow("invoice already booked", "invoice_id", p.InvoiceID)
	}
	return nil
}

func intervalOf(s *stripe_client.Subscription) string {
	if s == nil {
		return ""
	}
	return s.Interval
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, tx repository.Repository, p *verifier.PaymentFailed, buf *activity.Buffer) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("invoice_id", p.InvoiceID, "subscription_id", p.SubscriptionID,
		"customer_id", p.CustomerID, "attempt_count", p.AttemptCount)
	if p.SubscriptionID == "" {
		log.Infow("failed invoice without subscription ignored")
		return OutcomeIgnored, nil
	}
	user, err := userByCustomer(ctx, tx, p.CustomerID)
	if err != nil {
		return "", err
	}
	meta := map[string]any{
		"invoice_id":     p.InvoiceID,
		"billing_reason": p.BillingReason,
		"attempt_count":  p.AttemptCount,
		"amount_due":     p.AmountDue,
		"currency":       p.Currency,
	}

	if p.FirstAttempt() {
		log.Warnw("first subscription payment failed", "user_id", user.ID)
		buf.Add(user.ID, activity.ActionSubscriptionFirstPaymentFail, activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), meta)
		return OutcomeApplied, nil
	}

	sub, err := findSubscription(ctx, tx, p.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil || !sub.IsActive {
		log.Warnw("renewal failed for unknown or inactive subscription", "user_id", user.ID, "known", sub != nil)
		return OutcomeIgnored, nil
	}
	if sub.UserID != user.ID {
		return "", fmt.Errorf("%w: subscription %s belongs to user %s, invoice customer maps to %s",
			ErrInvariantViolation, p.SubscriptionID, sub.UserID, user.ID)
	}
	if !user.SubscriptionStatus.CanTransition(types.SubscriptionStatusPastDue) {
		log.Warnw("user status does not allow past_due", "user_id", user.ID, "status", user.SubscriptionStatus)
		return OutcomeIgnored, nil
	}

	user.SubscriptionStatus = types.SubscriptionStatusPastDue
	if err := tx.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("update user %s: %w", user.ID, err)
	}
	buf.Add(user.ID, activity.ActionSubscriptionPastDue, activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), meta)
	log.Warnw("subscription renewal failed, user past due", "user_id", user.ID)
	return OutcomeApplied, nil
}

func (r *Reconciler) applySubscriptionCancelled(ctx context.Context, tx repository.Repository, p *verifier.SubscriptionCancelled, buf *activity.Buffer) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("subscription_id", p.SubscriptionID, "customer_id", p.CustomerID)
	sub, err := findSubscription(ctx, tx, p.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", fmt.Errorf("%w: subscription %s", ErrUnresolvedReference, p.SubscriptionID)
	}
	if !sub.IsActive {
		log.Infow("subscription already inactive")
		return OutcomeIgnored, nil
	}
	user, err := userByID(ctx, tx, sub.UserID)
	if err != nil {
		return "", err
	}

	sub.IsActive = false
	sub.CancelAtPeriodEnd = false
	sub.ClearPendingDowngrade()
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("save subscription %s: %w", p.SubscriptionID, err)
	}

	meta := map[string]any{
		"plan":     sub.Plan,
		"price_id": sub.PriceID,
		"reason":   p.Reason,
		"feedback": p.Feedback,
		"comment":  p.Comment,
	}
	if !p.EndedAt.IsZero() {
		meta["ended_at"] = p.EndedAt
	}

	other, err := tx.FindActiveSubscriptionByUser(ctx, user.ID)
	switch {
	case err == nil:
		log.Infow("user keeps another active subscription", "user_id", user.ID, "active_subscription_id", other.ExternalID)
		meta["still_subscribed_via"] = other.ExternalID
		buf.Add(user.ID, activity.ActionSubscriptionCancelled, activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), meta)
		return OutcomeApplied, nil
	case !errors.Is(err, repository.ErrNotFound):
		return "", fmt.Errorf("find active subscription of %s: %w", user.ID, err)
	}

	prev := storage_limit.Of(user)
	user.SubscriptionStatus = types.SubscriptionStatusFree
	user.StorageLimit = r.catalog.FreeStorageLimit()
	state := r.storage.Evaluate(user.StorageUsed, user.StorageLimit, r.now())
	state.ApplyTo(user)
	if err := tx.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("update user %s: %w", user.ID, err)
	}

	buf.Add(user.ID, activity.ActionSubscriptionCancelled, activity.TargetSubscription, lo.ToPtr(p.SubscriptionID), meta)
	r.noteGrace(buf, user, prev, state)
	log.Infow("subscription cancelled, user back on free tier", "user_id", user.ID,
		"storage_used", user.StorageUsed, "storage_limit", user.StorageLimit, "grace", state.IsInGracePeriod)
	return OutcomeApplied, nil
}

func cancelAction(cancelAtPeriodEnd bool) string {
	if cancelAtPeriodEnd {
		return activity.ActionSubscriptionCancelScheduled
	}
	return activity.ActionSubscriptionResumed
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, tx repository.Repository, p *verifier.SubscriptionUpdated, fresh *stripe_client.Subscription, buf *activity.Buffer) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("subscription_id", p.SubscriptionID, "customer_id", p.CustomerID, "status", p.Status)
	sub, err := findSubscription(ctx, tx, p.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", fmt.Errorf("%w: subscription %s", ErrUnresolvedReference, p.SubscriptionID)
	}
	if !sub.IsActive {
		log.Infow("update for inactive subscription ignored")
		return OutcomeIgnored, nil
	}

	changed := false
	if p.CancelAtPeriodEndChanged && sub.CancelAtPeriodEnd != p.CancelAtPeriodEnd {
		sub.CancelAtPeriodEnd = p.CancelAtPeriodEnd
		buf.Add(sub.UserID, cancelAction(p.CancelAtPeriodEnd), activity.TargetSubscription, lo.ToPtr(sub.ExternalID), map[string]any{
			"period_end": sub.EndDate,
		})
		changed = true
	}

	if p.ItemsChanged && p.HasPendingUpdate {
		log.Infow("item change waits on pending update")
	}
	if p.ItemsChanged && !p.HasPendingUpdate && fresh != nil && planMoved(sub, fresh) {
		if err := r.applyPlanChange(ctx, tx, sub, fresh, buf); err != nil {
			return "", err
		}
		changed = true
	}

	if !changed {
		return OutcomeIgnored, nil
	}
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("save subscription %s: %w", sub.ExternalID, err)
	}
	return OutcomeApplied, nil
}

func planMoved(sub *models.Subscription, fresh *stripe_client.Subscription) bool {
	if fresh.PriceID != sub.PriceID {
		return true
	}
	return !fresh.CurrentPeriodEnd.IsZero() && !fresh.CurrentPeriodEnd.Equal(sub.EndDate)
}

// applyPlanChange copies the provider's current price and period onto sub and
// recomputes the owner's storage ceiling. sub is saved by the caller.
func (r *Reconciler) applyPlanChange(ctx context.Context, tx repository.Repository, sub *models.Subscription, fresh *stripe_client.Subscription, buf *activity.Buffer) error {
	plan, err := r.lookupPlan(fresh.PriceID)
	if err != nil {
		return err
	}
	user, err := userByID(ctx, tx, sub.UserID)
	if err != nil {
		return err
	}

	previousPrice := sub.PriceID
	sub.PriceID = fresh.PriceID
	sub.Plan = plan.Plan
	sub.Interval = lo.CoalesceOrEmpty(plan.Interval, fresh.Interval)
	if !fresh.CurrentPeriodEnd.IsZero() {
		sub.StartDate, sub.EndDate = fresh.CurrentPeriodStart, fresh.CurrentPeriodEnd
	}
	if sub.PendingDowngradeTo != nil && *sub.PendingDowngradeTo == fresh.PriceID {
		sub.ClearPendingDowngrade()
	}

	prev := storage_limit.Of(user)
	user.StorageLimit = plan.StorageLimitBytes
	state := r.storage.OpenGrace(user.StorageUsed, user.StorageLimit, sub.EndDate)
	state.ApplyTo(user)
	if err := tx.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}

	buf.Add(user.ID, activity.ActionSubscriptionPlanChanged, activity.TargetSubscription, lo.ToPtr(sub.ExternalID), map[string]any{
		"previous_price": previousPrice,
		"price_id":       fresh.PriceID,
		"plan":           plan.Plan,
		"storage_limit":  plan.StorageLimitBytes,
	})
	r.noteGrace(buf, user, prev, state)
	logctx.FromCtx(ctx, r.log).Infow("subscription plan changed", "user_id", user.ID,
		"previous_price", previousPrice, "price_id", fresh.PriceID, "grace", state.IsInGracePeriod)
	return nil
}

// noteGrace audits a grace window opening or closing.
func (r *Reconciler) noteGrace(buf *activity.Buffer, user *models.User, prev, next storage_limit.State) {
	meta := map[string]any{"storage_used": user.StorageUsed, "storage_limit": user.StorageLimit}
	switch {
	case next.IsInGracePeriod && !prev.IsInGracePeriod:
		meta["expires_at"] = lo.FromPtr(next.GracePeriodExpiresAt).Format(time.RFC3339)
		buf.Add(user.ID, activity.ActionStorageGraceStarted, activity.TargetUser, lo.ToPtr(user.ID), meta)
	case !next.IsInGracePeriod && prev.IsInGracePeriod:
		buf.Add(user.ID, activity.ActionStorageGraceCleared, activity.TargetUser, lo.ToPtr(user.ID), meta)
	}
}
