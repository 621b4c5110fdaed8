package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	"github.com/fatflowers/stembill/internal/app/service/event_dedup"
	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_catalog"
	"github.com/fatflowers/stembill/internal/app/service/storage_limit"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/keylock"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/metrics"
	"github.com/fatflowers/stembill/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrUnresolvedReference = types.ErrUnresolvedReference
	ErrInvariantViolation  = types.ErrInvariantViolation
)

type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeRejected   Outcome = "rejected"
	outcomeFailed     Outcome = "failed"
)

// Result describes what happened to one event. Every outcome except a
// returned error is acknowledged to Stripe.
type Result struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
}

// MaxAttempts bounds how often one event's transaction is retried after
// losing an optimistic version check.
const MaxAttempts = 3

// Reconciler applies verified Stripe events to local billing state.
type Reconciler struct {
	repo    repository.Repository
	dedup   *event_dedup.Deduplicator
	catalog *plan_catalog.Catalog
	storage *storage_limit.Evaluator
	settler *payment_settler.Settler
	audit   *activity.Recorder
	stripe  stripe_client.API
	locks   keylock.Locker
	metrics *metrics.Reconciliation
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(
	repo repository.Repository,
	dedup *event_dedup.Deduplicator,
	catalog *plan_catalog.Catalog,
	storage *storage_limit.Evaluator,
	settler *payment_settler.Settler,
	audit *activity.Recorder,
	stripe stripe_client.API,
	locks keylock.Locker,
	m *metrics.Reconciliation,
	log *zap.SugaredLogger,
) *Reconciler {
	return &Reconciler{
		repo:    repo,
		dedup:   dedup,
		catalog: catalog,
		storage: storage,
		settler: settler,
		audit:   audit,
		stripe:  stripe,
		locks:   locks,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// enrichment is provider state fetched before the transaction opens.
type enrichment struct {
	subscription *stripe_client.Subscription
}

// Reconcile applies ev exactly once. A nil error means the event may be
// acknowledged; an error means it should be redelivered.
func (r *Reconciler) Reconcile(ctx context.Context, ev *verifier.VerifiedEvent) (res *Result, err error) {
	start := time.Now()
	res = &Result{EventID: ev.ID, EventType: ev.Type}
	log := logctx.FromCtx(ctx, r.log).With("event_id", ev.ID, "event_type", ev.Type)
	ctx = logctx.WithLogger(ctx, log)
	defer func() {
		outcome := outcomeFailed
		if err == nil && res != nil {
			outcome = res.Outcome
		}
		r.metrics.Observe(ev.Type, string(outcome), start)
	}()

	seen, err := r.dedup.Seen(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: dedup pre-check: %w", ev.ID, err)
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		log.Infow("duplicate event skipped")
		return res, nil
	}

	en, err := r.enrich(ctx, ev)
	if errors.Is(err, ErrUnresolvedReference) {
		return r.acknowledgeOnly(ctx, res, OutcomeUnresolved, err)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ev.ID, err)
	}

	unlock, err := r.locks.Lock(ctx, lockKey(ev))
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", ev.ID, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		buf := &activity.Buffer{}
		var outcome Outcome
		err = r.repo.Transaction(ctx, func(tx repository.Repository) error {
			adm, err := r.dedup.Admit(ctx, tx, ev.ID, ev.Type)
			if err != nil {
				return err
			}
			if adm == event_dedup.AlreadyProcessed {
				outcome = OutcomeDuplicate
				return nil
			}
			outcome, err = r.apply(ctx, tx, ev, en, buf)
			return err
		})
		switch {
		case err == nil:
			r.audit.Flush(ctx, buf)
			res.Outcome = outcome
			log.Infow("event reconciled", "outcome", outcome, "attempt", attempt)
			return res, nil
		case errors.Is(err, repository.ErrConcurrentUpdate) && attempt < MaxAttempts:
			r.metrics.Retry(ev.Type)
			log.Infow("concurrent update, retrying", "attempt", attempt)
			continue
		case errors.Is(err, ErrUnresolvedReference):
			return r.acknowledgeOnly(ctx, res, OutcomeUnresolved, err)
		case errors.Is(err, ErrInvariantViolation):
			return r.acknowledgeOnly(ctx, res, OutcomeRejected, err)
		default:
			log.Errorw("reconcile failed, event will be redelivered", "attempt", attempt, "err", err)
			return nil, fmt.Errorf("reconcile %s: %w", ev.ID, err)
		}
	}
}

// acknowledgeOnly commits the dedup row without any domain mutation so a
// dangling or invalid event is not redelivered forever.
func (r *Reconciler) acknowledgeOnly(ctx context.Context, res *Result, outcome Outcome, cause error) (*Result, error) {
	log := logctx.FromCtx(ctx, r.log)
	var adm event_dedup.Admission
	err := r.repo.Transaction(ctx, func(tx repository.Repository) error {
		var err error
		adm, err = r.dedup.Admit(ctx, tx, res.EventID, res.EventType)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", res.EventID, err)
	}
	if adm == event_dedup.AlreadyProcessed {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	res.Outcome, res.Detail = outcome, cause.Error()
	switch {
	case errors.Is(cause, plan_catalog.ErrUnknownPrice):
		log.Errorw("event references a price missing from the plan catalog, acknowledged without effect", "err", cause)
	case outcome == OutcomeUnresolved:
		log.Warnw("event references unknown entity, acknowledged without effect", "err", cause)
	default:
		log.Warnw("event rejected, acknowledged without effect", "err", cause)
	}
	return res, nil
}

func (r *Reconciler) enrich(ctx context.Context, ev *verifier.VerifiedEvent) (enrichment, error) {
	var subID string
	switch p := ev.Payload.(type) {
	case *verifier.PaymentSucceeded:
		subID = p.SubscriptionID
	case *verifier.SubscriptionUpdated:
		if p.ItemsChanged && !p.HasPendingUpdate {
			subID = p.SubscriptionID
		}
	}
	if subID == "" {
		return enrichment{}, nil
	}
	sub, err := r.stripe.RetrieveSubscription(ctx, subID)
	if errors.Is(err, stripe_client.ErrNotFound) {
		return enrichment{}, fmt.Errorf("%w: stripe subscription %s", ErrUnresolvedReference, subID)
	}
	if err != nil {
		return enrichment{}, err
	}
	return enrichment{subscription: sub}, nil
}

func (r *Reconciler) apply(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, en enrichment, buf *activity.Buffer) (Outcome, error) {
	switch p := ev.Payload.(type) {
	case *verifier.PaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, tx, p, en.subscription, buf)
	case *verifier.PaymentFailed:
		return r.applyPaymentFailed(ctx, tx, p, buf)
	case *verifier.SubscriptionCancelled:
		return r.applySubscriptionCancelled(ctx, tx, p, buf)
	case *verifier.SubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, tx, p, en.subscription, buf)
	case *verifier.ClientPaymentSucceeded, *verifier.ClientPaymentFailed:
		return r.applyClientPayment(ctx, tx, ev, buf)
	case *verifier.ConnectedAccountUpdated:
		return r.applyAccountUpdated(ctx, tx, ev, p, buf)
	case *verifier.ChargeRefunded:
		return r.applyChargeRefunded(ctx, tx, p, buf)
	case *verifier.Unknown:
		logctx.FromCtx(ctx, r.log).Infow("unhandled event type acknowledged")
		return OutcomeIgnored, nil
	default:
		return "", fmt.Errorf("reconcile: unsupported payload %T", ev.Payload)
	}
}

func (r *Reconciler) applyClientPayment(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, buf *activity.Buffer) (Outcome, error) {
	res, err := r.settler.Settle(ctx, tx, ev, buf)
	if err != nil {
		return "", err
	}
	switch res.Outcome {
	case payment_settler.OutcomeSettled, payment_settler.OutcomeFailureSeen:
		return OutcomeApplied, nil
	case payment_settler.OutcomeRejected:
		return OutcomeRejected, nil
	default:
		return OutcomeIgnored, nil
	}
}

// lockKey serializes events that touch the same customer, project or account.
func lockKey(ev *verifier.VerifiedEvent) string {
	switch p := ev.Payload.(type) {
	case *verifier.PaymentSucceeded:
		return keyOr("customer:", p.CustomerID, "subscription:", p.SubscriptionID)
	case *verifier.PaymentFailed:
		return keyOr("customer:", p.CustomerID, "subscription:", p.SubscriptionID)
	case *verifier.SubscriptionCancelled:
		return keyOr("customer:", p.CustomerID, "subscription:", p.SubscriptionID)
	case *verifier.SubscriptionUpdated:
		return keyOr("customer:", p.CustomerID, "subscription:", p.SubscriptionID)
	case *verifier.ClientPaymentSucceeded:
		return keyOr("project:", p.Tag.ProjectID, "payment_intent:", p.PaymentIntentID)
	case *verifier.ClientPaymentFailed:
		return keyOr("project:", p.Tag.ProjectID, "payment_intent:", p.PaymentIntentID)
	case *verifier.ConnectedAccountUpdated:
		return keyOr("account:", p.AccountID, "account:", ev.Account)
	case *verifier.ChargeRefunded:
		return keyOr("customer:", p.CustomerID, "charge:", p.ChargeID)
	}
	return "event:" + ev.ID
}

func keyOr(prefix, id, fallbackPrefix, fallback string) string {
	if id != "" {
		return prefix + id
	}
	return fallbackPrefix + fallback
}

// userByCustomer resolves the local user of a Stripe customer.
func userByCustomer(ctx context.Context, tx repository.Repository, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: event without customer", ErrUnresolvedReference)
	}
	u, err := tx.FindUserByExternalCustomerID(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: customer %s", ErrUnresolvedReference, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("find user by customer %s: %w", customerID, err)
	}
	return u, nil
}

func userByID(ctx context.Context, tx repository.Repository, userID string) (*models.User, error) {
	u, err := tx.FindUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrUnresolvedReference, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return u, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
