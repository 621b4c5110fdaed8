package activity

import (
	"context"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ActionSubscriptionActivated        = "subscription.activated"
	ActionSubscriptionRenewed          = "subscription.renewed"
	ActionSubscriptionFirstPaymentFail = "subscription.first_payment_failed"
	ActionSubscriptionPastDue          = "subscription.past_due"
	ActionSubscriptionCancelled        = "subscription.cancelled"
	ActionSubscriptionCancelScheduled  = "subscription.cancel_scheduled"
	ActionSubscriptionResumed          = "subscription.resumed"
	ActionSubscriptionPlanChanged      = "subscription.plan_changed"
	ActionSubscriptionUpgraded         = "subscription.upgraded"
	ActionSubscriptionDowngradeSched   = "subscription.downgrade_scheduled"
	ActionProjectPaymentSucceeded      = "project.payment_succeeded"
	ActionProjectPaymentFailed         = "project.payment_failed"
	ActionProjectPaymentRejected       = "project.payment_rejected"
	ActionConnectAccountUpdated        = "connect.account_updated"
	ActionPaymentRefunded              = "payment.refunded"
	ActionStorageGraceStarted          = "storage.grace_started"
	ActionStorageGraceCleared          = "storage.grace_cleared"
)

const (
	TargetSubscription = "subscription"
	TargetProject      = "project"
	TargetUser         = "user"
	TargetTransaction  = "transaction"
)

// Entry is one audit record waiting to be written.
type Entry struct {
	UserID     string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

// Buffer collects entries produced inside a database transaction so they can
// be written once it commits.
type Buffer struct {
	entries []Entry
}

func (b *Buffer) Add(userID, action, targetType string, targetID *string, metadata map[string]any) {
	b.entries = append(b.entries, Entry{UserID: userID, Action: action, TargetType: targetType, TargetID: targetID, Metadata: metadata})
}

func (b *Buffer) Entries() []Entry {
	if b == nil {
		return nil
	}
	return b.entries
}

// Recorder appends audit entries. Write failures are logged and dropped.
type Recorder struct {
	repo repository.Repository
	log  *zap.SugaredLogger
}

func New(repo repository.Repository, log *zap.SugaredLogger) *Recorder {
	return &Recorder{repo: repo, log: log}
}

func (r *Recorder) Record(ctx context.Context, userID, action, targetType string, targetID *string, metadata map[string]any) {
	r.write(ctx, Entry{UserID: userID, Action: action, TargetType: targetType, TargetID: targetID, Metadata: metadata})
}

// Flush writes every buffered entry in order.
func (r *Recorder) Flush(ctx context.Context, b *Buffer) {
	for _, e := range b.Entries() {
		r.write(ctx, e)
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if e.UserID == "" {
		logctx.FromCtx(ctx, r.log).Warnw("audit entry without user dropped", "action", e.Action, "target_type", e.TargetType)
		return
	}
	a := &models.Activity{
		UserID:     e.UserID,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Metadata:   e.Metadata,
	}
	if err := r.repo.CreateActivity(ctx, a); err != nil {
		logctx.FromCtx(ctx, r.log).Errorw("failed to record activity",
			"user_id", e.UserID, "action", e.Action, "target_type", e.TargetType, "target_id", e.TargetID, "err", err)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
