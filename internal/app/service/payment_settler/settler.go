package payment_settler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Outcome string

const (
	// OutcomeNotProject is returned for PaymentIntents without project metadata.
	OutcomeNotProject  Outcome = "not_project"
	OutcomeSettled     Outcome = "settled"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeRejected    Outcome = "rejected"
	OutcomeFailureSeen Outcome = "failure_recorded"
)

type SettleResult struct {
	Outcome   Outcome
	ProjectID string
	// Reason explains a rejection.
	Reason string
}

// Settler turns client PaymentIntent events into project state.
type Settler struct {
	repo     repository.Repository
	stripe   stripe_client.API
	currency string
	log      *zap.SugaredLogger
}

func New(repo repository.Repository, stripe stripe_client.API, cfg *config.Config, log *zap.SugaredLogger) *Settler {
	return &Settler{repo: repo, stripe: stripe, currency: cfg.Stripe.Currency, log: log}
}

// Settle applies a client payment event through tx. Audit entries go to buf
// and are written by the caller after commit.
func (s *Settler) Settle(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, buf *activity.Buffer) (SettleResult, error) {
	switch p := ev.Payload.(type) {
	case *verifier.ClientPaymentSucceeded:
		return s.settleSucceeded(ctx, tx, ev, p, buf)
	case *verifier.ClientPaymentFailed:
		return s.settleFailed(ctx, tx, ev, p, buf)
	default:
		return SettleResult{}, fmt.Errorf("settler: unexpected payload %T", ev.Payload)
	}
}

func (s *Settler) findProject(ctx context.Context, tx repository.Repository, projectID string) (*models.Project, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project payment without project id", types.ErrUnresolvedReference)
	}
	project, err := tx.FindProject(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: project %s", types.ErrUnresolvedReference, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("settler: find project %s: %w", projectID, err)
	}
	return project, nil
}

func (s *Settler) settleSucceeded(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, p *verifier.ClientPaymentSucceeded, buf *activity.Buffer) (SettleResult, error) {
	log := logctx.FromCtx(ctx, s.log).With(
		"event_id", ev.ID, "payment_intent_id", p.PaymentIntentID,
		"project_id", p.Tag.ProjectID, "client_id", p.Tag.ClientID, "user_id", p.Tag.UserID)
	if !p.Tag.IsProjectPayment() {
		return SettleResult{Outcome: OutcomeNotProject}, nil
	}
	project, err := s.findProject(ctx, tx, p.Tag.ProjectID)
	if err != nil {
		return SettleResult{}, err
	}
	res := SettleResult{ProjectID: project.ID}

	if project.OwnerID != p.Tag.UserID || project.ClientID != p.Tag.ClientID {
		res.Outcome, res.Reason = OutcomeRejected, "owner or client mismatch"
		log.Warnw("project payment rejected", "reason", res.Reason,
			"project_owner_id", project.OwnerID, "project_client_id", project.ClientID)
		s.reject(buf, project, p, res.Reason)
		return res, nil
	}

	switch project.PaymentStatus {
	case types.PaymentStatusPaid:
		res.Outcome = OutcomeAlreadyPaid
		log.Infow("project already paid")
		return res, nil
	case types.PaymentStatusFree:
		res.Outcome, res.Reason = OutcomeRejected, "project is free"
		log.Warnw("project payment rejected", "reason", res.Reason)
		s.reject(buf, project, p, res.Reason)
		return res, nil
	}

	if reason := amountMismatch(project, p.Amount, p.Currency); reason != "" {
		res.Outcome, res.Reason = OutcomeRejected, reason
		log.Warnw("project payment rejected", "reason", reason,
			"project_amount", project.Amount.String(), "project_currency", project.Currency,
			"paid_cents", p.Amount, "paid_currency", p.Currency)
		s.reject(buf, project, p, reason)
		return res, nil
	}

	moved, err := tx.UpdateProjectPaymentStatus(ctx, project.ID, types.PaymentStatusUnpaid, types.PaymentStatusPaid)
	if err != nil {
		return SettleResult{}, fmt.Errorf("settler: mark project %s paid: %w", project.ID, err)
	}
	if !moved {
		// Status changed after the read; retrying re-evaluates from scratch.
		return SettleResult{}, repository.ErrConcurrentUpdate
	}
	unlocked, err := tx.MarkProjectFilesDownloadable(ctx, project.ID)
	if err != nil {
		return SettleResult{}, fmt.Errorf("settler: unlock files of %s: %w", project.ID, err)
	}

	txn := &models.Transaction{
		UserID:          project.OwnerID,
		Type:            types.TransactionTypeProjectPayment,
		ExternalRef:     p.PaymentIntentID,
		Amount:          project.Amount,
		Currency:        strings.ToLower(project.Currency),
		PaymentIntentID: lo.ToPtr(p.PaymentIntentID),
		ChargeID:        lo.EmptyableToPtr(p.LatestChargeID),
		ProjectID:       lo.ToPtr(project.ID),
	}
	if _, err := tx.CreateTransaction(ctx, txn); err != nil {
		return SettleResult{}, fmt.Errorf("settler: record project payment %s: %w", p.PaymentIntentID, err)
	}

	buf.Add(project.OwnerID, activity.ActionProjectPaymentSucceeded, activity.TargetProject, lo.ToPtr(project.ID), map[string]any{
		"payment_intent_id": p.PaymentIntentID,
		"client_id":         project.ClientID,
		"amount":            project.Amount.String(),
		"currency":          project.Currency,
		"files_unlocked":    unlocked,
	})
	log.Infow("project payment settled", "amount", project.Amount.String(), "files_unlocked", unlocked)
	res.Outcome = OutcomeSettled
	return res, nil
}

func (s *Settler) settleFailed(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, p *verifier.ClientPaymentFailed, buf *activity.Buffer) (SettleResult, error) {
	if !p.Tag.IsProjectPayment() {
		return SettleResult{Outcome: OutcomeNotProject}, nil
	}
	project, err := s.findProject(ctx, tx, p.Tag.ProjectID)
	if err != nil {
		return SettleResult{}, err
	}
	logctx.FromCtx(ctx, s.log).Warnw("project payment failed",
		"event_id", ev.ID, "payment_intent_id", p.PaymentIntentID, "project_id", project.ID,
		"client_id", p.Tag.ClientID, "failure_code", p.FailureCode, "failure_message", p.FailureMessage)
	buf.Add(project.OwnerID, activity.ActionProjectPaymentFailed, activity.TargetProject, lo.ToPtr(project.ID), map[string]any{
		"payment_intent_id": p.PaymentIntentID,
		"client_id":         p.Tag.ClientID,
		"failure_code":      p.FailureCode,
		"failure_message":   p.FailureMessage,
	})
	return SettleResult{Outcome: OutcomeFailureSeen, ProjectID: project.ID}, nil
}

func (s *Settler) reject(buf *activity.Buffer, project *models.Project, p *verifier.ClientPaymentSucceeded, reason string) {
	buf.Add(project.OwnerID, activity.ActionProjectPaymentRejected, activity.TargetProject, lo.ToPtr(project.ID), map[string]any{
		"payment_intent_id": p.PaymentIntentID,
		"reason":            reason,
		"paid_cents":        p.Amount,
		"paid_currency":     p.Currency,
	})
}

// amountMismatch compares the project price in major units with the amount
// Stripe reports in minor units. It returns "" when they agree.
func amountMismatch(project *models.Project, cents int64, currency string) string {
	if !strings.EqualFold(project.Currency, currency) {
		return "currency mismatch"
	}
	if !project.Amount.Shift(2).Equal(decimal.NewFromInt(cents)) {
		return "amount mismatch"
	}
	return ""
}

// PaymentIntentResult is returned to the client that is about to pay.
type PaymentIntentResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// CreatePaymentIntent opens a destination charge for an unpaid project. The
// funds go to the owner's connected account.
func (s *Settler) CreatePaymentIntent(ctx context.Context, projectID, clientID string) (*PaymentIntentResult, error) {
	project, err := s.repo.FindProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("settler: find project %s: %w", projectID, err)
	}
	if project.ClientID != clientID {
		return nil, fmt.Errorf("%w: client %s does not own project %s", types.ErrInvariantViolation, clientID, projectID)
	}
	if project.PaymentStatus != types.PaymentStatusUnpaid {
		return nil, fmt.Errorf("%w: project %s is %s", types.ErrInvariantViolation, projectID, project.PaymentStatus)
	}
	if !project.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: project %s has no amount due", types.ErrInvariantViolation, projectID)
	}
	cents := project.Amount.Shift(2)
	if !cents.IsInteger() {
		return nil, fmt.Errorf("%w: project %s amount %s has sub-cent precision", types.ErrInvariantViolation, projectID, project.Amount)
	}
	owner, err := s.repo.FindUserByID(ctx, project.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("settler: find owner %s: %w", project.OwnerID, err)
	}
	if !owner.IsConnectedToStripe || lo.FromPtr(owner.ConnectedAccountID) == "" {
		return nil, fmt.Errorf("%w: owner %s cannot receive transfers", types.ErrInvariantViolation, owner.ID)
	}

	currency := strings.ToLower(lo.CoalesceOrEmpty(project.Currency, s.currency))
	pi, err := s.stripe.CreatePaymentIntent(ctx, stripe_client.PaymentIntentRequest{
		Amount:             cents.IntPart(),
		Currency:           currency,
		DestinationAccount: *owner.ConnectedAccountID,
		Metadata: map[string]string{
			"type":      types.ProjectPaymentMetadataType,
			"projectId": project.ID,
			"clientId":  project.ClientID,
			"userId":    project.OwnerID,
		},
		IdempotencyKey: fmt.Sprintf("project_payment:%s:%s:%d", project.ID, project.ClientID, cents.IntPart()),
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("project payment intent created",
		"project_id", project.ID, "client_id", clientID, "payment_intent_id", pi.ID, "amount", pi.Amount)
	return &PaymentIntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
