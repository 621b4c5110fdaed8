package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	verifier "github.com/fatflowers/stembill/internal/app/service/event_verifier"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func (r *Reconciler) applyAccountUpdated(ctx context.Context, tx repository.Repository, ev *verifier.VerifiedEvent, p *verifier.ConnectedAccountUpdated, buf *activity.Buffer) (Outcome, error) {
	accountID := lo.CoalesceOrEmpty(p.AccountID, ev.Account)
	log := logctx.FromCtx(ctx, r.log).With("account_id", accountID, "transfers", p.TransfersStatus)
	if accountID == "" {
		return "", fmt.Errorf("%w: account event without account id", ErrUnresolvedReference)
	}
	user, err := tx.FindUserByConnectedAccountID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: connected account %s", ErrUnresolvedReference, accountID)
	}
	if err != nil {
		return "", fmt.Errorf("find user by account %s: %w", accountID, err)
	}

	connected := p.CanReceiveTransfers()
	if user.IsConnectedToStripe == connected {
		log.Debugw("connected account state unchanged", "user_id", user.ID)
		return OutcomeIgnored, nil
	}
	user.IsConnectedToStripe = connected
	if err := tx.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("update user %s: %w", user.ID, err)
	}
	buf.Add(user.ID, activity.ActionConnectAccountUpdated, activity.TargetUser, lo.ToPtr(user.ID), map[string]any{
		"account_id":      accountID,
		"transfers":       p.TransfersStatus,
		"charges_enabled": p.ChargesEnabled,
		"payouts_enabled": p.PayoutsEnabled,
		"connected":       connected,
	})
	log.Infow("connected account updated", "user_id", user.ID, "connected", connected)
	return OutcomeApplied, nil
}

// applyChargeRefunded marks the original ledger rows refunded and appends a
// negative refund row. Project payment status is left as is; access already
// granted is not revoked.
func (r *Reconciler) applyChargeRefunded(ctx context.Context, tx repository.Repository, p *verifier.ChargeRefunded, buf *activity.Buffer) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("charge_id", p.ChargeID, "payment_intent_id", p.PaymentIntentID, "customer_id", p.CustomerID)
	orig, err := tx.FindPaymentTransaction(ctx, p.PaymentIntentID, p.ChargeID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Infow("refund for a payment not in the ledger ignored")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("find refunded payment: %w", err)
	}

	if p.FullyRefunded {
		if _, err := tx.MarkTransactionsRefunded(ctx, p.PaymentIntentID, p.ChargeID, r.now().UTC()); err != nil {
			return "", fmt.Errorf("mark refunded: %w", err)
		}
	}

	// AmountRefunded is cumulative, so each partial refund gets its own row
	// holding only the amount not booked yet.
	ref := fmt.Sprintf("%s:%d", lo.CoalesceOrEmpty(p.ChargeID, p.PaymentIntentID), p.AmountRefunded)
	booked, err := tx.RefundedAmount(ctx, p.PaymentIntentID, p.ChargeID)
	if err != nil {
		return "", fmt.Errorf("sum booked refunds: %w", err)
	}
	delta := decimal.New(p.AmountRefunded, -2).Sub(booked)
	if !delta.IsPositive() {
		log.Infow("refund already booked", "ref", ref, "booked", booked.String())
		return OutcomeIgnored, nil
	}
	created, err := tx.CreateTransaction(ctx, &models.Transaction{
		UserID:                 orig.UserID,
		Type:                   types.TransactionTypeRefund,
		ExternalRef:            ref,
		Amount:                 delta.Neg(),
		Currency:               strings.ToLower(lo.CoalesceOrEmpty(p.Currency, orig.Currency)),
		SubscriptionExternalID: orig.SubscriptionExternalID,
		InvoiceID:              orig.InvoiceID,
		PaymentIntentID:        lo.EmptyableToPtr(p.PaymentIntentID),
		ChargeID:               lo.EmptyableToPtr(p.ChargeID),
		ProjectID:              orig.ProjectID,
	})
	if err != nil {
		return "", fmt.Errorf("record refund %s: %w", ref, err)
	}
	if !created {
		log.Infow("refund already booked", "ref", ref)
		return OutcomeIgnored, nil
	}

	buf.Add(orig.UserID, activity.ActionPaymentRefunded, activity.TargetTransaction, lo.ToPtr(orig.ID), map[string]any{
		"charge_id":         p.ChargeID,
		"payment_intent_id": p.PaymentIntentID,
		"amount_refunded":   p.AmountRefunded,
		"amount":            delta.String(),
		"currency":          p.Currency,
		"fully_refunded":    p.FullyRefunded,
		"original_type":     string(orig.Type),
	})
	log.Infow("refund recorded", "user_id", orig.UserID, "amount_refunded", p.AmountRefunded, "full", p.FullyRefunded)
	return OutcomeApplied, nil
}
