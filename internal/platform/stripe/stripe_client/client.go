package stripe_client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotConfigured = errors.New("stripe: api key not configured")
	// ErrNotFound wraps Stripe 404 responses so callers can tell a dangling
	// reference from a transient failure.
	ErrNotFound = errors.New("stripe: resource not found")
)

func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, se.Msg)
	}
	return err
}

// API is the provider surface used by the billing services.
type API interface {
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	RetrievePrice(ctx context.Context, id string) (*Price, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string) (*Subscription, error)
	ScheduleDowngrade(ctx context.Context, sub *Subscription, priceID string) (string, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

var _ API = (*Client)(nil)

// Client wraps the Stripe API calls the billing core makes. Network retries
// are left to stripe-go.
type Client struct {
	api        *stripe.Client
	prices     singleflight.Group
	fetchPrice func(ctx context.Context, id string) (*stripe.Price, error)
	log        *zap.SugaredLogger
}

// priceLookupTimeout bounds a shared price lookup, which runs detached from
// the cancellation of whichever caller started it.
const priceLookupTimeout = 10 * time.Second

func New(cfg *config.Config, log *zap.SugaredLogger) *Client {
	c := &Client{log: log}
	if cfg.Stripe.APIKey != "" {
		c.api = stripe.NewClient(cfg.Stripe.APIKey)
		c.fetchPrice = func(ctx context.Context, id string) (*stripe.Price, error) {
			return c.api.V1Prices.Retrieve(ctx, id, nil)
		}
	} else {
		log.Warnw("stripe api key empty, outbound stripe calls will fail")
	}
	return c
}

func (c *Client) ready() error {
	if c.api == nil {
		return ErrNotConfigured
	}
	return nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	s, err := c.api.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve subscription %s: %w", id, classify(err))
	}
	return subscriptionFromStripe(s), nil
}

// RetrievePrice collapses concurrent lookups of the same price into one call.
func (c *Client) RetrievePrice(ctx context.Context, id string) (*Price, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	ch := c.prices.DoChan(id, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), priceLookupTimeout)
		defer cancel()
		p, err := c.fetchPrice(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		return priceFromStripe(p), nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("stripe: retrieve price %s: %w", id, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("stripe: retrieve price %s: %w", id, classify(res.Err))
	}
	if res.Shared {
		logctx.FromCtx(ctx, c.log).Debugw("stripe price lookup shared", "price_id", id)
	}
	return res.Val.(*Price), nil
}

// UpdateSubscriptionPrice swaps the item's price now and invoices the
// prorated difference immediately.
func (c *Client) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string) (*Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{ID: stripe.String(itemID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("always_invoice"),
	}
	params.AddMetadata("change_kind", "upgrade")
	s, err := c.api.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: update subscription %s: %w", subscriptionID, classify(err))
	}
	return subscriptionFromStripe(s), nil
}

// ScheduleDowngrade attaches (or reuses) a subscription schedule that keeps
// the current price until the period ends, then switches to priceID and
// releases the subscription.
func (c *Client) ScheduleDowngrade(ctx context.Context, sub *Subscription, priceID string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	scheduleID := sub.ScheduleID
	if scheduleID == "" {
		sched, err := c.api.V1SubscriptionSchedules.Create(ctx, &stripe.SubscriptionScheduleCreateParams{
			FromSubscription: stripe.String(sub.ID),
		})
		if err != nil {
			return "", fmt.Errorf("stripe: create schedule for %s: %w", sub.ID, err)
		}
		scheduleID = sched.ID
	}

	params := &stripe.SubscriptionScheduleUpdateParams{
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionScheduleUpdatePhaseParams{
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripe.String(sub.PriceID), Quantity: stripe.Int64(1)},
				},
				StartDate: stripe.Int64(sub.CurrentPeriodStart.Unix()),
				EndDate:   stripe.Int64(sub.CurrentPeriodEnd.Unix()),
			},
			{
				Items: []*stripe.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
				},
				StartDate: stripe.Int64(sub.CurrentPeriodEnd.Unix()),
			},
		},
	}
	params.AddMetadata("change_kind", "downgrade")
	if _, err := c.api.V1SubscriptionSchedules.Update(ctx, scheduleID, params); err != nil {
		return "", fmt.Errorf("stripe: update schedule %s: %w", scheduleID, err)
	}
	return scheduleID, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		TransferData: &stripe.PaymentIntentCreateTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return paymentIntentFromStripe(pi), nil
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(New, fx.As(new(API)))),
)
