package stripe_client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatflowers/stembill/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"
)

func TestSubscriptionFromStripe(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	s := &stripe.Subscription{
		ID:                "sub_1",
		Status:            stripe.SubscriptionStatusActive,
		Customer:          &stripe.Customer{ID: "cus_1"},
		CancelAtPeriodEnd: true,
		Schedule:          &stripe.SubscriptionSchedule{ID: "sub_sched_1"},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID:                 "si_1",
			CurrentPeriodStart: start.Unix(),
			CurrentPeriodEnd:   end.Unix(),
			Price: &stripe.Price{
				ID:        "price_pro",
				Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			},
		}}},
	}

	got := subscriptionFromStripe(s)
	require.NotNil(t, got)
	assert.Equal(t, "sub_1", got.ID)
	assert.Equal(t, "cus_1", got.CustomerID)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, "si_1", got.ItemID)
	assert.Equal(t, "price_pro", got.PriceID)
	assert.Equal(t, "month", got.Interval)
	assert.Equal(t, "sub_sched_1", got.ScheduleID)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.True(t, got.CurrentPeriodStart.Equal(start))
	assert.True(t, got.CurrentPeriodEnd.Equal(end))
	assert.True(t, got.IsLive())
}

func TestSubscriptionFromStripe_Sparse(t *testing.T) {
	assert.Nil(t, subscriptionFromStripe(nil))

	got := subscriptionFromStripe(&stripe.Subscription{ID: "sub_2", Status: stripe.SubscriptionStatusCanceled})
	require.NotNil(t, got)
	assert.Empty(t, got.CustomerID)
	assert.Empty(t, got.PriceID)
	assert.True(t, got.CurrentPeriodEnd.IsZero())
	assert.False(t, got.IsLive())
}

func TestPriceAndIntentFromStripe(t *testing.T) {
	p := priceFromStripe(&stripe.Price{
		ID: "price_x", Active: true, UnitAmount: 1200, Currency: stripe.CurrencyUSD, LookupKey: "pro_month",
		Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalYear},
	})
	assert.Equal(t, &Price{ID: "price_x", Active: true, Interval: "year", UnitAmount: 1200, Currency: "usd", LookupKey: "pro_month"}, p)

	pi := paymentIntentFromStripe(&stripe.PaymentIntent{
		ID: "pi_1", ClientSecret: "pi_1_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount: 5000, Currency: stripe.CurrencyEUR,
	})
	assert.Equal(t, &PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method", Amount: 5000, Currency: "eur"}, pi)
}

func TestClient_NotConfigured(t *testing.T) {
	c := New(&config.Config{}, zap.NewNop().Sugar())
	_, err := c.RetrieveSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.RetrievePrice(context.Background(), "price_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.ScheduleDowngrade(context.Background(), &Subscription{ID: "sub_1"}, "price_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClassify(t *testing.T) {
	err := classify(&stripe.Error{HTTPStatusCode: 404, Msg: "No such subscription"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = classify(&stripe.Error{HTTPStatusCode: 500, Msg: "boom"})
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRetrievePriceSharedLookupOutlivesCanceledCaller(t *testing.T) {
	c := New(&config.Config{Stripe: config.StripeConfig{APIKey: "sk_test_123"}}, zap.NewNop().Sugar())
	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	c.fetchPrice = func(ctx context.Context, id string) (*stripe.Price, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return &stripe.Price{ID: id, Active: true, Currency: stripe.CurrencyUSD, UnitAmount: 1999}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.RetrievePrice(leaderCtx, "price_pro")
		leaderErr <- err
	}()
	<-started

	type result struct {
		p   *Price
		err error
	}
	follower := make(chan result, 1)
	go func() {
		p, err := c.RetrievePrice(context.Background(), "price_pro")
		follower <- result{p, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "price_pro", got.p.ID)
	assert.EqualValues(t, 1999, got.p.UnitAmount)
	assert.EqualValues(t, 1, calls.Load())
}
