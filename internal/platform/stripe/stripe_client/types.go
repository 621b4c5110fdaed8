package stripe_client

import (
	"time"

	"github.com/stripe/stripe-go/v83"
)

// Subscription is the subset of a Stripe subscription the billing core reads.
// Price and period come from the first item, which is the only item our
// checkout creates.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	ItemID             string
	PriceID            string
	Interval           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	ScheduleID         string
}

// IsLive reports whether Stripe still bills the subscription.
func (s *Subscription) IsLive() bool {
	switch stripe.SubscriptionStatus(s.Status) {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		return true
	}
	return false
}

type Price struct {
	ID         string
	Active     bool
	Interval   string
	UnitAmount int64
	Currency   string
	LookupKey  string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// PaymentIntentRequest describes a destination charge to a connected account.
type PaymentIntentRequest struct {
	Amount             int64
	Currency           string
	DestinationAccount string
	Metadata           map[string]string
	IdempotencyKey     string
}

func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Schedule != nil {
		out.ScheduleID = s.Schedule.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0] != nil {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}

func priceFromStripe(p *stripe.Price) *Price {
	if p == nil {
		return nil
	}
	out := &Price{
		ID:         p.ID,
		Active:     p.Active,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		LookupKey:  p.LookupKey,
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	return out
}

func paymentIntentFromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}
