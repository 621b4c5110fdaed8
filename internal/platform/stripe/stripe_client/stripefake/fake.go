// Package stripefake is an in-memory stand-in for stripe_client.Client used
// in service tests.
package stripefake

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
)

var _ stripe_client.API = (*Fake)(nil)

type Fake struct {
	mu            sync.Mutex
	Subscriptions map[string]*stripe_client.Subscription
	Prices        map[string]*stripe_client.Price

	// Err, when set, is returned by every call.
	Err error

	PriceCalls   int
	Updates      []string
	Downgrades   []string
	Intents      []stripe_client.PaymentIntentRequest
	nextSchedule int
}

func New() *Fake {
	return &Fake{
		Subscriptions: map[string]*stripe_client.Subscription{},
		Prices:        map[string]*stripe_client.Price{},
	}
}

func (f *Fake) PutSubscription(s *stripe_client.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.Subscriptions[s.ID] = &cp
}

func (f *Fake) PutPrice(p *stripe_client.Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.Prices[p.ID] = &cp
}

func (f *Fake) RetrieveSubscription(_ context.Context, id string) (*stripe_client.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, stripe_client.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) RetrievePrice(_ context.Context, id string) (*stripe_client.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PriceCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	p, ok := f.Prices[id]
	if !ok {
		return nil, fmt.Errorf("price %s: %w", id, stripe_client.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) UpdateSubscriptionPrice(_ context.Context, subscriptionID, itemID, priceID string) (*stripe_client.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Subscriptions[subscriptionID]
	if !ok || s.ItemID != itemID {
		return nil, fmt.Errorf("subscription item %s/%s: %w", subscriptionID, itemID, stripe_client.ErrNotFound)
	}
	s.PriceID = priceID
	f.Updates = append(f.Updates, subscriptionID+":"+priceID)
	cp := *s
	return &cp, nil
}

func (f *Fake) ScheduleDowngrade(_ context.Context, sub *stripe_client.Subscription, priceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	id := sub.ScheduleID
	if id == "" {
		f.nextSchedule++
		id = fmt.Sprintf("sub_sched_%d", f.nextSchedule)
	}
	if s, ok := f.Subscriptions[sub.ID]; ok {
		s.ScheduleID = id
	}
	f.Downgrades = append(f.Downgrades, sub.ID+":"+priceID)
	return id, nil
}

func (f *Fake) CreatePaymentIntent(_ context.Context, req stripe_client.PaymentIntentRequest) (*stripe_client.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Intents = append(f.Intents, req)
	n := len(f.Intents)
	return &stripe_client.PaymentIntent{
		ID:           fmt.Sprintf("pi_fake_%d", n),
		ClientSecret: fmt.Sprintf("pi_fake_%d_secret", n),
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}
