package event_verifier

import (
	"time"

	"github.com/fatflowers/stembill/pkg/types"
)

// VerifiedEvent is an authenticated Stripe event with its object decoded.
type VerifiedEvent struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
	// Account is set on Connect events and names the connected account.
	Account string
	Raw     []byte
	Payload Payload
}

// Payload is the closed set of event shapes the billing core understands.
// Anything else decodes to *Unknown.
type Payload interface {
	isPayload()
}

// PaymentSucceeded is invoice.payment_succeeded.
type PaymentSucceeded struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	BillingReason  string
	AmountPaid     int64
	Currency       string
	PriceID        string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	// PaymentIntentID and ChargeID tie later refunds back to the invoice.
	PaymentIntentID string
	ChargeID        string
}

// PaymentFailed is invoice.payment_failed.
type PaymentFailed struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	BillingReason  string
	AttemptCount   int64
	AmountDue      int64
	Currency       string
}

// BillingReasonSubscriptionCreate marks the invoice of a brand new subscription.
const BillingReasonSubscriptionCreate = "subscription_create"

// FirstAttempt reports whether the failed invoice belongs to a subscription
// that was never activated.
func (p *PaymentFailed) FirstAttempt() bool {
	return p.BillingReason == BillingReasonSubscriptionCreate
}

// SubscriptionCancelled is customer.subscription.deleted.
type SubscriptionCancelled struct {
	SubscriptionID string
	CustomerID     string
	EndedAt        time.Time
	Reason         string
	Feedback       string
	Comment        string
}

// SubscriptionUpdated is customer.subscription.updated. The *Changed flags
// come from previous_attributes.
type SubscriptionUpdated struct {
	SubscriptionID           string
	CustomerID               string
	Status                   string
	CancelAtPeriodEnd        bool
	CancelAtPeriodEndChanged bool
	ItemsChanged             bool
	HasPendingUpdate         bool
	PriceID                  string
	PeriodStart              time.Time
	PeriodEnd                time.Time
}

// ProjectPaymentTag is the metadata attached to project PaymentIntents.
type ProjectPaymentTag struct {
	Type      string
	ProjectID string
	ClientID  string
	UserID    string
}

func (t ProjectPaymentTag) IsProjectPayment() bool {
	return t.Type == types.ProjectPaymentMetadataType
}

func tagFromMetadata(md map[string]string) ProjectPaymentTag {
	return ProjectPaymentTag{
		Type:      md["type"],
		ProjectID: md["projectId"],
		ClientID:  md["clientId"],
		UserID:    md["userId"],
	}
}

// ClientPaymentSucceeded is payment_intent.succeeded.
type ClientPaymentSucceeded struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	LatestChargeID  string
	Tag             ProjectPaymentTag
}

// ClientPaymentFailed is payment_intent.payment_failed.
type ClientPaymentFailed struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	FailureCode     string
	FailureMessage  string
	Tag             ProjectPaymentTag
}

// ConnectedAccountUpdated is account.updated from the Connect endpoint.
type ConnectedAccountUpdated struct {
	AccountID       string
	TransfersStatus string
	ChargesEnabled  bool
	PayoutsEnabled  bool
}

// CapabilityActive is the Stripe capability status that allows transfers.
const CapabilityActive = "active"

func (a *ConnectedAccountUpdated) CanReceiveTransfers() bool {
	return a.TransfersStatus == CapabilityActive
}

// ChargeRefunded is charge.refunded.
type ChargeRefunded struct {
	ChargeID        string
	PaymentIntentID string
	CustomerID      string
	AmountRefunded  int64
	Currency        string
	FullyRefunded   bool
}

// Unknown is any event type not listed above.
type Unknown struct {
	Type string
}

func (*PaymentSucceeded) isPayload()        {}
func (*PaymentFailed) isPayload()           {}
func (*SubscriptionCancelled) isPayload()   {}
func (*SubscriptionUpdated) isPayload()     {}
func (*ClientPaymentSucceeded) isPayload()  {}
func (*ClientPaymentFailed) isPayload()     {}
func (*ConnectedAccountUpdated) isPayload() {}
func (*ChargeRefunded) isPayload()          {}
func (*Unknown) isPayload()                 {}
