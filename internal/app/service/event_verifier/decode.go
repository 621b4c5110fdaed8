package event_verifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// expandableID accepts both the collapsed ("cus_123") and expanded
// ({"id": "cus_123", ...}) forms Stripe uses for references.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*e = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	default:
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*e = expandableID(obj.ID)
		return nil
	}
}

func unix(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type invoiceObject struct {
	ID            string       `json:"id"`
	Customer      expandableID `json:"customer"`
	Subscription  expandableID `json:"subscription"`
	BillingReason string       `json:"billing_reason"`
	AmountPaid    int64        `json:"amount_paid"`
	AmountDue     int64        `json:"amount_due"`
	AttemptCount  int64        `json:"attempt_count"`
	Currency      string       `json:"currency"`
	Charge        expandableID `json:"charge"`
	PaymentIntent expandableID `json:"payment_intent"`
	Payments      *struct {
		Data []struct {
			Status  string `json:"status"`
			Payment struct {
				Charge        expandableID `json:"charge"`
				PaymentIntent expandableID `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period  period `json:"period"`
			Pricing *struct {
				PriceDetails *struct {
					Price expandableID `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionID handles both the pre-2025 top level field and the newer
// parent.subscription_details location.
func (in *invoiceObject) subscriptionID() string {
	if in.Subscription != "" {
		return string(in.Subscription)
	}
	if in.Parent != nil && in.Parent.SubscriptionDetails != nil {
		return string(in.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// paymentRefs returns the intent and charge that paid the invoice, from the
// top level fields of older API versions or the payments list of newer ones.
func (in *invoiceObject) paymentRefs() (paymentIntentID, chargeID string) {
	paymentIntentID, chargeID = string(in.PaymentIntent), string(in.Charge)
	if paymentIntentID != "" || chargeID != "" || in.Payments == nil {
		return paymentIntentID, chargeID
	}
	for _, p := range in.Payments.Data {
		if p.Status != "" && p.Status != "paid" {
			continue
		}
		if p.Payment.PaymentIntent != "" || p.Payment.Charge != "" {
			return string(p.Payment.PaymentIntent), string(p.Payment.Charge)
		}
	}
	return "", ""
}

func (in *invoiceObject) firstLine() (priceID string, p period) {
	if len(in.Lines.Data) == 0 {
		return "", period{}
	}
	line := in.Lines.Data[0]
	switch {
	case line.Pricing != nil && line.Pricing.PriceDetails != nil:
		priceID = string(line.Pricing.PriceDetails.Price)
	case line.Price != nil:
		priceID = line.Price.ID
	}
	return priceID, line.Period
}

type subscriptionObject struct {
	ID                  string           `json:"id"`
	Customer            expandableID     `json:"customer"`
	Status              string           `json:"status"`
	CancelAtPeriodEnd   bool             `json:"cancel_at_period_end"`
	EndedAt             int64            `json:"ended_at"`
	CanceledAt          int64            `json:"canceled_at"`
	CurrentPeriodStart  int64            `json:"current_period_start"`
	CurrentPeriodEnd    int64            `json:"current_period_end"`
	PendingUpdate       *json.RawMessage `json:"pending_update"`
	CancellationDetails *struct {
		Reason   string `json:"reason"`
		Feedback string `json:"feedback"`
		Comment  string `json:"comment"`
	} `json:"cancellation_details"`
	Items struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// firstItem returns the price and period of the first item, falling back to
// the subscription-level period fields older API versions carry.
func (s *subscriptionObject) firstItem() (priceID string, start, end time.Time) {
	start, end = unix(s.CurrentPeriodStart), unix(s.CurrentPeriodEnd)
	if len(s.Items.Data) == 0 {
		return "", start, end
	}
	item := s.Items.Data[0]
	if item.Price != nil {
		priceID = item.Price.ID
	}
	if item.CurrentPeriodEnd != 0 {
		start, end = unix(item.CurrentPeriodStart), unix(item.CurrentPeriodEnd)
	}
	return priceID, start, end
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	LatestCharge     expandableID      `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type accountObject struct {
	ID             string            `json:"id"`
	ChargesEnabled bool              `json:"charges_enabled"`
	PayoutsEnabled bool              `json:"payouts_enabled"`
	Capabilities   map[string]string `json:"capabilities"`
}

type chargeObject struct {
	ID             string       `json:"id"`
	PaymentIntent  expandableID `json:"payment_intent"`
	Customer       expandableID `json:"customer"`
	AmountRefunded int64        `json:"amount_refunded"`
	Currency       string       `json:"currency"`
	Refunded       bool         `json:"refunded"`
}

// decodePayload maps the event's data.object onto a Payload variant.
func decodePayload(ev *stripe.Event) (Payload, error) {
	eventType := string(ev.Type)
	var raw json.RawMessage
	var prev map[string]interface{}
	if ev.Data != nil {
		raw = ev.Data.Raw
		prev = ev.Data.PreviousAttributes
	}

	decode := func(dst any) error {
		if len(raw) == 0 {
			return fmt.Errorf("%s: event has no data.object", eventType)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%s: decode data.object: %w", eventType, err)
		}
		return nil
	}

	switch ev.Type {
	case stripe.EventTypeInvoicePaymentSucceeded:
		var in invoiceObject
		if err := decode(&in); err != nil {
			return nil, err
		}
		priceID, p := in.firstLine()
		intentID, chargeID := in.paymentRefs()
		return &PaymentSucceeded{
			InvoiceID:       in.ID,
			SubscriptionID:  in.subscriptionID(),
			CustomerID:      string(in.Customer),
			BillingReason:   in.BillingReason,
			AmountPaid:      in.AmountPaid,
			Currency:        in.Currency,
			PriceID:         priceID,
			PeriodStart:     unix(p.Start),
			PeriodEnd:       unix(p.End),
			PaymentIntentID: intentID,
			ChargeID:        chargeID,
		}, nil

	case stripe.EventTypeInvoicePaymentFailed:
		var in invoiceObject
		if err := decode(&in); err != nil {
			return nil, err
		}
		return &PaymentFailed{
			InvoiceID:      in.ID,
			SubscriptionID: in.subscriptionID(),
			CustomerID:     string(in.Customer),
			BillingReason:  in.BillingReason,
			AttemptCount:   in.AttemptCount,
			AmountDue:      in.AmountDue,
			Currency:       in.Currency,
		}, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var s subscriptionObject
		if err := decode(&s); err != nil {
			return nil, err
		}
		out := &SubscriptionCancelled{
			SubscriptionID: s.ID,
			CustomerID:     string(s.Customer),
			EndedAt:        unix(s.EndedAt),
		}
		if out.EndedAt.IsZero() {
			out.EndedAt = unix(s.CanceledAt)
		}
		if d := s.CancellationDetails; d != nil {
			out.Reason, out.Feedback, out.Comment = d.Reason, d.Feedback, d.Comment
		}
		return out, nil

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var s subscriptionObject
		if err := decode(&s); err != nil {
			return nil, err
		}
		priceID, start, end := s.firstItem()
		_, cancelChanged := prev["cancel_at_period_end"]
		_, itemsChanged := prev["items"]
		_, planChanged := prev["plan"]
		return &SubscriptionUpdated{
			SubscriptionID:           s.ID,
			CustomerID:               string(s.Customer),
			Status:                   s.Status,
			CancelAtPeriodEnd:        s.CancelAtPeriodEnd,
			CancelAtPeriodEndChanged: cancelChanged,
			ItemsChanged:             itemsChanged || planChanged,
			HasPendingUpdate:         s.PendingUpdate != nil && string(*s.PendingUpdate) != "null",
			PriceID:                  priceID,
			PeriodStart:              start,
			PeriodEnd:                end,
		}, nil

	case stripe.EventTypePaymentIntentSucceeded:
		var pi paymentIntentObject
		if err := decode(&pi); err != nil {
			return nil, err
		}
		return &ClientPaymentSucceeded{
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
			LatestChargeID:  string(pi.LatestCharge),
			Tag:             tagFromMetadata(pi.Metadata),
		}, nil

	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi paymentIntentObject
		if err := decode(&pi); err != nil {
			return nil, err
		}
		out := &ClientPaymentFailed{
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
			Tag:             tagFromMetadata(pi.Metadata),
		}
		if pi.LastPaymentError != nil {
			out.FailureCode, out.FailureMessage = pi.LastPaymentError.Code, pi.LastPaymentError.Message
		}
		return out, nil

	case stripe.EventTypeAccountUpdated:
		var a accountObject
		if err := decode(&a); err != nil {
			return nil, err
		}
		return &ConnectedAccountUpdated{
			AccountID:       a.ID,
			TransfersStatus: a.Capabilities["transfers"],
			ChargesEnabled:  a.ChargesEnabled,
			PayoutsEnabled:  a.PayoutsEnabled,
		}, nil

	case stripe.EventTypeChargeRefunded:
		var ch chargeObject
		if err := decode(&ch); err != nil {
			return nil, err
		}
		return &ChargeRefunded{
			ChargeID:        ch.ID,
			PaymentIntentID: string(ch.PaymentIntent),
			CustomerID:      string(ch.Customer),
			AmountRefunded:  ch.AmountRefunded,
			Currency:        ch.Currency,
			FullyRefunded:   ch.Refunded,
		}, nil
	}
	return &Unknown{Type: eventType}, nil
}
