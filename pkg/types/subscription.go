package types

// SubscriptionStatus is the billing status projected onto a user.
type SubscriptionStatus string

const (
	SubscriptionStatusFree       SubscriptionStatus = "free"
	SubscriptionStatusSubscribed SubscriptionStatus = "subscribed"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusFree:       {SubscriptionStatusSubscribed},
	SubscriptionStatusSubscribed: {SubscriptionStatusSubscribed, SubscriptionStatusPastDue, SubscriptionStatusFree},
	SubscriptionStatusPastDue:    {SubscriptionStatusSubscribed, SubscriptionStatusPastDue, SubscriptionStatusFree},
}

// CanTransition reports whether a user may move from one status to another.
// Cancelling an already free user is allowed as a no-op.
func (s SubscriptionStatus) CanTransition(to SubscriptionStatus) bool {
	if s == to {
		return true
	}
	for _, next := range subscriptionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusFree   PaymentStatus = "Free"
	PaymentStatusUnpaid PaymentStatus = "Unpaid"
	PaymentStatusPaid   PaymentStatus = "Paid"
)

type TransactionType string

const (
	TransactionTypeSubscriptionPayment TransactionType = "subscription_payment"
	TransactionTypeProjectPayment      TransactionType = "project_payment"
	TransactionTypeRefund              TransactionType = "refund"
)

// ProjectPaymentMetadataType tags PaymentIntents created for client project payments.
const ProjectPaymentMetadataType = "project_payment"
