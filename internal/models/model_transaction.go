package models

import (
	"time"

	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
)

// Transaction is an append-only ledger row. RefundedAt is the only column
// updated after insert. (Type, ExternalRef) is unique so a replayed event
// cannot book the same payment twice.
type Transaction struct {
	ID          string                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID      string                `gorm:"column:user_id;type:varchar(64);not null;index:idx_transactions_user_id" json:"user_id"`
	Type        types.TransactionType `gorm:"column:type;type:varchar(32);not null;uniqueIndex:idx_transactions_type_ref,priority:1" json:"type"`
	ExternalRef string                `gorm:"column:external_ref;type:varchar(255);not null;uniqueIndex:idx_transactions_type_ref,priority:2" json:"external_ref"`
	// Amount is in major currency units.
	Amount                 decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Currency               string          `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	SubscriptionExternalID *string         `gorm:"column:subscription_external_id;type:varchar(255)" json:"subscription_external_id"`
	InvoiceID              *string         `gorm:"column:invoice_id;type:varchar(255)" json:"invoice_id"`
	PaymentIntentID        *string         `gorm:"column:payment_intent_id;type:varchar(255);index:idx_transactions_payment_intent_id" json:"payment_intent_id"`
	ChargeID               *string         `gorm:"column:charge_id;type:varchar(255);index:idx_transactions_charge_id" json:"charge_id"`
	ProjectID              *string         `gorm:"column:project_id;type:varchar(64)" json:"project_id"`
	RefundedAt             *time.Time      `gorm:"column:refunded_at" json:"refunded_at"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }
