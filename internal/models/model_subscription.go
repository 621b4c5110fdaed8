package models

import "time"

// Subscription mirrors one Stripe subscription. Rows are never deleted;
// cancellation only clears IsActive.
type Subscription struct {
	ID string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	// ExternalID is the Stripe subscription id (sub_...).
	ExternalID string    `gorm:"column:external_id;type:varchar(255);not null;uniqueIndex:idx_subscriptions_external_id" json:"external_id"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;index:idx_subscriptions_user_id;uniqueIndex:idx_subscriptions_one_active,where:is_active = true" json:"user_id"`
	Plan       string    `gorm:"column:plan;type:varchar(64);not null" json:"plan"`
	PriceID    string    `gorm:"column:price_id;type:varchar(255);not null" json:"price_id"`
	Interval   string    `gorm:"column:interval;type:varchar(16)" json:"interval"`
	StartDate  time.Time `gorm:"column:start_date" json:"start_date"`
	// EndDate is the end of the current billing period.
	EndDate           time.Time `gorm:"column:end_date" json:"end_date"`
	CancelAtPeriodEnd bool      `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	IsActive          bool      `gorm:"column:is_active;not null;default:false" json:"is_active"`
	// PendingDowngradeTo is the price id a scheduled downgrade will switch to.
	PendingDowngradeTo *string    `gorm:"column:pending_downgrade_to;type:varchar(255)" json:"pending_downgrade_to"`
	PendingDowngradeAt *time.Time `gorm:"column:pending_downgrade_at" json:"pending_downgrade_at"`
	Version            int64      `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// ClearPendingDowngrade drops a scheduled downgrade.
func (s *Subscription) ClearPendingDowngrade() {
	s.PendingDowngradeTo = nil
	s.PendingDowngradeAt = nil
}
