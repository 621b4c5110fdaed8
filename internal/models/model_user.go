package models

import (
	"time"

	"github.com/fatflowers/stembill/pkg/types"
)

// User is the billing projection of an account. Profile and auth columns
// belong to other services and are not mapped here.
type User struct {
	ID                 string                   `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Email              string                   `gorm:"column:email;type:varchar(255)" json:"email"`
	StripeCustomerID   *string                  `gorm:"column:stripe_customer_id;type:varchar(255);uniqueIndex:idx_users_stripe_customer_id" json:"stripe_customer_id"`
	SubscriptionStatus types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(32);not null;default:free" json:"subscription_status"`
	// StorageUsed and StorageLimit are in bytes.
	StorageUsed             int64      `gorm:"column:storage_used;not null;default:0" json:"storage_used"`
	StorageLimit            int64      `gorm:"column:storage_limit;not null;default:0" json:"storage_limit"`
	HasExceededStorageLimit bool       `gorm:"column:has_exceeded_storage_limit;not null;default:false" json:"has_exceeded_storage_limit"`
	IsInGracePeriod         bool       `gorm:"column:is_in_grace_period;not null;default:false" json:"is_in_grace_period"`
	GracePeriodExpiresAt    *time.Time `gorm:"column:grace_period_expires_at" json:"grace_period_expires_at"`
	IsConnectedToStripe     bool       `gorm:"column:is_connected_to_stripe;not null;default:false" json:"is_connected_to_stripe"`
	ConnectedAccountID      *string    `gorm:"column:connected_account_id;type:varchar(255);uniqueIndex:idx_users_connected_account_id" json:"connected_account_id"`
	IsFounderMember         bool       `gorm:"column:is_founder_member;not null;default:false" json:"is_founder_member"`
	Version                 int64      `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }
