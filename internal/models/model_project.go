package models

import (
	"time"

	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
)

// Project is the billing projection of a client project.
type Project struct {
	ID       string `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OwnerID  string `gorm:"column:owner_id;type:varchar(64);not null;index" json:"owner_id"`
	ClientID string `gorm:"column:client_id;type:varchar(64);index" json:"client_id"`
	// Amount is what the client owes, in major currency units.
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Currency      string              `gorm:"column:currency;type:varchar(8);not null;default:usd" json:"currency"`
	PaymentStatus types.PaymentStatus `gorm:"column:payment_status;type:varchar(16);not null" json:"payment_status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

type ProjectFile struct {
	ID             string    `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	ProjectID      string    `gorm:"column:project_id;type:varchar(64);not null;index" json:"project_id"`
	Name           string    `gorm:"column:name;type:varchar(512)" json:"name"`
	IsDownloadable bool      `gorm:"column:is_downloadable;not null;default:false" json:"is_downloadable"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ProjectFile) TableName() string { return "project_files" }
