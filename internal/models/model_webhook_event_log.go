package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventLogStatus string

const (
	WebhookEventLogStatusReceived     WebhookEventLogStatus = "received"
	WebhookEventLogStatusHandled      WebhookEventLogStatus = "handled"
	WebhookEventLogStatusHandleFailed WebhookEventLogStatus = "handle_failed"
)

// WebhookEventLog keeps every verified inbound event with how it was handled.
type WebhookEventLog struct {
	ID        string                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Endpoint  string                `gorm:"column:endpoint;type:varchar(32);not null" json:"endpoint"`
	EventID   string                `gorm:"column:event_id;type:varchar(255);index" json:"event_id"`
	EventType string                `gorm:"column:event_type;type:varchar(128)" json:"event_type"`
	TraceID   string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Data      datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Result    datatypes.JSONMap     `gorm:"column:result;type:jsonb" json:"result"`
	Status    WebhookEventLogStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func (WebhookEventLog) TableName() string { return "webhook_event_logs" }
