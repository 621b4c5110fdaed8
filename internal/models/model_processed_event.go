package models

import "time"

// ProcessedEvent is the webhook dedup ledger. The primary key on EventID is
// the concurrency gate.
type ProcessedEvent struct {
	EventID     string    `gorm:"column:event_id;type:varchar(255);primaryKey" json:"event_id"`
	EventType   string    `gorm:"column:event_type;type:varchar(128)" json:"event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null" json:"processed_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
