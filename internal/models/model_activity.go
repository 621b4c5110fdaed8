package models

import (
	"time"

	"gorm.io/datatypes"
)

// Activity is an append-only audit entry.
type Activity struct {
	ID         string            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     string            `gorm:"column:user_id;type:varchar(64);not null;index:idx_activities_user_id_created_at,priority:1" json:"user_id"`
	Action     string            `gorm:"column:action;type:varchar(64);not null" json:"action"`
	TargetType string            `gorm:"column:target_type;type:varchar(32);not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:varchar(255)" json:"target_id"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt  time.Time         `gorm:"index:idx_activities_user_id_created_at,priority:2" json:"created_at"`
}

func (Activity) TableName() string { return "activities" }
