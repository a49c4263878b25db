package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TriggerEvent is the durable record written each time an alert fires.
// The in-memory engine remains the evaluation source of truth; these rows
// exist for history queries and post-hoc review.
type TriggerEvent struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	AlertID       string          `gorm:"index;not null" json:"alert_id"`
	UserID        string          `gorm:"index;not null" json:"user_id"`
	Symbol        string          `gorm:"index;not null" json:"symbol"`
	AlertName     string          `json:"alert_name"`
	Condition     string          `json:"condition"`
	Threshold     decimal.Decimal `gorm:"type:decimal(20,8)" json:"threshold"`
	Price         decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(12,6)" json:"change_percent"`
	TriggeredAt   time.Time       `gorm:"index" json:"triggered_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MigrateTriggerEventModels runs migrations for the trigger history table
func MigrateTriggerEventModels(db *gorm.DB) error {
	return db.AutoMigrate(&TriggerEvent{})
}
