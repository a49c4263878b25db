package models

import (
	"fmt"
	"time"
)

// AlertCondition is the closed set of predicates an alert can watch.
// Adding a variant requires extending Evaluate, which the compiler's
// exhaustive-switch discipline makes a visible change.
type AlertCondition string

const (
	ConditionPriceAbove        AlertCondition = "price_above"
	ConditionPriceBelow        AlertCondition = "price_below"
	ConditionPercentChangeUp   AlertCondition = "percent_change_up"
	ConditionPercentChangeDown AlertCondition = "percent_change_down"
	ConditionRSIOverbought     AlertCondition = "rsi_overbought"
	ConditionRSIOversold       AlertCondition = "rsi_oversold"
)

// Valid reports whether c is one of the known conditions
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionPriceAbove, ConditionPriceBelow,
		ConditionPercentChangeUp, ConditionPercentChangeDown,
		ConditionRSIOverbought, ConditionRSIOversold:
		return true
	}
	return false
}

// Evaluate tests the condition against a quote. A condition whose input is
// not present on the quote (RSI before enough history) is false, not an error.
func (c AlertCondition) Evaluate(q *Quote, threshold float64) bool {
	if q == nil {
		return false
	}
	switch c {
	case ConditionPriceAbove:
		return q.Price > threshold
	case ConditionPriceBelow:
		return q.Price < threshold
	case ConditionPercentChangeUp:
		return q.ChangePercent > threshold
	case ConditionPercentChangeDown:
		return q.ChangePercent < threshold
	case ConditionRSIOverbought:
		return q.RSI != nil && *q.RSI > threshold
	case ConditionRSIOversold:
		return q.RSI != nil && *q.RSI < threshold
	}
	return false
}

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertTriggered AlertStatus = "triggered"
	AlertCancelled AlertStatus = "cancelled"
	AlertExpired   AlertStatus = "expired"
)

// Terminal reports whether no further transitions may originate from s
func (s AlertStatus) Terminal() bool {
	return s == AlertCancelled || s == AlertExpired
}

// Alert is a user-defined watch on a symbol. Status and the trigger-tracking
// fields are mutated only by the alert engine; everything else is immutable
// after creation.
type Alert struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Symbol            string         `json:"symbol"`
	Condition         AlertCondition `json:"condition"`
	Threshold         float64        `json:"value"`
	Name              string         `json:"name"`
	Status            AlertStatus    `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	NotificationCount int            `json:"notification_count"`
	LastTriggered     *time.Time     `json:"last_triggered,omitempty"`
	TriggerPrice      float64        `json:"trigger_price,omitempty"`
}

// Expired reports whether the alert has an expiry in the past relative to now
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// CreateAlertRequest is the inbound payload for alert creation. Value is a
// pointer so an omitted threshold is distinguishable from an explicit zero.
type CreateAlertRequest struct {
	Symbol    string   `json:"symbol" binding:"required"`
	Condition string   `json:"condition" binding:"required"`
	Value     *float64 `json:"value" binding:"required"`
	Name      string   `json:"name"`
	ExpiresAt string   `json:"expires_at"` // RFC3339, optional
}

// AlertNotification is the payload delivered to a user when an alert fires
type AlertNotification struct {
	Type          string  `json:"type"` // always "alert_triggered"
	AlertID       string  `json:"alert_id"`
	AlertName     string  `json:"alert_name"`
	Symbol        string  `json:"symbol"`
	Condition     string  `json:"condition"`
	Threshold     float64 `json:"threshold"`
	CurrentPrice  float64 `json:"current_price"`
	CurrentChange float64 `json:"current_change"`
	Message       string  `json:"message"`
	Timestamp     string  `json:"timestamp"`
}

// DefaultAlertName derives a display name when the request omits one
func DefaultAlertName(symbol string) string {
	return fmt.Sprintf("Alert %s", symbol)
}
