package alerts

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"chartstream-backend/models"
)

// Notifier formats trigger notifications and hands them to the delivery
// layer. Delivery is best-effort: a user with no live connection simply
// misses the push, the alert state change is already committed.
type Notifier struct {
	deliver UserNotifier
}

func NewNotifier(deliver UserNotifier) *Notifier {
	return &Notifier{deliver: deliver}
}

// OnTriggered builds the notification payload for a fired alert and
// delivers it to the owning user.
func (n *Notifier) OnTriggered(alert models.Alert, quote *models.Quote) {
	msg := models.AlertNotification{
		Type:          "alert_triggered",
		AlertID:       alert.ID,
		AlertName:     alert.Name,
		Symbol:        alert.Symbol,
		Condition:     string(alert.Condition),
		Threshold:     alert.Threshold,
		CurrentPrice:  quote.Price,
		CurrentChange: quote.ChangePercent,
		Message:       triggerMessage(&alert, quote),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	if n.deliver == nil {
		return
	}
	if !n.deliver.DeliverToUser(alert.UserID, msg) {
		log.Printf("Alert %s fired but user %s has no live connection", alert.ID, alert.UserID)
		return
	}
	log.Printf("Alert notification sent: %s -> user %s (%s at %s)",
		alert.ID, alert.UserID, alert.Symbol, formatPrice(quote.Price))
}

// triggerMessage renders a human-readable summary of why the alert fired
func triggerMessage(alert *models.Alert, quote *models.Quote) string {
	price := formatPrice(quote.Price)
	threshold := formatPrice(alert.Threshold)
	switch alert.Condition {
	case models.ConditionPriceAbove:
		return fmt.Sprintf("%s price %s rose above %s", alert.Symbol, price, threshold)
	case models.ConditionPriceBelow:
		return fmt.Sprintf("%s price %s fell below %s", alert.Symbol, price, threshold)
	case models.ConditionPercentChangeUp:
		return fmt.Sprintf("%s is up %.2f%%, above %s%%", alert.Symbol, quote.ChangePercent, threshold)
	case models.ConditionPercentChangeDown:
		return fmt.Sprintf("%s is down %.2f%%, below %s%%", alert.Symbol, quote.ChangePercent, threshold)
	case models.ConditionRSIOverbought:
		if quote.RSI != nil {
			return fmt.Sprintf("%s RSI %.1f crossed above %s", alert.Symbol, *quote.RSI, threshold)
		}
	case models.ConditionRSIOversold:
		if quote.RSI != nil {
			return fmt.Sprintf("%s RSI %.1f crossed below %s", alert.Symbol, *quote.RSI, threshold)
		}
	}
	return fmt.Sprintf("%s alert triggered at %s", alert.Symbol, price)
}

// formatPrice trims float noise from prices in user-facing text
func formatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.Equal(d.Truncate(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}
