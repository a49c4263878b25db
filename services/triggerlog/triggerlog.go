package triggerlog

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"chartstream-backend/models"
)

// RetentionPeriod bounds how long trigger rows are kept
const RetentionPeriod = 30 * 24 * time.Hour

// Service writes and queries the durable trigger history. Optional at
// runtime: when no database is configured the alert engine simply gets no
// recorder and triggers are not persisted.
type Service struct {
	db *gorm.DB
}

// NewService migrates the trigger history schema and returns the log
func NewService(db *gorm.DB) (*Service, error) {
	if err := models.MigrateTriggerEventModels(db); err != nil {
		return nil, err
	}
	return &Service{db: db}, nil
}

// Record persists one trigger. Satisfies the alert engine's recorder hook;
// failures are logged, a lost history row never blocks notification.
func (s *Service) Record(alert models.Alert, quote *models.Quote) {
	event := models.TriggerEvent{
		AlertID:       alert.ID,
		UserID:        alert.UserID,
		Symbol:        alert.Symbol,
		AlertName:     alert.Name,
		Condition:     string(alert.Condition),
		Threshold:     decimal.NewFromFloat(alert.Threshold),
		Price:         decimal.NewFromFloat(quote.Price),
		ChangePercent: decimal.NewFromFloat(quote.ChangePercent),
		TriggeredAt:   time.Now().UTC(),
	}

	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("Failed to record trigger for alert %s: %v", alert.ID, err)
	}
}

// Recent returns the user's trigger history, newest first
func (s *Service) Recent(userID string, limit int) ([]models.TriggerEvent, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var events []models.TriggerEvent
	err := s.db.Where("user_id = ?", userID).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CleanupOlderThan deletes trigger rows past the retention period and
// returns the number removed.
func (s *Service) CleanupOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result := s.db.Where("triggered_at < ?", cutoff).Delete(&models.TriggerEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Trigger history cleanup: removed %d rows older than %s", result.RowsAffected, cutoff.Format(time.RFC3339))
	}
	return result.RowsAffected, nil
}
