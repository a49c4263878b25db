package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"chartstream-backend/models"
	"chartstream-backend/services/kvstore"
)

// Key prefixes for the persistence mirror
const (
	alertKeyPrefix     = "alert:"
	userAlertsPrefix   = "user_alerts:"
	symbolAlertsPrefix = "symbol_alerts:"
)

// Error taxonomy for targeted alert operations
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

// UserNotifier delivers a message to a specific user's live connection.
// Satisfied by the subscription registry.
type UserNotifier interface {
	DeliverToUser(userID string, message any) bool
}

// TriggerRecorder receives every trigger for durable history. Optional.
type TriggerRecorder interface {
	Record(alert models.Alert, quote *models.Quote)
}

// Service indexes alerts by symbol and by user, evaluates conditions
// against fresh quotes and manages the alert lifecycle. The in-memory maps
// are the source of truth for evaluation; every mutation is mirrored
// through the kvstore so alerts survive a restart.
type Service struct {
	mu       sync.RWMutex
	alerts   map[string]*models.Alert
	bySymbol map[string]map[string]struct{}
	byUser   map[string]map[string]struct{}

	store    kvstore.Store
	notifier *Notifier
	recorder TriggerRecorder

	// AutoRearm returns a triggered alert to ACTIVE once its notification
	// has been emitted, so it fires again on the next qualifying quote.
	// Off by default: the user re-arms explicitly via ResetAlert.
	autoRearm bool

	now    func() time.Time
	lastID string
	idSeq  int
}

// NewService creates an alert engine backed by the given store and
// delivering notifications through deliver.
func NewService(store kvstore.Store, deliver UserNotifier) *Service {
	return &Service{
		alerts:   make(map[string]*models.Alert),
		bySymbol: make(map[string]map[string]struct{}),
		byUser:   make(map[string]map[string]struct{}),
		store:    store,
		notifier: NewNotifier(deliver),
		now:      time.Now,
	}
}

// SetAutoRearm configures whether triggered alerts re-arm automatically
func (s *Service) SetAutoRearm(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRearm = on
}

// SetRecorder installs an optional durable trigger recorder
func (s *Service) SetRecorder(r TriggerRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// nextID derives a unique alert ID from the creation time. Caller holds mu.
func (s *Service) nextID(at time.Time) string {
	stamp := strings.Replace(at.Format("20060102150405.000000"), ".", "", 1)
	id := "alert_" + stamp
	if id == s.lastID {
		s.idSeq++
		id = fmt.Sprintf("%s_%d", id, s.idSeq)
	} else {
		s.lastID = id
		s.idSeq = 0
	}
	return id
}

// CreateAlert validates the request, indexes the new alert and mirrors it
// to the store. Returns ErrValidation on missing or invalid fields.
func (s *Service) CreateAlert(userID string, req models.CreateAlertRequest) (*models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrValidation)
	}

	condition := models.AlertCondition(req.Condition)
	if !condition.Valid() {
		return nil, fmt.Errorf("%w: unknown condition %q", ErrValidation, req.Condition)
	}

	if req.Value == nil {
		return nil, fmt.Errorf("%w: value is required", ErrValidation)
	}
	threshold := *req.Value
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: value must be a finite number", ErrValidation)
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expires_at: %v", ErrValidation, err)
		}
		expiresAt = &t
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = models.DefaultAlertName(symbol)
	}

	s.mu.Lock()
	now := s.now()
	alert := &models.Alert{
		ID:        s.nextID(now),
		UserID:    userID,
		Symbol:    symbol,
		Condition: condition,
		Threshold: threshold,
		Name:      name,
		Status:    models.AlertActive,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.index(alert)
	created := *alert
	s.mu.Unlock()

	s.persist(&created)
	if err := s.store.AddToSet(userAlertsPrefix+userID, created.ID); err != nil {
		log.Printf("Failed to mirror user index for alert %s: %v", created.ID, err)
	}
	if err := s.store.AddToSet(symbolAlertsPrefix+symbol, created.ID); err != nil {
		log.Printf("Failed to mirror symbol index for alert %s: %v", created.ID, err)
	}

	log.Printf("Alert created: %s (%s %s %v) for user %s",
		created.ID, symbol, condition, threshold, userID)
	return &created, nil
}

// index inserts the alert into all in-memory maps. Caller holds mu.
func (s *Service) index(alert *models.Alert) {
	s.alerts[alert.ID] = alert

	syms, ok := s.bySymbol[alert.Symbol]
	if !ok {
		syms = make(map[string]struct{})
		s.bySymbol[alert.Symbol] = syms
	}
	syms[alert.ID] = struct{}{}

	users, ok := s.byUser[alert.UserID]
	if !ok {
		users = make(map[string]struct{})
		s.byUser[alert.UserID] = users
	}
	users[alert.ID] = struct{}{}
}

// unindex removes the alert from all in-memory maps. Caller holds mu.
func (s *Service) unindex(alert *models.Alert) {
	delete(s.alerts, alert.ID)
	if syms, ok := s.bySymbol[alert.Symbol]; ok {
		delete(syms, alert.ID)
		if len(syms) == 0 {
			delete(s.bySymbol, alert.Symbol)
		}
	}
	if users, ok := s.byUser[alert.UserID]; ok {
		delete(users, alert.ID)
		if len(users) == 0 {
			delete(s.byUser, alert.UserID)
		}
	}
}

// persist mirrors the alert record to the store. Failures are logged, not
// propagated: the in-memory state already committed.
func (s *Service) persist(alert *models.Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		log.Printf("Failed to marshal alert %s: %v", alert.ID, err)
		return
	}
	if err := s.store.Set(alertKeyPrefix+alert.ID, string(data)); err != nil {
		log.Printf("Failed to mirror alert %s: %v", alert.ID, err)
	}
}

// GetUserAlerts returns copies of the user's alerts, newest first
func (s *Service) GetUserAlerts(userID string) []models.Alert {
	s.mu.RLock()
	result := make([]models.Alert, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		if a, ok := s.alerts[id]; ok {
			result = append(result, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// GetAlert returns a copy of one alert owned by userID
func (s *Service) GetAlert(userID, alertID string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok || a.UserID != userID {
		return models.Alert{}, fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	}
	return *a, nil
}

// DeleteAlert removes the alert from the alert set and both indexes
// atomically. The alert must belong to userID.
func (s *Service) DeleteAlert(userID, alertID string) error {
	s.mu.Lock()
	alert, ok := s.alerts[alertID]
	if !ok || alert.UserID != userID {
		s.mu.Unlock()
		return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	}
	alert.Status = models.AlertCancelled
	s.unindex(alert)
	symbol := alert.Symbol
	s.mu.Unlock()

	if err := s.store.Delete(alertKeyPrefix + alertID); err != nil {
		log.Printf("Failed to remove mirrored alert %s: %v", alertID, err)
	}
	if err := s.store.RemoveFromSet(userAlertsPrefix+userID, alertID); err != nil {
		log.Printf("Failed to remove alert %s from user index: %v", alertID, err)
	}
	if err := s.store.RemoveFromSet(symbolAlertsPrefix+symbol, alertID); err != nil {
		log.Printf("Failed to remove alert %s from symbol index: %v", alertID, err)
	}

	log.Printf("Alert deleted: %s", alertID)
	return nil
}

// ResetAlert re-arms a triggered alert back to ACTIVE. This is the explicit
// user action the engine's default (non-auto-rearm) mode relies on.
func (s *Service) ResetAlert(userID, alertID string) error {
	s.mu.Lock()
	alert, ok := s.alerts[alertID]
	if !ok || alert.UserID != userID {
		s.mu.Unlock()
		return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	}
	if alert.Status != models.AlertTriggered {
		s.mu.Unlock()
		return fmt.Errorf("%w: alert %s is %s, only triggered alerts can be reset",
			ErrValidation, alertID, alert.Status)
	}
	alert.Status = models.AlertActive
	updated := *alert
	s.mu.Unlock()

	s.persist(&updated)
	return nil
}

// Evaluate tests every ACTIVE alert indexed under symbol against the quote.
// Matching alerts transition to TRIGGERED and their notifications are
// delivered best-effort. Returns the number of alerts that fired.
func (s *Service) Evaluate(symbol string, quote *models.Quote) int {
	if quote == nil {
		return 0
	}

	s.mu.Lock()
	now := s.now()
	var triggered []models.Alert
	var persisted []models.Alert
	var expired []models.Alert

	for id := range s.bySymbol[symbol] {
		alert, ok := s.alerts[id]
		if !ok || alert.Status != models.AlertActive {
			continue
		}

		if alert.Expired(now) {
			alert.Status = models.AlertExpired
			expired = append(expired, *alert)
			continue
		}

		if alert.Condition.Evaluate(quote, alert.Threshold) {
			alert.Status = models.AlertTriggered
			t := now
			alert.LastTriggered = &t
			alert.NotificationCount++
			alert.TriggerPrice = quote.Price
			// The TRIGGERED snapshot feeds the recorder and notifier;
			// the mirror gets the post-rearm state so a restart
			// restores the alert exactly as it stands in memory.
			triggered = append(triggered, *alert)
			if s.autoRearm {
				alert.Status = models.AlertActive
			}
			persisted = append(persisted, *alert)
		}
	}
	recorder := s.recorder
	s.mu.Unlock()

	for i := range expired {
		s.persist(&expired[i])
	}

	for i := range triggered {
		s.persist(&persisted[i])
		if recorder != nil {
			recorder.Record(triggered[i], quote)
		}
		s.notifier.OnTriggered(triggered[i], quote)
	}

	return len(triggered)
}

// SweepExpired scans every alert and transitions ACTIVE alerts past their
// expiry to EXPIRED. Covers symbols with no live subscribers, which the
// polling loop never evaluates. Returns the number transitioned.
func (s *Service) SweepExpired() int {
	s.mu.Lock()
	now := s.now()
	var expired []models.Alert
	for _, alert := range s.alerts {
		if alert.Status == models.AlertActive && alert.Expired(now) {
			alert.Status = models.AlertExpired
			expired = append(expired, *alert)
		}
	}
	s.mu.Unlock()

	for i := range expired {
		s.persist(&expired[i])
	}

	if len(expired) > 0 {
		log.Printf("Expired alert sweep: %d alerts transitioned", len(expired))
	}
	return len(expired)
}

// LoadFromStore rebuilds the in-memory alert set and indexes from the
// persistence mirror. Called once at startup; cancelled alerts were
// deleted from the store so only live records come back.
func (s *Service) LoadFromStore() error {
	keys, err := s.store.ScanKeys(alertKeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to scan mirrored alerts: %w", err)
	}

	loaded := 0
	s.mu.Lock()
	for _, key := range keys {
		data, ok, err := s.store.Get(key)
		if err != nil || !ok {
			if err != nil {
				log.Printf("Failed to load mirrored alert %s: %v", key, err)
			}
			continue
		}
		var alert models.Alert
		if err := json.Unmarshal([]byte(data), &alert); err != nil {
			log.Printf("Skipping malformed mirrored alert %s: %v", key, err)
			continue
		}
		if alert.ID == "" {
			continue
		}
		s.index(&alert)
		loaded++
	}
	s.mu.Unlock()

	log.Printf("Loaded %d alerts from store", loaded)
	return nil
}

// ActiveCount returns the number of alerts currently in ACTIVE state
func (s *Service) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if a.Status == models.AlertActive {
			n++
		}
	}
	return n
}
