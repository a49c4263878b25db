package alerts

import (
	"errors"
	"math"
	"testing"
	"time"

	"chartstream-backend/models"
	"chartstream-backend/services/kvstore"
)

// fakeDeliverer records delivered notifications
type fakeDeliverer struct {
	delivered []struct {
		UserID  string
		Message any
	}
	offline bool
}

func (f *fakeDeliverer) DeliverToUser(userID string, message any) bool {
	if f.offline {
		return false
	}
	f.delivered = append(f.delivered, struct {
		UserID  string
		Message any
	}{userID, message})
	return true
}

// fakeRecorder counts recorded triggers
type fakeRecorder struct {
	events []models.Alert
}

func (f *fakeRecorder) Record(alert models.Alert, quote *models.Quote) {
	f.events = append(f.events, alert)
}

func newTestService(t *testing.T) (*Service, *fakeDeliverer) {
	t.Helper()
	deliverer := &fakeDeliverer{}
	return NewService(kvstore.NewMemory(), deliverer), deliverer
}

func quoteAt(symbol string, price float64) *models.Quote {
	return &models.Quote{Type: "price_update", Symbol: symbol, Price: price}
}

func floatPtr(v float64) *float64 { return &v }

func TestCreateAlertValidation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []struct {
		name string
		req  models.CreateAlertRequest
	}{
		{"missing symbol", models.CreateAlertRequest{Condition: "price_above", Value: floatPtr(1)}},
		{"unknown condition", models.CreateAlertRequest{Symbol: "AAPL", Condition: "price_sideways", Value: floatPtr(1)}},
		{"missing value", models.CreateAlertRequest{Symbol: "AAPL", Condition: "price_above"}},
		{"nan value", models.CreateAlertRequest{Symbol: "AAPL", Condition: "price_above", Value: floatPtr(math.NaN())}},
		{"infinite value", models.CreateAlertRequest{Symbol: "AAPL", Condition: "price_above", Value: floatPtr(math.Inf(1))}},
		{"bad expiry", models.CreateAlertRequest{Symbol: "AAPL", Condition: "price_above", Value: floatPtr(1), ExpiresAt: "tomorrow"}},
	}

	for _, tc := range cases {
		_, err := svc.CreateAlert("user-1", tc.req)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestCreateAlertDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	alert, err := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "btc-usd",
		Condition: "price_above",
		Value:     floatPtr(50000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if alert.Symbol != "BTC-USD" {
		t.Fatalf("symbol should be uppercased, got %s", alert.Symbol)
	}
	if alert.Name != "Alert BTC-USD" {
		t.Fatalf("expected default name, got %q", alert.Name)
	}
	if alert.Status != models.AlertActive {
		t.Fatalf("new alerts must start active, got %s", alert.Status)
	}
	if alert.ID == "" {
		t.Fatal("expected generated ID")
	}
}

func TestCreateAlertUniqueIDs(t *testing.T) {
	svc, _ := newTestService(t)
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		alert, err := svc.CreateAlert("user-1", models.CreateAlertRequest{
			Symbol:    "AAPL",
			Condition: "price_above",
			Value:     floatPtr(100),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[alert.ID] {
			t.Fatalf("duplicate alert ID %s under same-instant creation", alert.ID)
		}
		seen[alert.ID] = true
	}
}

func TestEvaluateTriggersAndNotifies(t *testing.T) {
	svc, deliverer := newTestService(t)

	alert, _ := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
	})

	// At the threshold is not above it
	if n := svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 50000)); n != 0 {
		t.Fatalf("price equal to threshold must not trigger, fired %d", n)
	}

	if n := svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 50001)); n != 1 {
		t.Fatalf("expected 1 trigger, got %d", n)
	}

	got, err := svc.GetAlert("user-1", alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.AlertTriggered {
		t.Fatalf("expected triggered, got %s", got.Status)
	}
	if got.NotificationCount != 1 {
		t.Fatalf("expected notification count 1, got %d", got.NotificationCount)
	}
	if got.TriggerPrice != 50001 {
		t.Fatalf("expected trigger price 50001, got %v", got.TriggerPrice)
	}
	if got.LastTriggered == nil {
		t.Fatal("expected last triggered timestamp")
	}

	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(deliverer.delivered))
	}
	if deliverer.delivered[0].UserID != "user-1" {
		t.Fatalf("notification went to wrong user: %s", deliverer.delivered[0].UserID)
	}

	notif, ok := deliverer.delivered[0].Message.(models.AlertNotification)
	if !ok {
		t.Fatalf("unexpected message type %T", deliverer.delivered[0].Message)
	}
	if notif.Type != "alert_triggered" || notif.AlertID != alert.ID || notif.CurrentPrice != 50001 {
		t.Fatalf("notification payload mismatch: %+v", notif)
	}
}

func TestEvaluateTriggeredAlertDoesNotRefire(t *testing.T) {
	svc, deliverer := newTestService(t)

	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
	})

	svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 60000))
	if n := svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 70000)); n != 0 {
		t.Fatalf("triggered alert must stay silent, fired %d", n)
	}
	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(deliverer.delivered))
	}
}

func TestEvaluateAutoRearm(t *testing.T) {
	svc, deliverer := newTestService(t)
	svc.SetAutoRearm(true)

	alert, _ := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
	})

	svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 60000))
	svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 70000))

	got, _ := svc.GetAlert("user-1", alert.ID)
	if got.Status != models.AlertActive {
		t.Fatalf("auto-rearmed alert should be active, got %s", got.Status)
	}
	if got.NotificationCount != 2 {
		t.Fatalf("expected 2 notifications counted, got %d", got.NotificationCount)
	}
	if len(deliverer.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliverer.delivered))
	}
}

func TestEvaluateExpiredAlert(t *testing.T) {
	svc, deliverer := newTestService(t)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	alert, err := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
		ExpiresAt: past,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 99999)); n != 0 {
		t.Fatalf("expired alert must not fire, fired %d", n)
	}

	got, _ := svc.GetAlert("user-1", alert.ID)
	if got.Status != models.AlertExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if len(deliverer.delivered) != 0 {
		t.Fatalf("expired alert must not notify, got %d", len(deliverer.delivered))
	}
}

func TestEvaluateRSIConditionWithoutRSI(t *testing.T) {
	svc, _ := newTestService(t)

	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "AAPL",
		Condition: "rsi_overbought",
		Value:     floatPtr(70),
	})

	// Quote has no RSI yet, condition must evaluate false
	if n := svc.Evaluate("AAPL", quoteAt("AAPL", 200)); n != 0 {
		t.Fatalf("RSI condition without RSI input must not fire, fired %d", n)
	}

	rsi := 85.0
	q := quoteAt("AAPL", 200)
	q.RSI = &rsi
	if n := svc.Evaluate("AAPL", q); n != 1 {
		t.Fatalf("expected RSI trigger once the input exists, fired %d", n)
	}
}

func TestEvaluateRecordsTriggers(t *testing.T) {
	svc, _ := newTestService(t)
	recorder := &fakeRecorder{}
	svc.SetRecorder(recorder)

	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_below",
		Value:     floatPtr(40000),
	})

	svc.Evaluate("BTC-USD", quoteAt("BTC-USD", 39000))

	if len(recorder.events) != 1 {
		t.Fatalf("expected 1 recorded trigger, got %d", len(recorder.events))
	}
	if recorder.events[0].Symbol != "BTC-USD" {
		t.Fatalf("recorded wrong symbol: %s", recorder.events[0].Symbol)
	}
}

func TestDeleteAlertOwnership(t *testing.T) {
	svc, _ := newTestService(t)

	alert, _ := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "AAPL",
		Condition: "price_above",
		Value:     floatPtr(100),
	})

	if err := svc.DeleteAlert("user-2", alert.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign user must get ErrNotFound, got %v", err)
	}

	if err := svc.DeleteAlert("user-1", alert.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}

	if err := svc.DeleteAlert("user-1", alert.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete must be ErrNotFound, got %v", err)
	}

	// Deleted alerts never evaluate again
	if n := svc.Evaluate("AAPL", quoteAt("AAPL", 500)); n != 0 {
		t.Fatalf("deleted alert fired %d times", n)
	}
}

func TestResetAlert(t *testing.T) {
	svc, _ := newTestService(t)

	alert, _ := svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "AAPL",
		Condition: "price_above",
		Value:     floatPtr(100),
	})

	if err := svc.ResetAlert("user-1", alert.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("resetting an active alert must fail validation, got %v", err)
	}

	svc.Evaluate("AAPL", quoteAt("AAPL", 150))
	if err := svc.ResetAlert("user-1", alert.ID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	got, _ := svc.GetAlert("user-1", alert.ID)
	if got.Status != models.AlertActive {
		t.Fatalf("expected active after reset, got %s", got.Status)
	}

	// The re-armed alert fires again and keeps counting
	if n := svc.Evaluate("AAPL", quoteAt("AAPL", 150)); n != 1 {
		t.Fatalf("re-armed alert should fire, fired %d", n)
	}
	got, _ = svc.GetAlert("user-1", alert.ID)
	if got.NotificationCount != 2 {
		t.Fatalf("expected cumulative count 2, got %d", got.NotificationCount)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, _ := newTestService(t)

	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol: "AAPL", Condition: "price_above", Value: floatPtr(1), ExpiresAt: past,
	})
	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol: "MSFT", Condition: "price_above", Value: floatPtr(1), ExpiresAt: future,
	})
	svc.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol: "GOOG", Condition: "price_above", Value: floatPtr(1),
	})

	if n := svc.SweepExpired(); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if n := svc.SweepExpired(); n != 0 {
		t.Fatalf("second sweep should find nothing, got %d", n)
	}
}

func TestGetUserAlertsSortedNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		svc.CreateAlert("user-1", models.CreateAlertRequest{
			Symbol: "AAPL", Condition: "price_above", Value: floatPtr(float64(i)),
		})
	}

	got := svc.GetUserAlerts("user-1")
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Fatalf("alerts not sorted newest first: %v", got)
		}
	}

	if n := len(svc.GetUserAlerts("stranger")); n != 0 {
		t.Fatalf("expected no alerts for unknown user, got %d", n)
	}
}

func TestLoadFromStoreRoundTrip(t *testing.T) {
	kv := kvstore.NewMemory()
	first := NewService(kv, &fakeDeliverer{})

	created, err := first.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
		Name:      "moon watch",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := first.CreateAlert("user-2", models.CreateAlertRequest{
		Symbol: "ETH-USD", Condition: "price_below", Value: floatPtr(2000),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fresh engine against the same store, as after a restart
	second := NewService(kv, &fakeDeliverer{})
	if err := second.LoadFromStore(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	got, err := second.GetAlert("user-1", created.ID)
	if err != nil {
		t.Fatalf("alert lost across restart: %v", err)
	}
	if got.Name != "moon watch" || got.Threshold != 50000 {
		t.Fatalf("alert fields lost: %+v", got)
	}

	// Indexes rebuilt: evaluation works against the reloaded set
	if n := second.Evaluate("BTC-USD", quoteAt("BTC-USD", 51000)); n != 1 {
		t.Fatalf("reloaded alert should fire, fired %d", n)
	}
}

func TestAutoRearmSurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemory()
	first := NewService(kv, &fakeDeliverer{})
	first.SetAutoRearm(true)

	created, err := first.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol:    "BTC-USD",
		Condition: "price_above",
		Value:     floatPtr(50000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := first.Evaluate("BTC-USD", quoteAt("BTC-USD", 60000)); n != 1 {
		t.Fatalf("expected 1 trigger, got %d", n)
	}

	second := NewService(kv, &fakeDeliverer{})
	second.SetAutoRearm(true)
	if err := second.LoadFromStore(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// The mirror must carry the re-armed state, not the trigger snapshot
	got, err := second.GetAlert("user-1", created.ID)
	if err != nil {
		t.Fatalf("alert lost across restart: %v", err)
	}
	if got.Status != models.AlertActive {
		t.Fatalf("re-armed alert should reload as active, got %s", got.Status)
	}
	if got.NotificationCount != 1 {
		t.Fatalf("trigger count should survive the restart, got %d", got.NotificationCount)
	}

	if n := second.Evaluate("BTC-USD", quoteAt("BTC-USD", 70000)); n != 1 {
		t.Fatalf("reloaded re-armed alert should fire again, fired %d", n)
	}
}

func TestDeletedAlertNotReloaded(t *testing.T) {
	kv := kvstore.NewMemory()
	first := NewService(kv, &fakeDeliverer{})

	alert, _ := first.CreateAlert("user-1", models.CreateAlertRequest{
		Symbol: "AAPL", Condition: "price_above", Value: floatPtr(100),
	})
	first.DeleteAlert("user-1", alert.ID)

	second := NewService(kv, &fakeDeliverer{})
	if err := second.LoadFromStore(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if n := len(second.GetUserAlerts("user-1")); n != 0 {
		t.Fatalf("deleted alert came back: %d alerts", n)
	}
}
