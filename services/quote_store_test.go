package services

import (
	"testing"
	"time"

	"chartstream-backend/models"
)

func point(price float64, volume int64) models.PricePoint {
	return models.PricePoint{
		Timestamp: time.Now(),
		Price:     price,
		Volume:    volume,
	}
}

func TestQuoteStoreAppendAndHistory(t *testing.T) {
	store := NewQuoteStore()

	store.Append("AAPL", point(100, 10))
	store.Append("AAPL", point(101, 20))
	store.Append("AAPL", point(102, 30))

	history := store.History("AAPL", 10)
	if len(history) != 3 {
		t.Fatalf("expected 3 points, got %d", len(history))
	}
	if history[0].Price != 100 || history[2].Price != 102 {
		t.Fatalf("history not oldest-first: %v", history)
	}

	last2 := store.History("AAPL", 2)
	if len(last2) != 2 {
		t.Fatalf("expected 2 points, got %d", len(last2))
	}
	if last2[0].Price != 101 || last2[1].Price != 102 {
		t.Fatalf("wrong tail selection: %v", last2)
	}
}

func TestQuoteStoreRingEvictsOldest(t *testing.T) {
	store := NewQuoteStore()

	for i := 0; i < HistoryCapacity+25; i++ {
		store.Append("BTC-USD", point(float64(i), 1))
	}

	if n := store.Len("BTC-USD"); n != HistoryCapacity {
		t.Fatalf("expected ring capped at %d, got %d", HistoryCapacity, n)
	}

	history := store.History("BTC-USD", HistoryCapacity)
	if history[0].Price != 25 {
		t.Fatalf("expected oldest retained point to be 25, got %v", history[0].Price)
	}
	if history[len(history)-1].Price != float64(HistoryCapacity+24) {
		t.Fatalf("expected newest point %d, got %v", HistoryCapacity+24, history[len(history)-1].Price)
	}
}

func TestQuoteStoreUnknownSymbol(t *testing.T) {
	store := NewQuoteStore()

	if got := store.History("NOPE", 10); len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
	if store.Snapshot("NOPE") != nil {
		t.Fatal("expected nil snapshot for unknown symbol")
	}
	if !store.LastUpdate("NOPE").IsZero() {
		t.Fatal("expected zero last update for unknown symbol")
	}
}

func TestQuoteStoreSnapshot(t *testing.T) {
	store := NewQuoteStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	q := &models.Quote{Symbol: "ETH-USD", Price: 2500}
	store.SetSnapshot("ETH-USD", q, at)

	got := store.Snapshot("ETH-USD")
	if got == nil || got.Price != 2500 {
		t.Fatalf("snapshot mismatch: %v", got)
	}
	if !store.LastUpdate("ETH-USD").Equal(at) {
		t.Fatalf("last update mismatch: %v", store.LastUpdate("ETH-USD"))
	}
}

func TestQuoteStoreStatistics(t *testing.T) {
	store := NewQuoteStore()

	for i := 0; i < 20; i++ {
		store.Append("SOL-USD", point(100+float64(i), 5))
	}

	stats, ok := store.Statistics("SOL-USD")
	if !ok {
		t.Fatal("expected statistics for populated symbol")
	}
	if stats.CurrentPrice != 119 {
		t.Fatalf("expected current price 119, got %v", stats.CurrentPrice)
	}
	if stats.High24H != 119 || stats.Low24H != 100 {
		t.Fatalf("high/low mismatch: %v / %v", stats.High24H, stats.Low24H)
	}
	if stats.Volume24H != 100 {
		t.Fatalf("expected volume 100, got %d", stats.Volume24H)
	}

	if _, ok := store.Statistics("EMPTY"); ok {
		t.Fatal("expected no statistics for empty symbol")
	}
}
