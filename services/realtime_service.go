package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"chartstream-backend/models"
	"chartstream-backend/services/analysis"
	"chartstream-backend/services/marketdata"
)

// Polling cadence parameters
const (
	cryptoRefreshInterval  = 3 * time.Second
	defaultRefreshInterval = 5 * time.Second
	idleSleep              = 10 * time.Second

	// points of history carried on each broadcast quote
	broadcastHistoryPoints = 20

	defaultMaxConcurrentFetches = 8
)

// cryptoTickers marks symbols refreshed on the faster cadence. Matched as
// substrings, so exchange-suffixed pairs like BTC-USD qualify too.
var cryptoTickers = []string{"BTC", "ETH", "ADA", "SOL", "XRP"}

// AlertEvaluator receives every fresh quote for condition evaluation
type AlertEvaluator interface {
	Evaluate(symbol string, quote *models.Quote) int
}

// RealtimeService drives the polling loop: it refreshes every symbol with at
// least one live subscriber, derives the broadcast quote from the fetched
// bars and the retained history, fans the quote out and feeds the alert
// engine. One symbol failing never affects the others.
type RealtimeService struct {
	store    *QuoteStore
	registry *SubscriptionRegistry
	provider marketdata.Provider
	alerts   AlertEvaluator

	// bounds in-flight provider fetches
	sem chan struct{}

	mu          sync.Mutex
	lastAttempt map[string]time.Time

	// injectable for deterministic scheduling tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewRealtimeService wires the polling loop. maxConcurrent bounds parallel
// provider fetches; values below one fall back to the default.
func NewRealtimeService(store *QuoteStore, registry *SubscriptionRegistry, provider marketdata.Provider, alerts AlertEvaluator, maxConcurrent int) *RealtimeService {
	if maxConcurrent < 1 {
		maxConcurrent = defaultMaxConcurrentFetches
	}
	return &RealtimeService{
		store:       store,
		registry:    registry,
		provider:    provider,
		alerts:      alerts,
		sem:         make(chan struct{}, maxConcurrent),
		lastAttempt: make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run blocks polling symbols until ctx is cancelled
func (s *RealtimeService) Run(ctx context.Context) {
	log.Printf("Realtime polling loop started")
	for ctx.Err() == nil {
		symbols := s.registry.ActiveSymbols()
		if len(symbols) == 0 {
			s.sleep(ctx, idleSleep)
			continue
		}

		if !s.dispatchDue(ctx, symbols) {
			return
		}
		// One pacing sleep per cycle, whether or not any symbol was due,
		// so a fully throttled cycle never spins.
		s.sleep(ctx, pacingInterval(len(symbols)))
	}
	log.Printf("Realtime polling loop stopped")
}

// dispatchDue starts a bounded refresh goroutine for every symbol whose
// throttle window has elapsed. Returns false when ctx was cancelled while
// waiting on the fetch semaphore.
func (s *RealtimeService) dispatchDue(ctx context.Context, symbols []string) bool {
	for _, symbol := range symbols {
		if !s.claimRefresh(symbol) {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}
		go func(sym string) {
			defer func() { <-s.sem }()
			s.refreshSymbol(ctx, sym)
		}(symbol)
	}
	return true
}

// pacingInterval is the per-cycle sleep after dispatch: roughly ten seconds
// split across the active symbols, floored at two seconds.
func pacingInterval(activeSymbols int) time.Duration {
	if activeSymbols < 1 {
		activeSymbols = 1
	}
	seconds := 10 / activeSymbols
	if seconds < 2 {
		seconds = 2
	}
	return time.Duration(seconds) * time.Second
}

// refreshInterval is the per-symbol throttle floor
func refreshInterval(symbol string) time.Duration {
	upper := strings.ToUpper(symbol)
	for _, ticker := range cryptoTickers {
		if strings.Contains(upper, ticker) {
			return cryptoRefreshInterval
		}
	}
	return defaultRefreshInterval
}

// claimRefresh atomically checks the symbol's throttle and records the
// attempt, so a slow in-flight fetch is never doubled up.
func (s *RealtimeService) claimRefresh(symbol string) bool {
	interval := refreshInterval(symbol)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastAttempt[symbol]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastAttempt[symbol] = now
	return true
}

// refreshSymbol fetches the latest bars for one symbol, derives the quote,
// broadcasts it and runs alert evaluation. Fetch errors and empty responses
// skip the cycle without touching retained state.
func (s *RealtimeService) refreshSymbol(ctx context.Context, symbol string) {
	bars, err := s.provider.FetchLatestBars(ctx, symbol, "1m", "1d")
	if err != nil {
		log.Printf("Failed to fetch %s: %v", symbol, err)
		return
	}
	if len(bars) == 0 {
		return
	}

	quote := s.buildQuote(symbol, bars)
	s.store.SetSnapshot(symbol, quote, s.now())

	s.registry.BroadcastToSymbol(symbol, quote)
	if s.alerts != nil {
		s.alerts.Evaluate(symbol, quote)
	}
}

// buildQuote appends the newest bar to the history ring and derives the
// full broadcast snapshot from the bars and retained history.
func (s *RealtimeService) buildQuote(symbol string, bars []marketdata.Bar) *models.Quote {
	latest := bars[len(bars)-1]

	// Change is measured against the prior bar's close; a single-bar
	// response falls back to the bar's own open.
	prior := latest.Open
	if len(bars) >= 2 {
		prior = bars[len(bars)-2].Close
	}
	change := latest.Close - prior
	changePct := 0.0
	if prior != 0 {
		changePct = change / prior * 100
	}

	// Day change is measured against the first bar's open
	dayOpen := bars[0].Open
	dayChange := latest.Close - dayOpen
	dayChangePct := 0.0
	if dayOpen != 0 {
		dayChangePct = dayChange / dayOpen * 100
	}

	s.store.Append(symbol, models.PricePoint{
		Timestamp: latest.Timestamp,
		Price:     latest.Close,
		Open:      latest.Open,
		High:      latest.High,
		Low:       latest.Low,
		Volume:    latest.Volume,
	})

	history := s.store.History(symbol, HistoryCapacity)
	closes := make([]float64, len(history))
	volumes := make([]float64, len(history))
	for i, p := range history {
		closes[i] = p.Price
		volumes[i] = float64(p.Volume)
	}

	now := s.now()
	quote := &models.Quote{
		Type:             "price_update",
		Symbol:           symbol,
		Price:            latest.Close,
		Open:             latest.Open,
		High:             latest.High,
		Low:              latest.Low,
		Change:           change,
		ChangePercent:    changePct,
		DayChange:        dayChange,
		DayChangePercent: dayChangePct,
		Volume:           latest.Volume,
		Timestamp:        now.UTC().Format(time.RFC3339),
		PriceHistory:     s.store.History(symbol, broadcastHistoryPoints),
		Trend:            analysis.ClassifyTrend(closes),
		VolumeTrend:      analysis.ClassifyVolumeTrend(volumes),
		UpdateID:         fmt.Sprintf("%s_%d", symbol, now.UnixMilli()),
	}
	if rsi, ok := analysis.CalculateRSI(closes, analysis.RSIPeriod); ok {
		quote.RSI = &rsi
	}
	return quote
}
