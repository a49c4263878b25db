package services

import (
	"sync"
	"time"

	"chartstream-backend/models"
	"chartstream-backend/services/analysis"
)

// HistoryCapacity bounds the per-symbol price history ring
const HistoryCapacity = 100

// priceRing is a fixed-capacity FIFO ring of price points. No resizing.
type priceRing struct {
	data     []models.PricePoint
	capacity int
	index    int // next write position
	size     int
}

func newPriceRing(capacity int) *priceRing {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &priceRing{
		data:     make([]models.PricePoint, capacity),
		capacity: capacity,
	}
}

func (r *priceRing) append(p models.PricePoint) {
	r.data[r.index] = p
	r.index = (r.index + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// latest returns up to n most recent points, oldest first
func (r *priceRing) latest(n int) []models.PricePoint {
	if r.size == 0 || n <= 0 {
		return []models.PricePoint{}
	}

	count := n
	if count > r.size {
		count = r.size
	}

	result := make([]models.PricePoint, count)
	start := (r.index - count + r.capacity) % r.capacity
	for i := 0; i < count; i++ {
		result[i] = r.data[(start+i)%r.capacity]
	}
	return result
}

func (r *priceRing) all() []models.PricePoint {
	return r.latest(r.size)
}

// symbolState holds the retained realtime state for one symbol
type symbolState struct {
	history    *priceRing
	snapshot   *models.Quote
	lastUpdate time.Time
}

// QuoteStore keeps bounded per-symbol price history and the last broadcast
// snapshot. States are created lazily on first touch and kept for the
// process lifetime; memory is bounded by the ring capacity.
type QuoteStore struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewQuoteStore creates an empty store
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{symbols: make(map[string]*symbolState)}
}

func (s *QuoteStore) state(symbol string) *symbolState {
	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{history: newPriceRing(HistoryCapacity)}
		s.symbols[symbol] = st
	}
	return st
}

// Append adds a price point to the symbol's history, evicting the oldest
// point once at capacity.
func (s *QuoteStore) Append(symbol string, p models.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(symbol).history.append(p)
}

// History returns up to n most recent points for the symbol, oldest first
func (s *QuoteStore) History(symbol string, n int) []models.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return []models.PricePoint{}
	}
	return st.history.latest(n)
}

// Len returns the number of retained points for the symbol
func (s *QuoteStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return 0
	}
	return st.history.size
}

// SetSnapshot records the latest broadcast quote and the update time
func (s *QuoteStore) SetSnapshot(symbol string, q *models.Quote, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(symbol)
	st.snapshot = q
	st.lastUpdate = at
}

// Snapshot returns the cached quote for the symbol, or nil
func (s *QuoteStore) Snapshot(symbol string) *models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return nil
	}
	return st.snapshot
}

// LastUpdate returns when the symbol was last refreshed (zero if never)
func (s *QuoteStore) LastUpdate(symbol string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return time.Time{}
	}
	return st.lastUpdate
}

// Closes returns the close prices of the retained history, oldest first
func (s *QuoteStore) Closes(symbol string) []float64 {
	points := s.History(symbol, HistoryCapacity)
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Price
	}
	return closes
}

// Statistics summarizes the retained history for a symbol. The 1h/24h
// horizons assume the dominant 5s refresh cadence of the poller; with a
// 100-point ring the 24h figures degrade to whole-history figures.
func (s *QuoteStore) Statistics(symbol string) (models.SymbolStatistics, bool) {
	s.mu.RLock()
	st, ok := s.symbols[symbol]
	if !ok || st.history.size == 0 {
		s.mu.RUnlock()
		return models.SymbolStatistics{}, false
	}
	points := st.history.all()
	s.mu.RUnlock()

	prices := make([]float64, len(points))
	var volume24h int64
	high := points[0].Price
	low := points[0].Price
	for i, p := range points {
		prices[i] = p.Price
		volume24h += p.Volume
		if p.Price > high {
			high = p.Price
		}
		if p.Price < low {
			low = p.Price
		}
	}

	return models.SymbolStatistics{
		CurrentPrice:   prices[len(prices)-1],
		PriceChange1H:  analysis.PercentChange(prices, 12),
		PriceChange24H: analysis.PercentChange(prices, 288),
		Volume24H:      volume24h,
		High24H:        high,
		Low24H:         low,
		Volatility:     analysis.Volatility(prices),
	}, true
}
