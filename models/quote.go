package models

import "time"

// TrendDirection classifies the recent price slope of a symbol
type TrendDirection string

const (
	TrendUp      TrendDirection = "up"
	TrendDown    TrendDirection = "down"
	TrendNeutral TrendDirection = "neutral"
)

// VolumeTrend classifies the latest volume against recent average volume
type VolumeTrend string

const (
	VolumeHigh    VolumeTrend = "high"
	VolumeLow     VolumeTrend = "low"
	VolumeNormal  VolumeTrend = "normal"
	VolumeNeutral VolumeTrend = "neutral" // not enough history to classify
)

// PricePoint is a single observed bar for a symbol. Immutable once stored.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    int64     `json:"volume"`
}

// Quote is the derived realtime snapshot broadcast to symbol subscribers.
// RSI is nil until enough history has accumulated to compute it.
type Quote struct {
	Type             string         `json:"type"` // always "price_update"
	Symbol           string         `json:"symbol"`
	Price            float64        `json:"price"`
	Open             float64        `json:"open"`
	High             float64        `json:"high"`
	Low              float64        `json:"low"`
	Change           float64        `json:"change"`
	ChangePercent    float64        `json:"change_percent"`
	DayChange        float64        `json:"day_change"`
	DayChangePercent float64        `json:"day_change_percent"`
	Volume           int64          `json:"volume"`
	Timestamp        string         `json:"timestamp"`
	PriceHistory     []PricePoint   `json:"price_history"` // last 20 points
	Trend            TrendDirection `json:"trend"`
	VolumeTrend      VolumeTrend    `json:"volume_trend"`
	RSI              *float64       `json:"rsi,omitempty"`
	UpdateID         string         `json:"update_id"`
}

// SymbolStatistics summarizes the retained price history for a symbol
type SymbolStatistics struct {
	CurrentPrice   float64 `json:"current_price"`
	PriceChange1H  float64 `json:"price_change_1h"`
	PriceChange24H float64 `json:"price_change_24h"`
	Volume24H      int64   `json:"volume_24h"`
	High24H        float64 `json:"high_24h"`
	Low24H         float64 `json:"low_24h"`
	Volatility     float64 `json:"volatility"`
}

// HeartbeatMessage keeps idle WebSocket clients informed the stream is alive
type HeartbeatMessage struct {
	Type      string `json:"type"` // always "heartbeat"
	Timestamp string `json:"timestamp"`
}

// NewHeartbeat builds a heartbeat message stamped with the given time
func NewHeartbeat(at time.Time) HeartbeatMessage {
	return HeartbeatMessage{Type: "heartbeat", Timestamp: at.Format(time.RFC3339)}
}
