package analysis

import (
	"math"
	"testing"

	"chartstream-backend/models"
)

func TestClassifyTrendRising(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := ClassifyTrend(prices); got != models.TrendUp {
		t.Fatalf("expected up, got %s", got)
	}
}

func TestClassifyTrendFalling(t *testing.T) {
	prices := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	if got := ClassifyTrend(prices); got != models.TrendDown {
		t.Fatalf("expected down, got %s", got)
	}
}

func TestClassifyTrendFlat(t *testing.T) {
	prices := []float64{5, 5, 5, 5, 5, 5}
	if got := ClassifyTrend(prices); got != models.TrendNeutral {
		t.Fatalf("expected neutral, got %s", got)
	}
}

func TestClassifyTrendInsufficientHistory(t *testing.T) {
	prices := []float64{1, 100, 1000, 10000}
	if got := ClassifyTrend(prices); got != models.TrendNeutral {
		t.Fatalf("fewer than %d points must be neutral, got %s", MinTrendPoints, got)
	}
}

func TestClassifyTrendUsesRecentWindow(t *testing.T) {
	// Long falling prefix followed by a strong rise inside the window
	prices := make([]float64, 0, 30)
	for i := 30; i > 10; i-- {
		prices = append(prices, float64(i))
	}
	for i := 0; i < 10; i++ {
		prices = append(prices, float64(10+i*5))
	}
	if got := ClassifyTrend(prices); got != models.TrendUp {
		t.Fatalf("expected window-local up trend, got %s", got)
	}
}

func TestClassifyVolumeTrend(t *testing.T) {
	cases := []struct {
		name    string
		volumes []float64
		want    models.VolumeTrend
	}{
		{"high", []float64{100, 100, 100, 100, 200}, models.VolumeHigh},
		{"low", []float64{100, 100, 100, 100, 10}, models.VolumeLow},
		{"normal", []float64{100, 100, 100, 100, 110}, models.VolumeNormal},
		{"insufficient", []float64{100, 100, 500}, models.VolumeNeutral},
		{"zero average", []float64{0, 0, 0, 0, 50}, models.VolumeNormal},
	}

	for _, tc := range cases {
		if got := ClassifyVolumeTrend(tc.volumes); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestLinearSlope(t *testing.T) {
	slope, ok := LinearSlope([]float64{2, 4, 6, 8})
	if !ok {
		t.Fatal("expected slope for a clean series")
	}
	if math.Abs(slope-2) > 1e-9 {
		t.Fatalf("expected slope 2, got %v", slope)
	}

	if _, ok := LinearSlope([]float64{1}); ok {
		t.Fatal("single point must not produce a slope")
	}
}

func TestCalculateRSIAllGains(t *testing.T) {
	closes := make([]float64, RSIPeriod+1)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	rsi, ok := CalculateRSI(closes, RSIPeriod)
	if !ok {
		t.Fatal("expected RSI with enough closes")
	}
	if rsi != 100 {
		t.Fatalf("all-gain series should have RSI 100, got %v", rsi)
	}
}

func TestCalculateRSIMidrange(t *testing.T) {
	// Alternating equal gains and losses should sit near 50
	closes := make([]float64, RSIPeriod+1)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		if i%2 == 0 {
			closes[i] = closes[i-1] - 1
		} else {
			closes[i] = closes[i-1] + 1
		}
	}

	rsi, ok := CalculateRSI(closes, RSIPeriod)
	if !ok {
		t.Fatal("expected RSI with enough closes")
	}
	if rsi < 40 || rsi > 60 {
		t.Fatalf("balanced series should be near 50, got %v", rsi)
	}
}

func TestCalculateRSIInsufficientHistory(t *testing.T) {
	closes := make([]float64, RSIPeriod)
	if _, ok := CalculateRSI(closes, RSIPeriod); ok {
		t.Fatalf("RSI needs %d closes, should refuse %d", RSIPeriod+1, len(closes))
	}
}

func TestPercentChange(t *testing.T) {
	prices := []float64{100, 105, 110, 120}

	if got := PercentChange(prices, 3); math.Abs(got-20) > 1e-9 {
		t.Fatalf("expected 20%%, got %v", got)
	}
	if got := PercentChange(prices, 10); got != 0 {
		t.Fatalf("expected 0 for insufficient history, got %v", got)
	}
}

func TestVolatility(t *testing.T) {
	if got := Volatility([]float64{100, 100, 100}); got != 0 {
		t.Fatalf("constant prices should have zero volatility, got %v", got)
	}
	if got := Volatility([]float64{100}); got != 0 {
		t.Fatalf("single price should have zero volatility, got %v", got)
	}
	if got := Volatility([]float64{100, 150, 75, 160}); got <= 0 {
		t.Fatalf("noisy prices should have positive volatility, got %v", got)
	}
}
