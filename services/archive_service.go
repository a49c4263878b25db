package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chartstream-backend/models"
)

// DefaultArchivePath is where quote snapshots land when no path is configured
const DefaultArchivePath = "data/quotes.db"

// ArchivedQuote is one persisted snapshot row
type ArchivedQuote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	Trend         string    `json:"trend"`
	VolumeTrend   string    `json:"volume_trend"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ArchiveService persists the latest quote snapshot per symbol to a local
// SQLite file so the last known prices survive a restart and are queryable
// without touching the upstream provider.
type ArchiveService struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewArchiveService opens (or creates) the archive database at path
func NewArchiveService(path string) (*ArchiveService, error) {
	if path == "" {
		path = DefaultArchivePath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	svc := &ArchiveService{db: db}
	if err := svc.createTables(); err != nil {
		return nil, err
	}

	log.Printf("Quote archive initialized at %s", path)
	return svc, nil
}

func (s *ArchiveService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *ArchiveService) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		CREATE TABLE IF NOT EXISTS quote_snapshots (
			symbol VARCHAR PRIMARY KEY,
			price REAL,
			change REAL,
			change_percent REAL,
			volume INTEGER,
			high REAL,
			low REAL,
			open REAL,
			trend VARCHAR,
			volume_trend VARCHAR,
			updated_at TIMESTAMP
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create quote_snapshots table: %w", err)
	}
	return nil
}

// UpsertSnapshot writes the latest snapshot for a symbol, replacing any
// previous row.
func (s *ArchiveService) UpsertSnapshot(q *models.Quote, at time.Time) error {
	if q == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO quote_snapshots (
			symbol, price, change, change_percent, volume,
			high, low, open, trend, volume_trend, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		q.Symbol, q.Price, q.Change, q.ChangePercent, q.Volume,
		q.High, q.Low, q.Open, string(q.Trend), string(q.VolumeTrend), at,
	)
	return err
}

// ArchiveAll persists the cached snapshot of every given symbol. Symbols
// without a snapshot yet are skipped. Returns the number written.
func (s *ArchiveService) ArchiveAll(store *QuoteStore, symbols []string) int {
	written := 0
	for _, symbol := range symbols {
		snap := store.Snapshot(symbol)
		if snap == nil {
			continue
		}
		if err := s.UpsertSnapshot(snap, store.LastUpdate(symbol)); err != nil {
			log.Printf("Failed to archive snapshot for %s: %v", symbol, err)
			continue
		}
		written++
	}
	return written
}

// LatestQuotes returns the archived snapshots, most recently updated first
func (s *ArchiveService) LatestQuotes(limit int) ([]ArchivedQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `SELECT symbol, price, change, change_percent, volume,
		high, low, open, trend, volume_trend, updated_at
		FROM quote_snapshots ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []ArchivedQuote
	for rows.Next() {
		var q ArchivedQuote
		var updatedAt sql.NullTime
		err := rows.Scan(
			&q.Symbol, &q.Price, &q.Change, &q.ChangePercent, &q.Volume,
			&q.High, &q.Low, &q.Open, &q.Trend, &q.VolumeTrend, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			q.UpdatedAt = updatedAt.Time
		}
		quotes = append(quotes, q)
	}

	return quotes, rows.Err()
}

// GetSnapshot returns the archived snapshot for one symbol
func (s *ArchiveService) GetSnapshot(symbol string) (*ArchivedQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT symbol, price, change, change_percent, volume,
		high, low, open, trend, volume_trend, updated_at
		FROM quote_snapshots WHERE symbol = ?`

	var q ArchivedQuote
	var updatedAt sql.NullTime
	err := s.db.QueryRow(query, symbol).Scan(
		&q.Symbol, &q.Price, &q.Change, &q.ChangePercent, &q.Volume,
		&q.High, &q.Low, &q.Open, &q.Trend, &q.VolumeTrend, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if updatedAt.Valid {
		q.UpdatedAt = updatedAt.Time
	}
	return &q, nil
}
