// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracker provides persistent outcome tracking for routed tasks.
// It records per-(tier, category) results in SQLite and exposes the aggregate
// statistics the router consults during tier selection.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/tierflow/tierflow/internal/util"
)

// OutcomeRecord represents a single task outcome entry.
type OutcomeRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Tier         string    `json:"tier"`
	Category     string    `json:"category"`
	Success      bool      `json:"success"`
	QualityScore float64   `json:"quality_score"`
	LatencyMs    int64     `json:"latency_ms"`
	CostUSD      float64   `json:"cost_usd"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// CategoryStats aggregates outcomes for one category on one tier.
type CategoryStats struct {
	Category     string  `json:"category"`
	AvgQuality   float64 `json:"avg_quality"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalCalls   int     `json:"total_calls"`
}

// PerformanceStats is the per-tier view handed to the router.
type PerformanceStats struct {
	Tier       string          `json:"tier"`
	Categories []CategoryStats `json:"categories"`
}

// Store manages outcome collection and aggregate queries.
type Store struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	enabled       bool
	stateBox      *util.StateBox
	mu            sync.RWMutex
}

// NewStore creates a new outcome store instance. The database is not opened
// until Initialize is called.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Store{
		dbPath:        dbPath,
		retentionDays: retentionDays,
	}, nil
}

// SetStateBox configures the State Box used for path resolution.
// Call before Initialize.
func (s *Store) SetStateBox(sb *util.StateBox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateBox = sb
}

// Initialize opens the database and creates the schema.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolvedPath := s.dbPath
	if s.stateBox != nil {
		if filepath.Base(s.dbPath) == s.dbPath {
			resolvedPath = filepath.Join(s.stateBox.TrackerDir(), s.dbPath)
		} else {
			resolvedPath = s.stateBox.ResolvePath(s.dbPath)
		}
	}
	s.dbPath = resolvedPath

	dir := filepath.Dir(s.dbPath)
	if s.stateBox != nil && s.stateBox.IsReadOnly() {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("database directory does not exist in read-only mode: %w", err)
		}
	} else if s.stateBox != nil {
		if err := s.stateBox.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var db *sql.DB
	var err error

	if s.stateBox != nil && s.stateBox.IsReadOnly() {
		dsn := fmt.Sprintf("file:%s?mode=ro", s.dbPath)
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return fmt.Errorf("failed to open database in read-only mode: %w", err)
		}
		log.Infof("Outcome store initialized in read-only mode (db: %s)", s.dbPath)
	} else {
		db, err = sql.Open("sqlite3", s.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// SQLite works best with a single connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		schema := `
		CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			tier TEXT NOT NULL,
			category TEXT NOT NULL,
			success INTEGER NOT NULL,
			quality_score REAL,
			latency_ms INTEGER NOT NULL,
			cost_usd REAL,
			error_message TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_timestamp ON outcomes(timestamp);
		CREATE INDEX IF NOT EXISTS idx_outcomes_tier ON outcomes(tier);
		CREATE INDEX IF NOT EXISTS idx_outcomes_tier_category ON outcomes(tier, category);
		`

		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return fmt.Errorf("failed to create schema: %w", err)
		}

		log.Infof("Outcome store initialized (db: %s, retention: %d days)", s.dbPath, s.retentionDays)

		go s.cleanupOldRecords(context.Background())
	}

	s.db = db
	s.enabled = true

	return nil
}

// newStoreWithDB wires an existing database handle, bypassing Initialize.
// Used by tests to substitute a mock connection.
func newStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, enabled: true, retentionDays: 90}
}

// IsEnabled returns whether the store is active.
func (s *Store) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Record stores an outcome entry.
func (s *Store) Record(ctx context.Context, record *OutcomeRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return fmt.Errorf("outcome store not enabled")
	}
	if s.stateBox != nil && s.stateBox.IsReadOnly() {
		return util.ErrReadOnlyMode
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	query := `
	INSERT INTO outcomes (
		timestamp, tier, category, success, quality_score,
		latency_ms, cost_usd, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Timestamp,
		record.Tier,
		record.Category,
		boolToInt(record.Success),
		record.QualityScore,
		record.LatencyMs,
		record.CostUSD,
		record.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}

	return nil
}

// GetPerformanceStats aggregates outcomes for a tier grouped by category.
// Tiers without history return an empty Categories slice, not an error.
func (s *Store) GetPerformanceStats(ctx context.Context, tier string) (*PerformanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return nil, fmt.Errorf("outcome store not enabled")
	}

	query := `
	SELECT
		category,
		COALESCE(AVG(quality_score), 0),
		COALESCE(AVG(CASE WHEN success = 0 THEN 1.0 ELSE 0.0 END), 0),
		COALESCE(AVG(latency_ms), 0),
		COUNT(*)
	FROM outcomes
	WHERE tier = ?
	GROUP BY category
	ORDER BY category
	`

	rows, err := s.db.QueryContext(ctx, query, tier)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance stats: %w", err)
	}
	defer rows.Close()

	stats := &PerformanceStats{Tier: tier}
	for rows.Next() {
		var cs CategoryStats
		if err := rows.Scan(&cs.Category, &cs.AvgQuality, &cs.ErrorRate, &cs.AvgLatencyMs, &cs.TotalCalls); err != nil {
			return nil, fmt.Errorf("failed to scan performance stats: %w", err)
		}
		stats.Categories = append(stats.Categories, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate performance stats: %w", err)
	}

	return stats, nil
}

// GetRecent retrieves the most recent outcome records for inspection endpoints.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]*OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return nil, fmt.Errorf("outcome store not enabled")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, timestamp, tier, category, success, quality_score, latency_ms, cost_usd, COALESCE(error_message, '')
	FROM outcomes
	ORDER BY timestamp DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		rec := &OutcomeRecord{}
		var success int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Tier, &rec.Category, &success,
			&rec.QualityScore, &rec.LatencyMs, &rec.CostUSD, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		rec.Success = success != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// cleanupOldRecords deletes records older than the retention window.
func (s *Store) cleanupOldRecords(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled || (s.stateBox != nil && s.stateBox.IsReadOnly()) {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM outcomes WHERE timestamp < ?", cutoff)
	if err != nil {
		log.Warnf("Failed to clean up old outcome records: %v", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Infof("Pruned %d outcome records older than %d days", n, s.retentionDays)
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = false
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
