// Package store persists the run registry: every generated dataset and every
// training run, so results survive the process and can be listed later.
// Backed by SQLite via the pure-Go modernc driver.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"triagetrain/internal/dataset"
	"triagetrain/internal/logging"
	"triagetrain/internal/training"
)

// Store is the SQLite-backed run registry.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the registry database at the given path, creating the
// schema if needed.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("run registry ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	datasetsTable := `
	CREATE TABLE IF NOT EXISTS datasets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		strategy TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(path, checksum)
	);
	CREATE INDEX IF NOT EXISTS idx_datasets_strategy ON datasets(strategy);
	`

	runsTable := `
	CREATE TABLE IF NOT EXISTS training_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id TEXT NOT NULL,
		model_variant TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		epochs INTEGER NOT NULL,
		dataset_path TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact_path TEXT,
		error TEXT,
		final_loss REAL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_campaign ON training_runs(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON training_runs(status);
	`

	for _, table := range []string{datasetsTable, runsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("closing run registry")
	return s.db.Close()
}

// RecordDataset registers a generated dataset artifact. Re-registering the
// same path+checksum is a no-op so idempotent regeneration stays clean.
func (s *Store) RecordDataset(a *dataset.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO datasets (path, strategy, start_date, end_date, row_count, checksum)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Path, string(a.Manifest.Strategy), a.Manifest.StartDate, a.Manifest.EndDate,
		a.Manifest.RowCount, a.Manifest.Checksum)
	if err != nil {
		return fmt.Errorf("record dataset: %w", err)
	}
	logging.StoreDebug("recorded dataset %s (%s)", a.Path, a.Manifest.Checksum[:12])
	return nil
}

// RecordRun persists one training result under its campaign.
func (s *Store) RecordRun(campaignID string, r training.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finalLoss sql.NullFloat64
	if len(r.Metrics) > 0 {
		finalLoss = sql.NullFloat64{Float64: r.Metrics[len(r.Metrics)-1].Loss, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO training_runs
			(campaign_id, model_variant, chunk_count, seed, epochs, dataset_path,
			 status, artifact_path, error, final_loss, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaignID, string(r.Spec.ModelVariant), r.Spec.ChunkCount, r.Spec.Seed,
		r.Spec.Epochs, r.Spec.DatasetPath, string(r.Status), r.ArtifactPath,
		r.Err, finalLoss, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RunRecord is one persisted training run.
type RunRecord struct {
	ID           int64
	CampaignID   string
	ModelVariant string
	ChunkCount   int
	Seed         int64
	Epochs       int
	DatasetPath  string
	Status       string
	ArtifactPath string
	Error        string
	FinalLoss    sql.NullFloat64
	DurationMS   int64
	CreatedAt    time.Time
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, campaign_id, model_variant, chunk_count, seed, epochs,
		       dataset_path, status, COALESCE(artifact_path, ''), COALESCE(error, ''),
		       final_loss, duration_ms, created_at
		FROM training_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ModelVariant, &r.ChunkCount,
			&r.Seed, &r.Epochs, &r.DatasetPath, &r.Status, &r.ArtifactPath,
			&r.Error, &r.FinalLoss, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CampaignRuns returns all runs of one campaign in insertion order.
func (s *Store) CampaignRuns(campaignID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, campaign_id, model_variant, chunk_count, seed, epochs,
		       dataset_path, status, COALESCE(artifact_path, ''), COALESCE(error, ''),
		       final_loss, duration_ms, created_at
		FROM training_runs
		WHERE campaign_id = ?
		ORDER BY id ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ModelVariant, &r.ChunkCount,
			&r.Seed, &r.Epochs, &r.DatasetPath, &r.Status, &r.ArtifactPath,
			&r.Error, &r.FinalLoss, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetStats returns row counts per table.
func (s *Store) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"datasets", "training_runs"} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
