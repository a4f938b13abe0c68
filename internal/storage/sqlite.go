package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage persists check outcomes and run history in sqlite
type Storage struct {
	db *sql.DB
}

// NewStorage opens or creates the database and initializes the schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		url_key TEXT PRIMARY KEY,
		entry BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed_url TEXT NOT NULL,
		pages_scanned INTEGER DEFAULT 0,
		links_checked INTEGER DEFAULT 0,
		links_broken INTEGER DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_seed ON runs(seed_url);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored cache entry for key
func (s *Storage) Get(key string) ([]byte, bool, error) {
	var entry []byte
	err := s.db.QueryRow("SELECT entry FROM outcomes WHERE url_key = ?", key).Scan(&entry)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get outcome: %w", err)
	}
	return entry, true, nil
}

// Set inserts or replaces the cache entry for key
func (s *Storage) Set(key string, entry []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO outcomes (url_key, entry, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(url_key) DO UPDATE SET
			entry = EXCLUDED.entry,
			updated_at = CURRENT_TIMESTAMP
	`, key, entry)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}
	return nil
}

// Reset drops every stored outcome
func (s *Storage) Reset() error {
	if _, err := s.db.Exec("DELETE FROM outcomes"); err != nil {
		return fmt.Errorf("failed to reset outcomes: %w", err)
	}
	return nil
}

// CountOutcomes returns the number of stored outcomes
func (s *Storage) CountOutcomes() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return count, nil
}

// RecordRun stores the summary of a finished run and returns its id
func (s *Storage) RecordRun(m Metrics, seedURL string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO runs (seed_url, pages_scanned, links_checked, links_broken, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, seedURL, m.PagesScanned, m.LinksChecked, m.LinksBroken, m.StartTime, m.EndTime)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// LoadRuns returns the most recent runs for a seed URL, newest first
func (s *Storage) LoadRuns(seedURL string, limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, seed_url, pages_scanned, links_checked, links_broken, started_at, ended_at
		FROM runs
		WHERE seed_url = ?
		ORDER BY run_id DESC
		LIMIT ?
	`, seedURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var started, ended time.Time
		if err := rows.Scan(&run.RunID, &run.SeedURL, &run.PagesScanned, &run.LinksChecked, &run.LinksBroken, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = started
		run.EndedAt = ended
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
