package database

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hollowport/hollowport/internal/config"
)

type SQLiteDB struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSQLiteDB(cfg *config.DatabaseConfig) (*SQLiteDB, error) {
	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "WAL"
	}
	synchronous := cfg.Synchronous
	if synchronous == "" {
		synchronous = "NORMAL"
	}
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s", cfg.Path, journalMode, synchronous)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteDB{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}

	return s, nil
}

// NewMemoryDB opens an in-memory database, used by tests and as a fallback
// when the configured path is not writable.
func NewMemoryDB() (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// A single connection keeps the in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) createTables() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			service_type TEXT NOT NULL DEFAULT '',
			service_id TEXT,
			metadata TEXT,
			generated_at TIMESTAMP NOT NULL,
			used_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			honeypot_id TEXT NOT NULL,
			incident_id TEXT,
			event_type TEXT NOT NULL,
			level INTEGER NOT NULL,
			source_ip TEXT NOT NULL,
			honeytoken_id TEXT,
			details TEXT NOT NULL DEFAULT '{}',
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			honeypot_id TEXT NOT NULL,
			source_ip TEXT NOT NULL,
			threat_level INTEGER NOT NULL,
			status TEXT NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			details TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_incident ON events(incident_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(honeypot_id, source_ip)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_key ON incidents(honeypot_id, source_ip, status)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying *sql.DB connection
func (s *SQLiteDB) GetDB() *sql.DB {
	return s.db
}
