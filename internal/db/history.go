// Package db implements the SQLite game-history log: an append-only
// audit trail of lobby lifecycle transitions. The registry itself is
// never restored from it; the lobby always starts empty.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/outpost-project/rendezvous/internal/events"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS game_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred   TIMESTAMP NOT NULL,
	event      TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	session_id TEXT,
	creator    TEXT,
	reason     TEXT
);
CREATE INDEX IF NOT EXISTS idx_game_history_occurred ON game_history(occurred);
`

// History wraps a SQLite database recording lobby lifecycle events.
type History struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenHistory opens or creates the history database at the given path.
func OpenHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("history database opened")

	return &History{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record appends one lifecycle transition.
func (h *History) Record(occurred time.Time, event events.EventType, payload events.GamePayload) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.Exec(
		`INSERT INTO game_history (occurred, event, endpoint, session_id, creator, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		occurred.UTC(), string(event), payload.Endpoint, payload.SessionID, payload.Creator, string(payload.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to record history event: %w", err)
	}
	return nil
}

// Prune deletes rows older than the retention window and returns how
// many were removed.
func (h *History) Prune(retentionDays int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := h.db.Exec(`DELETE FROM game_history WHERE occurred < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// HistoryEntry is one recorded transition.
type HistoryEntry struct {
	Occurred  time.Time `json:"occurred"`
	Event     string    `json:"event"`
	Endpoint  string    `json:"endpoint"`
	SessionID string    `json:"session_id,omitempty"`
	Creator   string    `json:"creator,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Recent returns the most recent transitions, newest first.
func (h *History) Recent(limit int) ([]HistoryEntry, error) {
	rows, err := h.db.Query(
		`SELECT occurred, event, endpoint, session_id, creator, reason
		 FROM game_history ORDER BY occurred DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Occurred, &e.Event, &e.Endpoint, &e.SessionID, &e.Creator, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SubscribeTo wires the history log to the lobby's lifecycle events.
func (h *History) SubscribeTo(bus *events.Bus) {
	record := func(ctx context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.GamePayload)
		if !ok {
			return nil
		}
		return h.Record(time.Now(), event.Type, payload)
	}

	bus.Subscribe(events.EventGameHosted, "history.hosted", record)
	bus.Subscribe(events.EventGameStarted, "history.started", record)
	bus.Subscribe(events.EventGameCancelled, "history.cancelled", record)
	bus.Subscribe(events.EventGameDropped, "history.dropped", record)
}
