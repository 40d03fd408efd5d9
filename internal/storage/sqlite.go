package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wootoff-monitor/internal/types"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Create table
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		decision TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		price TEXT NOT NULL,
		data TEXT NOT NULL,
		detected_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS events_detected_at ON events (detected_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (s *SQLiteJournal) Append(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, decision, title, status, price, data, detected_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID,
		event.Decision.String(),
		event.Snapshot.Title,
		event.Snapshot.Status.String(),
		event.Snapshot.Price,
		string(data),
		event.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM events ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e types.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
