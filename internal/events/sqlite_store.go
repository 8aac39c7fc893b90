package events

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Exporter dumps snapshots into a SQLite file. The agent never reads the
// file back; it exists for offline inspection with tools/query_events.
type Exporter struct {
	db *sql.DB
}

func OpenExport(path string) (*Exporter, error) {
	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Exporter{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
        id INTEGER NOT NULL,
        exported_at TEXT NOT NULL,
        capture_time TEXT NOT NULL,
        type TEXT NOT NULL,
        key TEXT NOT NULL,
        package TEXT NOT NULL,
        title TEXT,
        body TEXT,
        post_time TEXT NOT NULL,
        removal_reason TEXT
    );`)
	return err
}

// Write replaces the table contents with snap.
func (x *Exporter) Write(ctx context.Context, snap Snapshot) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("truncate export: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(id, exported_at, capture_time, type, key, package, title, body, post_time, removal_reason)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range snap.Events {
		_, err := stmt.ExecContext(ctx, e.ID, now,
			e.CaptureTime.UTC().Format(time.RFC3339Nano), e.Type.String(), e.Key, e.Package,
			e.Title, e.Body, e.PostTime.UTC().Format(time.RFC3339Nano), e.RemovalReason)
		if err != nil {
			return fmt.Errorf("export event %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit exported events, newest first.
func (x *Exporter) List(ctx context.Context, limit int) ([]Event, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id, capture_time, type, key, package, title, body, post_time, removal_reason
        FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var capTS, postTS, typ string
		var title, body, reason sql.NullString
		if err := rows.Scan(&e.ID, &capTS, &typ, &e.Key, &e.Package, &title, &body, &postTS, &reason); err != nil {
			return nil, err
		}
		e.CaptureTime, _ = time.Parse(time.RFC3339Nano, capTS)
		e.PostTime, _ = time.Parse(time.RFC3339Nano, postTS)
		_ = e.Type.UnmarshalText([]byte(typ))
		e.Title, e.Body, e.RemovalReason = title.String, body.String, reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (x *Exporter) Close() error { return x.db.Close() }
