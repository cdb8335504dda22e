// Package journal stores completed requests and reload notifications in a
// local sqlite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zsprackett/devserve/internal/events"
)

type Store struct {
	sql *sql.DB
}

// Reload is one recorded reload notification.
type Reload struct {
	ID      int64
	Ts      time.Time
	Path    string
	Kind    events.Kind
	Message events.Message
	Clients int
}

// Counts summarizes the journal.
type Counts struct {
	Requests int64
	Reloads  int64
	Errors   int64
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &Store{sql: conn}, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) Migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id          TEXT PRIMARY KEY,
			ts          INTEGER NOT NULL,
			method      TEXT NOT NULL,
			url         TEXT NOT NULL,
			ip          TEXT NOT NULL DEFAULT '',
			user_agent  TEXT NOT NULL DEFAULT '',
			status      INTEGER NOT NULL,
			duration    TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("create requests: %w", err)
	}
	if _, err := s.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts)`); err != nil {
		return fmt.Errorf("create requests index: %w", err)
	}

	_, err = s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS reloads (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			ts       INTEGER NOT NULL,
			path     TEXT NOT NULL,
			kind     TEXT NOT NULL,
			message  TEXT NOT NULL,
			clients  INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create reloads: %w", err)
	}
	return nil
}

// RecordRequest implements pipeline.RequestRecorder.
func (s *Store) RecordRequest(ctx context.Context, r events.Request) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO requests (id, ts, method, url, ip, user_agent, status, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UnixMilli(), r.Method, r.URL, r.IP, r.UserAgent, r.Status, r.Duration,
	)
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

func (s *Store) RecordReload(ctx context.Context, ev events.ChangeEvent, msg events.Message, clients int) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO reloads (ts, path, kind, message, clients) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), ev.Path, string(ev.Kind), string(msg), clients,
	)
	if err != nil {
		return fmt.Errorf("record reload: %w", err)
	}
	return nil
}

// RecentRequests returns up to limit requests, newest first.
func (s *Store) RecentRequests(ctx context.Context, limit int) ([]events.Request, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, ts, method, url, ip, user_agent, status, duration
		 FROM requests
		 ORDER BY ts DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Request
	for rows.Next() {
		var r events.Request
		var ts int64
		if err := rows.Scan(&r.ID, &ts, &r.Method, &r.URL, &r.IP, &r.UserAgent, &r.Status, &r.Duration); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentReloads returns up to limit reloads, newest first.
func (s *Store) RecentReloads(ctx context.Context, limit int) ([]Reload, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, ts, path, kind, message, clients FROM reloads ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reload
	for rows.Next() {
		var r Reload
		var ts int64
		var kind, msg string
		if err := rows.Scan(&r.ID, &ts, &r.Path, &kind, &msg, &r.Clients); err != nil {
			return nil, err
		}
		r.Ts = time.UnixMilli(ts).UTC()
		r.Kind = events.Kind(kind)
		r.Message = events.Message(msg)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.sql.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM requests),
			(SELECT COUNT(*) FROM requests WHERE status >= 400),
			(SELECT COUNT(*) FROM reloads)`,
	).Scan(&c.Requests, &c.Errors, &c.Reloads)
	return c, err
}
