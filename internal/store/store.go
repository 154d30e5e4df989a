// Package store handles SQLite persistence of processed sessions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/heartica/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			dataset_path TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			sample_count INTEGER NOT NULL,
			hr1 REAL NOT NULL,
			hr2 REAL NOT NULL,
			hr3 REAL NOT NULL,
			hr4 REAL NOT NULL,
			heart_rate REAL NOT NULL,
			dataset_kept INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertSession stores a processed session.
func (s *Store) InsertSession(ctx context.Context, rec model.SessionRecord) (int64, error) {
	if rec.ID == "" {
		return 0, fmt.Errorf("session id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (uuid, dataset_path, started_at, ended_at, sample_count, hr1, hr2, hr3, hr4, heart_rate, dataset_kept)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.DatasetPath,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.SampleCount,
		rec.Result.HR1,
		rec.Result.HR2,
		rec.Result.HR3,
		rec.Result.HR4,
		rec.HeartRate,
		rec.DatasetKept,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListSessions returns processed sessions ordered by end time, oldest first.
// Last keeps only the most recent N sessions.
func (s *Store) ListSessions(ctx context.Context, cfg model.HistoryConfig) ([]model.SessionRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, cfg.Since.UTC().Format(time.RFC3339Nano))
	}
	query := fmt.Sprintf(`SELECT uuid, dataset_path, started_at, ended_at, sample_count, hr1, hr2, hr3, hr4, heart_rate, dataset_kept
		FROM sessions
		WHERE %s
		ORDER BY ended_at DESC, id DESC`, strings.Join(clauses, " AND "))
	if cfg.Last > 0 {
		query += " LIMIT ?"
		args = append(args, cfg.Last)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var startedAt, endedAt string
		if err := rows.Scan(&rec.ID, &rec.DatasetPath, &startedAt, &endedAt, &rec.SampleCount,
			&rec.Result.HR1, &rec.Result.HR2, &rec.Result.HR3, &rec.Result.HR4,
			&rec.HeartRate, &rec.DatasetKept); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query newest first so LIMIT keeps the latest; report oldest first.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}
