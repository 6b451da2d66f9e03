// Package summary records what a training run did: per-step scalars in SQLite
// and Prometheus metrics dumped to a textfile.
package summary

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store keeps scalar summaries. Not safe for concurrent use; the trainer
// owns it.
type Store struct {
	db    *sql.DB
	runID string
}

type Run struct {
	ID        string
	Config    string // JSON
	StartedAt time.Time
	EndedAt   sql.NullTime
	Steps     int
}

type Scalar struct {
	Step  int
	Value float64 // NaN when a non-finite value was recorded
}

// Open creates a Store with the given database path. ":memory:" gives a
// private in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// every pooled connection to :memory: would see its own database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		steps INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scalars (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tag TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL,
		PRIMARY KEY (run_id, tag, step)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartRun registers a new run with its config and makes it the target of
// AddScalar. It returns the run id.
func (s *Store) StartRun(config any) (string, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO runs (id, config, started_at) VALUES (?, ?, ?)",
		id, string(cfg), time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.runID = id
	return id, nil
}

func (s *Store) RunID() string { return s.runID }

// AddScalar records value under tag at step for the current run.
func (s *Store) AddScalar(tag string, step int, value float64) error {
	if s.runID == "" {
		return fmt.Errorf("add scalar %s: no run started", tag)
	}
	var v any = value
	if math.IsNaN(value) || math.IsInf(value, 0) {
		v = nil
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO scalars (run_id, tag, step, value) VALUES (?, ?, ?, ?)",
		s.runID, tag, step, v,
	)
	if err != nil {
		return fmt.Errorf("insert scalar %s@%d: %w", tag, step, err)
	}
	return nil
}

// FinishRun stamps the current run with its end time and step count.
func (s *Store) FinishRun(steps int) error {
	_, err := s.db.Exec("UPDATE runs SET ended_at = ?, steps = ? WHERE id = ?", time.Now().UTC(), steps, s.runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Scalars returns the values of tag for runID ordered by step.
func (s *Store) Scalars(runID, tag string) ([]Scalar, error) {
	rows, err := s.db.Query(
		"SELECT step, value FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step",
		runID, tag,
	)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		var sc Scalar
		var v sql.NullFloat64
		if err := rows.Scan(&sc.Step, &v); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		sc.Value = math.NaN()
		if v.Valid {
			sc.Value = v.Float64
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Runs lists every recorded run, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query("SELECT id, config, started_at, ended_at, steps FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Config, &r.StartedAt, &r.EndedAt, &r.Steps); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
