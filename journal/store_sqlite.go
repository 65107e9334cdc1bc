package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// initializes its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracked_runs (
		id              TEXT PRIMARY KEY,
		run_id          TEXT NOT NULL DEFAULT '',
		experiment_id   TEXT NOT NULL DEFAULT '',
		experiment_name TEXT NOT NULL DEFAULT '',
		run_name        TEXT NOT NULL DEFAULT '',
		tracking_uri    TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT '',
		params          TEXT NOT NULL DEFAULT '{}',
		metrics         TEXT NOT NULL DEFAULT '{}',
		error           TEXT NOT NULL DEFAULT '',
		started_at      DATETIME NOT NULL,
		ended_at        DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tracked_runs_started ON tracked_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_tracked_runs_run_id ON tracked_runs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record inserts or replaces an entry keyed by its local ID.
func (s *SQLiteStore) Record(e Entry) error {
	params, err := json.Marshal(nonNilParams(e.Params))
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	metrics, err := json.Marshal(encodeMetrics(e.Metrics))
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var endedAt any
	if !e.EndedAt.IsZero() {
		endedAt = e.EndedAt.UTC()
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO tracked_runs
		 (id, run_id, experiment_id, experiment_name, run_name, tracking_uri, status, params, metrics, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.ExperimentID, e.ExperimentName, e.RunName, e.TrackingURI,
		e.Status, string(params), string(metrics), e.Error, e.StartedAt.UTC(), endedAt,
	)
	return err
}

// List returns recent entries, newest first. A non-positive limit returns all.
func (s *SQLiteStore) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, run_id, experiment_id, experiment_name, run_name, tracking_uri, status, params, metrics, error, started_at, ended_at
		 FROM tracked_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e               Entry
			params, metrics string
			endedAt         sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.ExperimentID, &e.ExperimentName, &e.RunName,
			&e.TrackingURI, &e.Status, &params, &metrics, &e.Error, &e.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", e.ID, err)
		}
		if e.Metrics, err = decodeMetrics(metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", e.ID, err)
		}
		if endedAt.Valid {
			e.EndedAt = endedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nonNilParams(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// storedMetric keeps non-finite values representable in the JSON column.
type storedMetric float64

func (m storedMetric) MarshalJSON() ([]byte, error) {
	f := float64(m)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

func (m *storedMetric) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NaN"`:
		*m = storedMetric(math.NaN())
	case `"Infinity"`:
		*m = storedMetric(math.Inf(1))
	case `"-Infinity"`:
		*m = storedMetric(math.Inf(-1))
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*m = storedMetric(f)
	}
	return nil
}

func encodeMetrics(m map[string]float64) map[string]storedMetric {
	out := make(map[string]storedMetric, len(m))
	for k, v := range m {
		out[k] = storedMetric(v)
	}
	return out
}

func decodeMetrics(data string) (map[string]float64, error) {
	var stored map[string]storedMetric
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(stored))
	for k, v := range stored {
		out[k] = float64(v)
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
