// Package telemetry records control loop runs to sqlite and renders them as
// charts.
package telemetry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/rcdrive/internal/control"
	"github.com/banshee-data/rcdrive/internal/monitoring"
)

// ErrNoRun is returned by Record before StartRun.
var ErrNoRun = errors.New("no telemetry run started")

// Run is one session of the control loop.
type Run struct {
	ID        string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Notes     string    `json:"notes"`
	Samples   int       `json:"samples"`
}

// Sample is one recorded loop step.
type Sample struct {
	TMillis     int64    `json:"t_ms"`
	Enabled     bool     `json:"enabled"`
	RateLimited bool     `json:"rate_limited"`
	Command     int      `json:"command"`
	Motor       int      `json:"motor"`
	LED         bool     `json:"led"`
	Stopped     bool     `json:"stopped"`
	Setpoint    *float64 `json:"setpoint,omitempty"`
	Position    *float64 `json:"position,omitempty"`
	Error       *float64 `json:"error,omitempty"`
	ErrorSum    *float64 `json:"error_sum,omitempty"`
	ErrorRate   *float64 `json:"error_rate,omitempty"`
	Channels    []int    `json:"channels"`
}

// Store persists runs and samples. It implements control.Recorder.
type Store struct {
	db   *sql.DB
	path string

	// Every is the minimum spacing between recorded samples. Zero records
	// every step.
	Every time.Duration

	mu       sync.Mutex
	runID    string
	started  time.Time
	lastSeen time.Time
}

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// dsn builds a modernc sqlite DSN for path carrying connPragmas.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// StartRun begins a new run; subsequent Records belong to it.
func (s *Store) StartRun(start time.Time, notes string) (Run, error) {
	run := Run{ID: uuid.NewString(), StartedAt: start.UTC(), Notes: notes}
	if _, err := s.db.Exec(`INSERT INTO runs (run_id, started_at, notes) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.Notes); err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}

	s.mu.Lock()
	s.runID = run.ID
	s.started = start
	s.lastSeen = time.Time{}
	s.mu.Unlock()

	monitoring.Logf("telemetry run %s started", run.ID)
	return run, nil
}

// Record stores a loop status in the current run.
func (s *Store) Record(st control.Status) error {
	s.mu.Lock()
	runID, started := s.runID, s.started
	if runID == "" {
		s.mu.Unlock()
		return ErrNoRun
	}
	if s.Every > 0 && !s.lastSeen.IsZero() && st.Time.Sub(s.lastSeen) < s.Every && !st.Stopped {
		s.mu.Unlock()
		return nil
	}
	s.lastSeen = st.Time
	s.mu.Unlock()

	channels, err := json.Marshal(st.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}

	var setpoint, position, errVal, errSum, errRate sql.NullFloat64
	if st.PID != nil {
		setpoint = sql.NullFloat64{Float64: st.PID.Setpoint, Valid: true}
		position = sql.NullFloat64{Float64: st.PID.Position, Valid: true}
		errVal = sql.NullFloat64{Float64: st.PID.Error, Valid: true}
		errSum = sql.NullFloat64{Float64: st.PID.ErrorSum, Valid: true}
		errRate = sql.NullFloat64{Float64: st.PID.ErrorRate, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO samples (
			run_id, t_ms, enabled, rate_limited, command, motor, led, stopped,
			setpoint, position, error, error_sum, error_rate, channels_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, st.Time.Sub(started).Milliseconds(),
		st.Enabled, st.RateLimited, st.Command, st.Motor, st.LED, st.Stopped,
		setpoint, position, errVal, errSum, errRate, string(channels),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// CurrentRun returns the active run id, or "".
func (s *Store) CurrentRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Runs lists runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT r.run_id, r.started_at, r.notes, COUNT(s.run_id)
		FROM runs r LEFT JOIN samples s ON s.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedMs int64
		if err := rows.Scan(&r.ID, &startedMs, &r.Notes, &r.Samples); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Samples returns up to limit samples of a run in time order. A limit of
// zero or less returns all of them.
func (s *Store) Samples(runID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT t_ms, enabled, rate_limited, command, motor, led, stopped,
		       setpoint, position, error, error_sum, error_rate, channels_json
		FROM samples WHERE run_id = ?
		ORDER BY t_ms ASC, rowid ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		var setpoint, position, errVal, errSum, errRate sql.NullFloat64
		var channels string
		if err := rows.Scan(&smp.TMillis, &smp.Enabled, &smp.RateLimited, &smp.Command, &smp.Motor,
			&smp.LED, &smp.Stopped, &setpoint, &position, &errVal, &errSum, &errRate, &channels); err != nil {
			return nil, err
		}
		smp.Setpoint = nullable(setpoint)
		smp.Position = nullable(position)
		smp.Error = nullable(errVal)
		smp.ErrorSum = nullable(errSum)
		smp.ErrorRate = nullable(errRate)
		if err := json.Unmarshal([]byte(channels), &smp.Channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels: %w", err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// RunExists reports whether runID is known.
func (s *Store) RunExists(runID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
