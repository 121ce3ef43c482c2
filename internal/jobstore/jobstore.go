// SPDX-License-Identifier: MPL-2.0

package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"

	memoryDSN = ":memory:"
	timeFmt   = time.RFC3339Nano
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	uuid         TEXT PRIMARY KEY,
	identifier   TEXT NOT NULL,
	status       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	percent_done INTEGER NOT NULL DEFAULT 0,
	time_start   TEXT NOT NULL,
	time_end     TEXT NOT NULL DEFAULT '',
	outputs      TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_jobs_time_start ON jobs(time_start);
`

type (
	// Status is the lifecycle state of a job.
	Status string

	// Output is a stored job output. Href is set for references, Data for
	// inline values.
	Output struct {
		Identifier string `json:"identifier"`
		Title      string `json:"title"`
		Abstract   string `json:"abstract,omitempty"`
		MimeType   string `json:"mime_type,omitempty"`
		Complex    bool   `json:"complex,omitempty"`
		Href       string `json:"href,omitempty"`
		Data       string `json:"data,omitempty"`
	}

	// Job is one execution record.
	Job struct {
		ID         string
		Identifier string
		Status     Status
		Message    string
		Percent    int
		Started    time.Time
		// Finished is zero while the job runs.
		Finished time.Time
		Outputs  []Output
	}

	// Store is a SQLite-backed job table. It is safe for concurrent use.
	Store struct {
		db *sql.DB
	}
)

// Done reports whether the job reached a final state.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Open opens or creates the job database at path. An empty path keeps the
// records in memory.
func Open(path string) (*Store, error) {
	dsn := memoryDSN
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, j Job) error {
	outputs, err := json.Marshal(nonNil(j.Outputs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (uuid, identifier, status, message, percent_done, time_start, time_end, outputs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Identifier, string(j.Status), j.Message, j.Percent,
		j.Started.UTC().Format(timeFmt), formatTime(j.Finished), string(outputs))
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
	}
	return nil
}

// Update records progress of a running job.
func (s *Store) Update(ctx context.Context, id string, status Status, percent int, message string) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, percent_done = ?, message = ? WHERE uuid = ?`,
		string(status), percent, message, id)
}

// Finish stores the final state and outputs of a job.
func (s *Store) Finish(ctx context.Context, id string, status Status, message string, outputs []Output, at time.Time) error {
	data, err := json.Marshal(nonNil(outputs))
	if err != nil {
		return err
	}
	query := `UPDATE jobs SET status = ?, message = ?, outputs = ?, time_end = ? WHERE uuid = ?`
	if status == StatusSucceeded {
		query = `UPDATE jobs SET status = ?, message = ?, outputs = ?, time_end = ?, percent_done = 100 WHERE uuid = ?`
	}
	return s.exec(ctx, id, query, string(status), message, string(data), formatTime(at), id)
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uuid, identifier, status, message, percent_done, time_start, time_end, outputs
		 FROM jobs WHERE uuid = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, err
}

// List returns up to limit jobs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, identifier, status, message, percent_done, time_start, time_end, outputs
		 FROM jobs ORDER BY time_start DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// FailUnfinished marks every job that is not done as failed. It runs at
// startup, when no job of a previous process can still be running.
func (s *Store) FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, time_end = ? WHERE status IN (?, ?)`,
		string(StatusFailed), message, formatTime(at), string(StatusAccepted), string(StatusStarted))
	if err != nil {
		return 0, fmt.Errorf("failed to close unfinished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		j                Job
		status           string
		start, end, outs string
	)
	if err := row.Scan(&j.ID, &j.Identifier, &status, &j.Message, &j.Percent, &start, &end, &outs); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)

	var err error
	if j.Started, err = time.Parse(timeFmt, start); err != nil {
		return Job{}, fmt.Errorf("job %s: bad start time: %w", j.ID, err)
	}
	if end != "" {
		if j.Finished, err = time.Parse(timeFmt, end); err != nil {
			return Job{}, fmt.Errorf("job %s: bad end time: %w", j.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(outs), &j.Outputs); err != nil {
		return Job{}, fmt.Errorf("job %s: bad outputs: %w", j.ID, err)
	}
	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFmt)
}

func nonNil(o []Output) []Output {
	if o == nil {
		return []Output{}
	}
	return o
}
