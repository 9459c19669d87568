// Package history persists pipeline and job outcomes to an embedded SQLite
// database so past runs survive process restarts and can be listed from the
// CLI or the HTTP API.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get when no pipeline exists under the given id.
var ErrNotFound = errors.New("pipeline not found")

// PipelineRecord is one persisted pipeline run.
type PipelineRecord struct {
	ID         string       `json:"id"`
	Branch     string       `json:"branch"`
	Source     string       `json:"source"`
	State      string       `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Jobs       []*JobRecord `json:"jobs,omitempty"`
}

// JobRecord is one job within a persisted pipeline run.
type JobRecord struct {
	Name       string        `json:"name"`
	Stage      string        `json:"stage"`
	State      string        `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Store is a sqlite-backed run archive. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens the archive at path, creating it if absent. WAL mode keeps
// readers (the history listing) from blocking the scheduler's writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		branch TEXT NOT NULL,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS pipeline_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id TEXT NOT NULL,
		name TEXT NOT NULL,
		stage TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT DEFAULT '',
		exit_code INTEGER DEFAULT 0,
		duration_ns INTEGER DEFAULT 0,
		finished_at DATETIME NOT NULL,
		FOREIGN KEY (pipeline_id) REFERENCES pipelines(id)
	);

	CREATE INDEX IF NOT EXISTS idx_pipelines_started ON pipelines(started_at);
	CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_pipeline ON pipeline_jobs(pipeline_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate history db: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPipeline inserts a new pipeline in the "running" state.
func (s *Store) RecordPipeline(id, branch, source string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO pipelines (id, branch, source, state, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, id, branch, source, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("record pipeline %s: %w", id, err)
	}
	return nil
}

// FinishPipeline marks a pipeline terminal with its final state.
func (s *Store) FinishPipeline(id, state string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE pipelines SET state = ?, finished_at = ? WHERE id = ?
	`, state, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish pipeline %s: %w", id, err)
	}
	return nil
}

// RecordJob appends one terminal job outcome to a pipeline.
func (s *Store) RecordJob(pipelineID string, job *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO pipeline_jobs (pipeline_id, name, stage, state, reason, exit_code, duration_ns, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, pipelineID, job.Name, job.Stage, job.State, job.Reason,
		job.ExitCode, int64(job.Duration), job.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record job %s/%s: %w", pipelineID, job.Name, err)
	}
	return nil
}

// Get returns one pipeline with its jobs.
func (s *Store) Get(id string) (*PipelineRecord, error) {
	var p PipelineRecord
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, branch, source, state, started_at, finished_at
		FROM pipelines WHERE id = ?
	`, id).Scan(&p.ID, &p.Branch, &p.Source, &p.State, &p.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline %s: %w", id, err)
	}
	if finished.Valid {
		t := finished.Time
		p.FinishedAt = &t
	}

	rows, err := s.db.Query(`
		SELECT name, stage, state, reason, exit_code, duration_ns, finished_at
		FROM pipeline_jobs WHERE pipeline_id = ? ORDER BY finished_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query jobs of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var j JobRecord
		var durNS int64
		if err := rows.Scan(&j.Name, &j.Stage, &j.State, &j.Reason, &j.ExitCode, &durNS, &j.FinishedAt); err != nil {
			return nil, err
		}
		j.Duration = time.Duration(durNS)
		p.Jobs = append(p.Jobs, &j)
	}
	return &p, rows.Err()
}

// List returns the most recent pipelines, newest first, without their jobs.
func (s *Store) List(limit int) ([]*PipelineRecord, error) {
	query := "SELECT id, branch, source, state, started_at, finished_at FROM pipelines ORDER BY started_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var results []*PipelineRecord
	for rows.Next() {
		var p PipelineRecord
		var finished sql.NullTime
		if err := rows.Scan(&p.ID, &p.Branch, &p.Source, &p.State, &p.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			p.FinishedAt = &t
		}
		results = append(results, &p)
	}
	return results, rows.Err()
}
