// Package sqlite implements the checkpoint.Store contract on an embedded
// SQLite database. It is the default durable backend: one file, WAL
// journaling, and full synchronous mode so a checkpoint write survives a
// crash immediately after it returns.
package sqlite

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

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    task_id       TEXT PRIMARY KEY,
    client_key    TEXT NOT NULL,
    request_json  TEXT NOT NULL,
    status        TEXT NOT NULL,
    current_stage INTEGER NOT NULL,
    stages_json   TEXT NOT NULL,
    fail_reason   TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_client_key ON checkpoints(client_key);
`

// Store manages checkpoint persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the checkpoint database at dbPath and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Write atomically replaces the checkpoint row for cp.TaskID. The upsert
// runs as a single implicit transaction, so readers observe either the
// previous checkpoint or the new one, never a mix.
func (s *Store) Write(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.TaskID == uuid.Nil {
		return checkpoint.ErrInvalidCheckpoint
	}

	requestJSON, err := json.Marshal(cp.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	stagesJSON, err := json.Marshal(cp.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (
            task_id, client_key, request_json, status, current_stage,
            stages_json, fail_reason, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(task_id) DO UPDATE SET
            status        = excluded.status,
            current_stage = excluded.current_stage,
            stages_json   = excluded.stages_json,
            fail_reason   = excluded.fail_reason,
            updated_at    = excluded.updated_at`,
		cp.TaskID.String(),
		cp.ClientKey,
		string(requestJSON),
		string(cp.Status),
		cp.CurrentStage,
		string(stagesJSON),
		cp.FailReason,
		cp.CreatedAt.UTC().UnixNano(),
		cp.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	return nil
}

// Read returns the checkpoint for the given task id.
func (s *Store) Read(ctx context.Context, taskID uuid.UUID) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT task_id, client_key, request_json, status, current_stage,
                stages_json, fail_reason, created_at, updated_at
         FROM checkpoints WHERE task_id = ?`,
		taskID.String(),
	)
	return scanCheckpoint(row)
}

// ReadByClientKey returns the most recently updated checkpoint for the key.
func (s *Store) ReadByClientKey(ctx context.Context, clientKey string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT task_id, client_key, request_json, status, current_stage,
                stages_json, fail_reason, created_at, updated_at
         FROM checkpoints WHERE client_key = ?
         ORDER BY updated_at DESC LIMIT 1`,
		clientKey,
	)
	return scanCheckpoint(row)
}

// Delete removes a checkpoint row; absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, taskID uuid.UUID) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM checkpoints WHERE task_id = ?`,
		taskID.String(),
	); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// scanCheckpoint maps one row into a checkpoint, translating sql.ErrNoRows
// into the package-level not-found sentinel.
func scanCheckpoint(row *sql.Row) (*checkpoint.Checkpoint, error) {
	var (
		taskIDStr     string
		clientKey     string
		requestJSON   string
		status        string
		currentStage  int
		stagesJSON    string
		failReason    string
		createdAtNano int64
		updatedAtNano int64
	)

	err := row.Scan(
		&taskIDStr, &clientKey, &requestJSON, &status, &currentStage,
		&stagesJSON, &failReason, &createdAtNano, &updatedAtNano,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}

	var request domain.ScriptRequest
	if err := json.Unmarshal([]byte(requestJSON), &request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	var stages map[int]string
	if err := json.Unmarshal([]byte(stagesJSON), &stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	if stages == nil {
		stages = make(map[int]string)
	}

	return &checkpoint.Checkpoint{
		TaskID:       taskID,
		ClientKey:    clientKey,
		Request:      request,
		Status:       checkpoint.Status(status),
		CurrentStage: currentStage,
		Stages:       stages,
		FailReason:   failReason,
		CreatedAt:    time.Unix(0, createdAtNano).UTC(),
		UpdatedAt:    time.Unix(0, updatedAtNano).UTC(),
	}, nil
}

// interface guard
var _ checkpoint.Store = (*Store)(nil)
