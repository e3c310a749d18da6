// Package postgres implements the checkpoint.Store contract on
// PostgreSQL for deployments that already operate a shared database.
// The schema is managed with goose migrations embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/pressly/goose/v3"

	"github.com/fablecast/fablecast-api/internal/checkpoint"
	"github.com/fablecast/fablecast-api/internal/domain"
	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages checkpoint persistence backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database at the given URL, verifies connectivity,
// and applies pending migrations.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// migrate applies the embedded goose migrations.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Write atomically replaces the checkpoint row for cp.TaskID via a
// single-statement upsert.
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
            task_id, client_key, request, status, current_stage,
            stages, fail_reason, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (task_id) DO UPDATE SET
            status        = EXCLUDED.status,
            current_stage = EXCLUDED.current_stage,
            stages        = EXCLUDED.stages,
            fail_reason   = EXCLUDED.fail_reason,
            updated_at    = EXCLUDED.updated_at`,
		cp.TaskID,
		cp.ClientKey,
		requestJSON,
		string(cp.Status),
		cp.CurrentStage,
		stagesJSON,
		cp.FailReason,
		cp.CreatedAt.UTC(),
		cp.UpdatedAt.UTC(),
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
		`SELECT task_id, client_key, request, status, current_stage,
                stages, fail_reason, created_at, updated_at
         FROM checkpoints WHERE task_id = $1`,
		taskID,
	)
	return scanCheckpoint(row)
}

// ReadByClientKey returns the most recently updated checkpoint for the key.
func (s *Store) ReadByClientKey(ctx context.Context, clientKey string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT task_id, client_key, request, status, current_stage,
                stages, fail_reason, created_at, updated_at
         FROM checkpoints WHERE client_key = $1
         ORDER BY updated_at DESC LIMIT 1`,
		clientKey,
	)
	return scanCheckpoint(row)
}

// Delete removes a checkpoint row; absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, taskID uuid.UUID) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM checkpoints WHERE task_id = $1`,
		taskID,
	); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// scanCheckpoint maps one row into a checkpoint, translating sql.ErrNoRows
// into the package-level not-found sentinel.
func scanCheckpoint(row *sql.Row) (*checkpoint.Checkpoint, error) {
	var (
		taskID       uuid.UUID
		clientKey    string
		requestJSON  []byte
		status       string
		currentStage int
		stagesJSON   []byte
		failReason   string
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(
		&taskID, &clientKey, &requestJSON, &status, &currentStage,
		&stagesJSON, &failReason, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	var request domain.ScriptRequest
	if err := json.Unmarshal(requestJSON, &request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	var stages map[int]string
	if err := json.Unmarshal(stagesJSON, &stages); err != nil {
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
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// interface guard
var _ checkpoint.Store = (*Store)(nil)
