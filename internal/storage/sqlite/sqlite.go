package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/storage/blob"
	"github.com/slok/taskforge/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	// Blobs stores input and artifact contents, by default the database blobs table.
	Blobs  blob.Store
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository. File contents live in a
// blob store, rows only reference them by hash.
type Repository struct {
	db     *sql.DB
	blobs  blob.Store
	logger log.Logger
}

// NewRepository opens (and migrates) the database.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Single writer, read-then-write transactions must not race each other.
	db.SetMaxOpenConns(1)

	migrator, err := migrations.NewMigrator(migrations.MigratorConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if _, err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	blobs := cfg.Blobs
	if blobs == nil {
		blobs, err = NewBlobStore(BlobStoreConfig{DB: db, Logger: cfg.Logger})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("could not create blob store: %w", err)
		}
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, blobs: blobs, logger: cfg.Logger}, nil
}

var _ storage.Repository = &Repository{}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// CreateTask stores a new task with its first spec version and inputs.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := storage.ValidateNewTask(t); err != nil {
		return err
	}

	inputs, err := blob.PutFiles(ctx, r.blobs, t.Inputs)
	if err != nil {
		return fmt.Errorf("could not store inputs: %w", err)
	}

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, state, state_reason, max_retries, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, t.State, t.StateReason, t.MaxRetries, unixNano(t.CreatedAt), unixNano(t.UpdatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
				return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
			}
			return fmt.Errorf("could not insert task: %w", err)
		}

		if err := insertSpec(ctx, tx, t.ID, t.Specs[0]); err != nil {
			return err
		}

		for name, hash := range inputs {
			_, err := tx.ExecContext(ctx, `INSERT INTO task_inputs (task_id, name, sha256) VALUES (?, ?, ?)`, t.ID, name, hash)
			if err != nil {
				return fmt.Errorf("could not insert input %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	rec, err := readTask(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	return r.hydrate(ctx, rec)
}

// ListTasks returns all tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	rows.Close()

	tasks := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}

	return tasks, nil
}

// Transition changes the state of a task.
func (r *Repository) Transition(ctx context.Context, taskID string, tr storage.Transition) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := readTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		return applyTransition(ctx, tx, rec.task, &tr)
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Task %s transitioned %s -> %s", taskID, tr.From, tr.To)
	return nil
}

// AppendSpec adds the next spec version of a task.
func (r *Repository) AppendSpec(ctx context.Context, taskID string, spec model.TaskSpec, tr *storage.Transition) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := readTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := storage.CheckNextSpec(rec.task, spec); err != nil {
			return err
		}
		if err := applyTransition(ctx, tx, rec.task, tr); err != nil {
			return err
		}
		return insertSpec(ctx, tx, taskID, spec)
	})
}

// AppendAttempt adds the next attempt of a task.
func (r *Repository) AppendAttempt(ctx context.Context, a model.ExecutionAttempt, tr *storage.Transition) error {
	artifacts, err := r.putArtifacts(ctx, a.Artifacts)
	if err != nil {
		return err
	}
	verification, err := marshalNullable(a.Verification)
	if err != nil {
		return fmt.Errorf("could not marshal verification: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := readTask(ctx, tx, a.TaskID)
		if err != nil {
			return err
		}
		if err := storage.CheckNextAttempt(rec.task, a); err != nil {
			return err
		}
		if err := applyTransition(ctx, tx, rec.task, tr); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO attempts (
				id, task_id, number, spec_version, prompt_version,
				status, failure_reason, error,
				input_tokens, output_tokens, tier,
				artifacts, verification,
				created_at, finalized_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, a.TaskID, a.Number, a.SpecVersion, a.PromptVersion,
			a.Status, a.FailureReason, a.Error,
			a.Usage.InputTokens, a.Usage.OutputTokens, a.Usage.Tier,
			artifacts, verification,
			unixNano(a.CreatedAt), unixNanoPtr(a.FinalizedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: attempts.") {
				return fmt.Errorf("attempt %d of task %s: %w", a.Number, a.TaskID, model.ErrAlreadyExists)
			}
			return fmt.Errorf("could not insert attempt: %w", err)
		}
		return nil
	})
}

// FinalizeAttempt freezes a pending attempt with its verification.
func (r *Repository) FinalizeAttempt(ctx context.Context, a model.ExecutionAttempt, tr *storage.Transition) error {
	artifacts, err := r.putArtifacts(ctx, a.Artifacts)
	if err != nil {
		return err
	}
	verification, err := marshalNullable(a.Verification)
	if err != nil {
		return fmt.Errorf("could not marshal verification: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := readTask(ctx, tx, a.TaskID)
		if err != nil {
			return err
		}
		var stored *model.ExecutionAttempt
		for i := range rec.task.Attempts {
			if rec.task.Attempts[i].ID == a.ID {
				stored = &rec.task.Attempts[i]
				break
			}
		}
		if stored == nil {
			return fmt.Errorf("attempt %s: %w", a.ID, model.ErrNotFound)
		}
		if err := storage.CheckFinalize(*stored, a); err != nil {
			return err
		}
		if err := applyTransition(ctx, tx, rec.task, tr); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE attempts
			SET
				status = ?,
				failure_reason = ?,
				error = ?,
				input_tokens = ?,
				output_tokens = ?,
				tier = ?,
				artifacts = ?,
				verification = ?,
				finalized_at = ?
			WHERE id = ?
		`,
			a.Status, a.FailureReason, a.Error,
			a.Usage.InputTokens, a.Usage.OutputTokens, a.Usage.Tier,
			artifacts, verification,
			unixNanoPtr(a.FinalizedAt),
			a.ID,
		)
		if err != nil {
			return fmt.Errorf("could not update attempt: %w", mapTriggerErr(err))
		}
		return nil
	})
}

func (r *Repository) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	if err := f(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) putArtifacts(ctx context.Context, set *model.ArtifactSet) (sql.NullString, error) {
	if set == nil {
		return sql.NullString{}, nil
	}

	files, err := blob.PutFiles(ctx, r.blobs, set.Files)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("could not store artifacts: %w", err)
	}
	b, err := json.Marshal(artifactsRecord{Files: files, ProducedAt: set.ProducedAt, ProducerRunID: set.ProducerRunID})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("could not marshal artifacts: %w", err)
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}

// hydrate loads the file contents of a task record from the blob store.
func (r *Repository) hydrate(ctx context.Context, rec *taskRecord) (*model.Task, error) {
	t := rec.task

	if rec.inputs != nil {
		inputs, err := blob.GetFiles(ctx, r.blobs, rec.inputs)
		if err != nil {
			return nil, fmt.Errorf("task %s inputs: %w", t.ID, err)
		}
		t.Inputs = inputs
	}

	for i, ar := range rec.artifacts {
		if ar == nil {
			continue
		}
		files, err := blob.GetFiles(ctx, r.blobs, ar.Files)
		if err != nil {
			return nil, fmt.Errorf("attempt %d artifacts: %w", t.Attempts[i].Number, err)
		}
		t.Attempts[i].Artifacts = &model.ArtifactSet{
			Files:         files,
			ProducedAt:    ar.ProducedAt,
			ProducerRunID: ar.ProducerRunID,
		}
	}

	return &t, nil
}

// artifactsRecord is the persisted manifest of an artifact set, contents are blob hashes.
type artifactsRecord struct {
	Files         map[string]string `json:"files"`
	ProducedAt    time.Time         `json:"produced_at"`
	ProducerRunID string            `json:"producer_run_id"`
}

// taskRecord is a task as stored, without file contents.
type taskRecord struct {
	task      model.Task
	inputs    map[string]string
	artifacts []*artifactsRecord
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func readTask(ctx context.Context, q querier, id string) (*taskRecord, error) {
	var (
		rec                  taskRecord
		createdAt, updatedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, state, state_reason, max_retries, created_at, updated_at
		FROM tasks
		WHERE id = ?
	`, id).Scan(&rec.task.ID, &rec.task.State, &rec.task.StateReason, &rec.task.MaxRetries, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}
	rec.task.CreatedAt = timeFromUnixNano(createdAt)
	rec.task.UpdatedAt = timeFromUnixNano(updatedAt)

	if err := readSpecs(ctx, q, &rec); err != nil {
		return nil, err
	}
	if err := readInputs(ctx, q, &rec); err != nil {
		return nil, err
	}
	if err := readAttempts(ctx, q, &rec); err != nil {
		return nil, err
	}
	if err := readTransitions(ctx, q, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func readSpecs(ctx context.Context, q querier, rec *taskRecord) error {
	rows, err := q.QueryContext(ctx, `SELECT body FROM task_specs WHERE task_id = ? ORDER BY version`, rec.task.ID)
	if err != nil {
		return fmt.Errorf("could not query specs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		var spec model.TaskSpec
		if err := json.Unmarshal([]byte(body), &spec); err != nil {
			return fmt.Errorf("could not unmarshal spec: %w", err)
		}
		rec.task.Specs = append(rec.task.Specs, spec)
	}

	return rows.Err()
}

func readInputs(ctx context.Context, q querier, rec *taskRecord) error {
	rows, err := q.QueryContext(ctx, `SELECT name, sha256 FROM task_inputs WHERE task_id = ?`, rec.task.ID)
	if err != nil {
		return fmt.Errorf("could not query inputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		if rec.inputs == nil {
			rec.inputs = map[string]string{}
		}
		rec.inputs[name] = hash
	}

	return rows.Err()
}

func readAttempts(ctx context.Context, q querier, rec *taskRecord) error {
	rows, err := q.QueryContext(ctx, `
		SELECT
			id, task_id, number, spec_version, prompt_version,
			status, failure_reason, error,
			input_tokens, output_tokens, tier,
			artifacts, verification,
			created_at, finalized_at
		FROM attempts
		WHERE task_id = ?
		ORDER BY number
	`, rec.task.ID)
	if err != nil {
		return fmt.Errorf("could not query attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, ar, err := scanAttempt(rows)
		if err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		rec.task.Attempts = append(rec.task.Attempts, a)
		rec.artifacts = append(rec.artifacts, ar)
	}

	return rows.Err()
}

func readTransitions(ctx context.Context, q querier, rec *taskRecord) error {
	rows, err := q.QueryContext(ctx, `
		SELECT from_state, to_state, reason, at
		FROM task_transitions
		WHERE task_id = ?
		ORDER BY seq
	`, rec.task.ID)
	if err != nil {
		return fmt.Errorf("could not query transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tr model.StateTransition
			at sql.NullInt64
		)
		if err := rows.Scan(&tr.From, &tr.To, &tr.Reason, &at); err != nil {
			return fmt.Errorf("could not scan row: %w", err)
		}
		tr.At = timeFromUnixNano(at)
		rec.task.Transitions = append(rec.task.Transitions, tr)
	}

	return rows.Err()
}

func scanAttempt(s scanner) (model.ExecutionAttempt, *artifactsRecord, error) {
	var (
		a                      model.ExecutionAttempt
		artifacts, verif       sql.NullString
		createdAt, finalizedAt sql.NullInt64
	)
	err := s.Scan(
		&a.ID, &a.TaskID, &a.Number, &a.SpecVersion, &a.PromptVersion,
		&a.Status, &a.FailureReason, &a.Error,
		&a.Usage.InputTokens, &a.Usage.OutputTokens, &a.Usage.Tier,
		&artifacts, &verif,
		&createdAt, &finalizedAt,
	)
	if err != nil {
		return model.ExecutionAttempt{}, nil, err
	}

	a.CreatedAt = timeFromUnixNano(createdAt)
	if finalizedAt.Valid {
		t := timeFromUnixNano(finalizedAt)
		a.FinalizedAt = &t
	}
	if verif.Valid {
		a.Verification = &model.VerificationResult{}
		if err := json.Unmarshal([]byte(verif.String), a.Verification); err != nil {
			return model.ExecutionAttempt{}, nil, fmt.Errorf("could not unmarshal verification: %w", err)
		}
	}

	var ar *artifactsRecord
	if artifacts.Valid {
		ar = &artifactsRecord{}
		if err := json.Unmarshal([]byte(artifacts.String), ar); err != nil {
			return model.ExecutionAttempt{}, nil, fmt.Errorf("could not unmarshal artifacts: %w", err)
		}
	}

	return a, ar, nil
}

func insertSpec(ctx context.Context, tx *sql.Tx, taskID string, spec model.TaskSpec) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("could not marshal spec: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO task_specs (task_id, version, body) VALUES (?, ?, ?)`, taskID, spec.Version, string(body))
	if err != nil {
		return fmt.Errorf("could not insert spec version %d: %w", spec.Version, err)
	}
	return nil
}

func applyTransition(ctx context.Context, tx *sql.Tx, t model.Task, tr *storage.Transition) error {
	if tr == nil {
		return nil
	}
	if err := storage.CheckTransition(t, *tr); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?, state_reason = ?, updated_at = ? WHERE id = ? AND state = ?
	`, tr.To, tr.Reason, unixNano(tr.At), t.ID, tr.From)
	if err != nil {
		return fmt.Errorf("could not update task state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, seq, from_state, to_state, reason, at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		FROM task_transitions
		WHERE task_id = ?
	`, t.ID, tr.From, tr.To, tr.Reason, unixNano(tr.At), t.ID)
	if err != nil {
		return fmt.Errorf("could not record transition: %w", mapTriggerErr(err))
	}
	return nil
}

func marshalNullable(v *model.VerificationResult) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func mapTriggerErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "append-only") || strings.Contains(msg, "immutable") {
		return fmt.Errorf("%s: %w", msg, model.ErrImmutable)
	}
	return err
}

func unixNano(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func unixNanoPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return unixNano(*t)
}

func timeFromUnixNano(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}
