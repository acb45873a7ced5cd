// Package sqlite provides the durable, modernc.org/sqlite-backed State
// Store used by single-node cosmos deployments (spec §4.5, §9).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/store"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*Store)(nil)

// Store is a SQLite-backed State Store.
type Store struct {
	db      *sql.DB
	version string
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path, already coerced from a
	// `database_url` by the engine facade (spec §9).
	Path string
	// WAL enables Write-Ahead Logging for concurrent readers while the
	// Executor Loop writes task transitions.
	WAL bool
}

// Open connects to (creating if necessary) a SQLite database and
// initializes its schema, stamping version as the engine's recorded
// metadata version.
func Open(cfg Config, version string) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, &cosmoserrors.ConfigError{Key: "database_url", Reason: "failed to open database", Cause: err}
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &cosmoserrors.ConfigError{Key: "database_url", Reason: "failed to connect to database", Cause: err}
	}

	s := &Store{db: db, version: version}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("configure pragma %q: %w", p, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		task_ids TEXT NOT NULL,
		FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stages_execution ON stages(execution_id)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		stage_id TEXT NOT NULL,
		tags TEXT NOT NULL,
		tool_name TEXT,
		settings TEXT,
		mem_req INTEGER,
		cpu_req INTEGER,
		time_req INTEGER,
		must_succeed INTEGER NOT NULL,
		noop INTEGER NOT NULL,
		drm TEXT,
		max_attempts INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		env TEXT,
		parent_ids TEXT NOT NULL,
		inputs TEXT NOT NULL,
		output_file_ids TEXT NOT NULL,
		drm_job_id TEXT,
		FOREIGN KEY (stage_id) REFERENCES stages(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_stage ON tasks(stage_id)`,
	`CREATE TABLE IF NOT EXISTS task_files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		format TEXT NOT NULL,
		path TEXT NOT NULL,
		persist INTEGER NOT NULL,
		producer_task_id TEXT NOT NULL,
		demoted INTEGER NOT NULL,
		FOREIGN KEY (producer_task_id) REFERENCES tasks(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_files_producer ON task_files(producer_task_id)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// InitSchema creates every table if missing and stamps the engine
// version into the metadata table (spec §9 "initdb").
func (s *Store) InitSchema(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('engine_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.version)
	if err != nil {
		return fmt.Errorf("stamp engine version: %w", err)
	}
	return nil
}

// Reset drops every table and recreates them (spec §9 "resetdb").
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"task_files", "tasks", "stages", "executions", "metadata"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", t)); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return s.InitSchema(ctx)
}

// SaveGraph persists an entire freshly built Graph in one transaction
// (spec §4.4's closing sentence: "persists the whole stage transactionally").
func (s *Store) SaveGraph(ctx context.Context, g *recipe.Graph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertExecution(ctx, tx, g.Execution); err != nil {
		return err
	}
	for _, stage := range g.Stages {
		if err := insertStage(ctx, tx, stage); err != nil {
			return err
		}
	}
	for _, task := range g.Tasks {
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
	}
	for _, f := range g.Files {
		if err := insertTaskFile(ctx, tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertExecution(ctx context.Context, tx *sql.Tx, e *model.Execution) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO executions (id, name, output_dir, status, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.OutputDir, string(e.Status), e.CreatedAt.Format(time.RFC3339),
		formatTime(e.StartedAt), formatTime(e.FinishedAt))
	return err
}

func insertStage(ctx context.Context, tx *sql.Tx, st *model.Stage) error {
	taskIDs, err := json.Marshal(st.TaskIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stages (id, execution_id, name, status, task_ids) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.ExecutionID, st.Name, string(st.Status), string(taskIDs))
	return err
}

func insertTask(ctx context.Context, tx *sql.Tx, t *model.Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	env, err := json.Marshal(t.Env)
	if err != nil {
		return err
	}
	parentIDs, err := json.Marshal(t.ParentIDs)
	if err != nil {
		return err
	}
	inputs, err := json.Marshal(t.Inputs)
	if err != nil {
		return err
	}
	outputFileIDs, err := json.Marshal(t.OutputFileIDs)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, stage_id, tags, tool_name, settings, mem_req, cpu_req, time_req, must_succeed, noop, drm,
			max_attempts, attempt, status, output_dir, env, parent_ids, inputs, output_file_ids, drm_job_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StageID, string(tags), nullString(t.ToolName), string(settings), nullInt64(t.MemReq), nullInt64(t.CPUReq), nullInt64(t.TimeReq),
		boolToInt(t.MustSucceed), boolToInt(t.NOOP), nullString(t.DRM),
		t.MaxAttempts, t.Attempt, string(t.Status), t.OutputDir, string(env),
		string(parentIDs), string(inputs), string(outputFileIDs), nullString(t.DRMJobID))
	return err
}

func insertTaskFile(ctx context.Context, tx *sql.Tx, f *model.TaskFile) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_files (id, name, format, path, persist, producer_task_id, demoted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Format, f.Path, boolToInt(f.Persist), f.ProducerTaskID, boolToInt(f.Demoted))
	return err
}

func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, output_dir, status, created_at, started_at, finished_at
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row, id)
}

func (s *Store) UpdateExecution(ctx context.Context, e *model.Execution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET name=?, output_dir=?, status=?, started_at=?, finished_at=? WHERE id=?`,
		e.Name, e.OutputDir, string(e.Status), formatTime(e.StartedAt), formatTime(e.FinishedAt), e.ID)
	return checkUpdated(res, err, "execution", e.ID)
}

func (s *Store) ListExecutions(ctx context.Context) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, output_dir, status, created_at, started_at, finished_at FROM executions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, name, status, task_ids FROM stages WHERE id = ?`, id)
	return scanStage(row, id)
}

func (s *Store) UpdateStage(ctx context.Context, st *model.Stage) error {
	taskIDs, err := json.Marshal(st.TaskIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE stages SET status=?, task_ids=? WHERE id=?`,
		string(st.Status), string(taskIDs), st.ID)
	return checkUpdated(res, err, "stage", st.ID)
}

func (s *Store) ListStages(ctx context.Context, executionID string) ([]*model.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, name, status, task_ids FROM stages WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Stage
	for rows.Next() {
		st, err := scanStageRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage_id, tags, tool_name, settings, mem_req, cpu_req, time_req, must_succeed, noop, drm,
			max_attempts, attempt, status, output_dir, env, parent_ids, inputs, output_file_ids, drm_job_id
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row, id)
}

func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	inputs, err := json.Marshal(t.Inputs)
	if err != nil {
		return err
	}
	outputFileIDs, err := json.Marshal(t.OutputFileIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET tags=?, status=?, attempt=?, inputs=?, output_file_ids=?, drm_job_id=? WHERE id=?`,
		string(tags), string(t.Status), t.Attempt, string(inputs), string(outputFileIDs), nullString(t.DRMJobID), t.ID)
	return checkUpdated(res, err, "task", t.ID)
}

func (s *Store) ListTasks(ctx context.Context, stageID string) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage_id, tags, tool_name, settings, mem_req, cpu_req, time_req, must_succeed, noop, drm,
			max_attempts, attempt, status, output_dir, env, parent_ids, inputs, output_file_ids, drm_job_id
		 FROM tasks WHERE stage_id = ?`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTaskFile(ctx context.Context, id string) (*model.TaskFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, format, path, persist, producer_task_id, demoted FROM task_files WHERE id = ?`, id)
	return scanTaskFile(row, id)
}

func (s *Store) ListTaskFiles(ctx context.Context, taskID string) ([]*model.TaskFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, format, path, persist, producer_task_id, demoted FROM task_files WHERE producer_task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TaskFile
	for rows.Next() {
		f, err := scanTaskFileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) EngineVersion(ctx context.Context) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'engine_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Close() error { return s.db.Close() }
