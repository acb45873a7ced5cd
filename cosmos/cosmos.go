// Package cosmos is the top-level facade of the engine: the Execution
// factory of spec §6, initdb/resetdb, and the Run/Resume entry points
// that wire the Graph Builder, State Store, DRM registry and Executor
// Loop together for one Execution.
//
// Grounded on the teacher's cmd/conductord main() wiring: a Config
// struct assembled from a loaded config file plus CLI overrides, handed
// to a single constructor that returns a ready-to-use engine value.
package cosmos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/ge"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/local"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/lsf"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/remote"
	"github.com/LPM-HMS/cosmos2/cosmos/executor"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/signalbus"
	"github.com/LPM-HMS/cosmos2/cosmos/store"
	"github.com/LPM-HMS/cosmos2/cosmos/store/memory"
	"github.com/LPM-HMS/cosmos2/cosmos/store/sqlite"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// Version is the engine's library version, stamped into the Metadata
// row by InitSchema/Reset (spec §9).
const Version = "2.0.0"

// SubmitArgsFunc is the pluggable render_submit_args strategy of spec
// §4.5, overridable per spec §6's "get_submit_args" factory option.
type SubmitArgsFunc func(drmName string, task *model.Task, stageName, defaultQueue string) (string, error)

// Config configures an Engine (spec §6's Execution factory).
type Config struct {
	// DatabaseURL is a connection string; a bare path with no "://" is
	// coerced to an on-disk SQLite store at that path. An empty string
	// uses a transient in-memory store.
	DatabaseURL string
	// GetSubmitArgs overrides drm.RenderSubmitArgs when set.
	GetSubmitArgs SubmitArgsFunc
	DefaultDRM    string
	DefaultQueue  string

	Concurrency  int
	TickInterval time.Duration

	// SubmitHost, SubmitUser, HostKeyCallback and AuthMethods configure
	// the lsf/ge back-ends'
	// SSH-or-local submission (cosmos/drm/remote.Config).
	SubmitHost      string
	SubmitUser      string
	HostKeyCallback ssh.HostKeyCallback
	AuthMethods     []ssh.AuthMethod

	Log *slog.Logger
}

// Engine is the assembled, ready-to-run workflow engine for one process:
// a Store, a Tool registry, a DRM registry, a signal bus and an Executor
// Loop, all built from one Config (spec §6).
type Engine struct {
	Store   store.Store
	Tools   *tool.Registry
	DRMs    *drm.Registry
	Bus     *signalbus.Bus
	Loop    *executor.Loop
	Builder *recipe.Builder
	cfg     Config
}

// CoerceDatabaseURL applies the original's database_url coercion rule
// (SPEC_FULL.md §4): a string containing "://" is used verbatim as a
// connection string; a bare path is resolved relative to the current
// working directory unless it is already absolute.
func CoerceDatabaseURL(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if strings.Contains(raw, "://") {
		return raw, nil
	}
	if filepath.IsAbs(raw) {
		return raw, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cosmos: resolve database_url: %w", err)
	}
	return filepath.Join(wd, raw), nil
}

// New assembles an Engine from cfg and a Tool registry the caller has
// already populated (Tool descriptors are registered in code, not
// config, per spec §9's "registry" design note). UnsupportedDRM is a
// startup-fatal ConfigError per spec §7.
func New(cfg Config, tools *tool.Registry) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.DefaultDRM == "" {
		cfg.DefaultDRM = "local"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = executor.DefaultConfig().Concurrency
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = executor.DefaultConfig().TickInterval
	}
	switch cfg.DefaultDRM {
	case "local", "lsf", "ge":
	default:
		return nil, &cosmoserrors.UnsupportedDRM{Name: cfg.DefaultDRM}
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	localAdapter, err := local.New(cfg.Log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("cosmos: init local drm: %w", err)
	}
	remoteCfg := remote.Config{SubmitHost: cfg.SubmitHost, User: cfg.SubmitUser, HostKeyCallback: cfg.HostKeyCallback, AuthMethods: cfg.AuthMethods}
	drms := drm.NewRegistry(localAdapter, lsf.New(remoteCfg), ge.New(remoteCfg))

	bus := signalbus.New()
	builder := recipe.NewBuilder(tools, func() string { return uuid.NewString() })
	loop := executor.New(st, tools, drms, bus, executor.Config{
		Concurrency:  cfg.Concurrency,
		DefaultDRM:   cfg.DefaultDRM,
		DefaultQueue: cfg.DefaultQueue,
		TickInterval: cfg.TickInterval,
		PollRate:     executor.DefaultConfig().PollRate,
		GetSubmitArgs: func(drmName string, task *model.Task, stageName, defaultQueue string) (string, error) {
			if cfg.GetSubmitArgs != nil {
				return cfg.GetSubmitArgs(drmName, task, stageName, defaultQueue)
			}
			return drm.RenderSubmitArgs(drmName, task, stageName, defaultQueue)
		},
	}, cfg.Log)

	return &Engine{Store: st, Tools: tools, DRMs: drms, Bus: bus, Loop: loop, Builder: builder, cfg: cfg}, nil
}

func openStore(cfg Config) (store.Store, error) {
	dbURL, err := CoerceDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if dbURL == "" {
		return memory.New(Version), nil
	}
	return sqlite.Open(sqlite.Config{Path: dbURL, WAL: true}, Version)
}

// InitDB creates the Store's schema and stamps the engine version into
// its Metadata row (spec §6 "initdb").
func (e *Engine) InitDB(ctx context.Context) error {
	return e.Store.InitSchema(ctx)
}

// ResetDB drops and recreates the Store's schema (spec §6 "resetdb").
func (e *Engine) ResetDB(ctx context.Context) error {
	return e.Store.Reset(ctx)
}

// Build expands a Recipe into a fresh Execution's Graph and persists it
// transactionally, without starting the Executor Loop. The Builder
// itself fills in each Task's default output directory
// (execOutputDir/task.id) before generating its output TaskFiles, so
// every TaskFile.Path is already resolvable by the time it's persisted.
func (e *Engine) Build(ctx context.Context, name, outputDir string, rec recipe.Recipe) (*recipe.Graph, error) {
	execID := uuid.NewString()
	g, err := e.Builder.Build(execID, name, outputDir, rec)
	if err != nil {
		return nil, err
	}
	if err := e.Store.SaveGraph(ctx, g); err != nil {
		return nil, fmt.Errorf("cosmos: persist graph: %w", err)
	}
	return g, nil
}

// Run builds a new Execution from recipe and drives it to completion,
// returning *cosmoserrors.ExecutionFailed if it ends failed (spec §7,
// SPEC_FULL.md §4's "ExecutionFailed" supplement).
func (e *Engine) Run(ctx context.Context, name, outputDir string, rec recipe.Recipe) (*model.Execution, error) {
	g, err := e.Build(ctx, name, outputDir, rec)
	if err != nil {
		return nil, err
	}
	return g.Execution, e.Loop.Run(ctx, g.Execution.ID)
}

// Resume restarts a previously built Execution by ID (spec §4.6
// "Resume"): previously successful Tasks are skipped, failed/killed
// Tasks with attempts remaining are retried, and the Execution ID and
// output directory remain sticky.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	return e.Loop.Run(ctx, executionID)
}

// Kill transitions executionID to killed, calling Kill on every
// in-flight DRM job and marking their Tasks killed (spec §5
// "Cancellation & timeouts").
func (e *Engine) Kill(ctx context.Context, executionID string) error {
	exec, err := e.Store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("cosmos: load execution: %w", err)
	}
	stages, err := e.Store.ListStages(ctx, executionID)
	if err != nil {
		return fmt.Errorf("cosmos: list stages: %w", err)
	}
	for _, stage := range stages {
		tasks, err := e.Store.ListTasks(ctx, stage.ID)
		if err != nil {
			return fmt.Errorf("cosmos: list tasks: %w", err)
		}
		for _, t := range tasks {
			if t.Status != model.TaskSubmitted {
				continue
			}
			drmName := t.DRM
			if drmName == "" {
				drmName = e.cfg.DefaultDRM
			}
			adapter, err := e.DRMs.Resolve(drmName)
			if err == nil {
				_ = adapter.Kill(ctx, t.DRMJobID)
			}
			t.Status = model.TaskKilled
			if err := e.Store.UpdateTask(ctx, t); err != nil {
				return fmt.Errorf("cosmos: mark task %s killed: %w", t.ID, err)
			}
		}
	}
	exec.Status = model.ExecutionKilled
	now := time.Now()
	exec.FinishedAt = &now
	return e.Store.UpdateExecution(ctx, exec)
}

// Close releases the Engine's Store and DRM connections.
func (e *Engine) Close() error {
	for _, name := range []string{"local", "lsf", "ge"} {
		if adapter, err := e.DRMs.Resolve(name); err == nil {
			if closer, ok := adapter.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
	}
	return e.Store.Close()
}
