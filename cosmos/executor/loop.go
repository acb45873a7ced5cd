// Package executor implements the Executor Loop of spec §4.6: the
// central state engine that schedules ready Tasks, bounds parallelism,
// ingests DRM status, drives the Task/Stage/Execution state lattice, and
// persists every transition. Grounded on the teacher's runner.Runner
// (internal/controller/runner/executor.go): a semaphore-bounded
// scheduling loop with mutex-guarded state and metrics recorded at each
// transition.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/signalbus"
	"github.com/LPM-HMS/cosmos2/cosmos/store"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// Config bounds a Loop's behavior (spec §5's "concurrency ceiling" and
// §6's default_drm/default_queue configuration).
type Config struct {
	Concurrency  int
	DefaultDRM   string
	DefaultQueue string
	// TickInterval paces the scheduling loop; PollRate bounds the total
	// rate of Poll calls the Loop makes, shared across all in-flight
	// jobs, protecting a remote scheduler from being hammered by a
	// large fleet.
	TickInterval time.Duration
	PollRate     rate.Limit
	// GetSubmitArgs overrides drm.RenderSubmitArgs when set, the
	// pluggable "get_submit_args" strategy of spec §4.5/§6. Nil uses
	// drm.RenderSubmitArgs directly.
	GetSubmitArgs func(drmName string, task *model.Task, stageName, defaultQueue string) (string, error)
}

// DefaultConfig returns sane defaults for a local development run.
func DefaultConfig() Config {
	return Config{
		Concurrency:  8,
		DefaultDRM:   "local",
		DefaultQueue: "",
		TickInterval: 500 * time.Millisecond,
		PollRate:     rate.Limit(5),
	}
}

// Loop is the Executor Loop. It holds no state across Run calls beyond
// its dependencies; all Task/Stage/Execution state lives in Store.
type Loop struct {
	Store   store.Store
	Tools   *tool.Registry
	DRMs    *drm.Registry
	Bus     *signalbus.Bus
	Config  Config
	Log     *slog.Logger
	limiter *rate.Limiter
}

// New constructs a Loop.
func New(st store.Store, tools *tool.Registry, drms *drm.Registry, bus *signalbus.Bus, cfg Config, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollRate <= 0 {
		cfg.PollRate = rate.Limit(5)
	}
	return &Loop{
		Store: st, Tools: tools, DRMs: drms, Bus: bus, Config: cfg,
		Log:     log.With(slog.String("component", "executor")),
		limiter: rate.NewLimiter(cfg.PollRate, 1),
	}
}

// Run drives executionID to a terminal state (spec §4.6). It returns
// *cosmoserrors.ExecutionFailed when the Execution ends failed, and nil
// on successful or killed completion. ctx cancellation stops the loop
// without transitioning the Execution (a later Run resumes it).
func (l *Loop) Run(ctx context.Context, executionID string) error {
	exec, err := l.Store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("executor: load execution: %w", err)
	}

	if err := l.startExecution(ctx, exec); err != nil {
		return err
	}
	if err := l.classifyOnStart(ctx, executionID); err != nil {
		return err
	}

	ticker := time.NewTicker(l.Config.TickInterval)
	defer ticker.Stop()

	for {
		status, err := l.tick(ctx, executionID)
		if err != nil {
			return err
		}
		if status.Terminal() {
			if status == model.ExecutionFailed {
				return &cosmoserrors.ExecutionFailed{ExecutionID: executionID}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) startExecution(ctx context.Context, exec *model.Execution) error {
	switch exec.Status {
	case model.ExecutionNoAttempt, model.ExecutionFailed, model.ExecutionKilled, model.ExecutionFailedButRunning:
		now := time.Now()
		exec.Status = model.ExecutionRunning
		if exec.StartedAt == nil {
			exec.StartedAt = &now
		}
		exec.FinishedAt = nil
		if err := l.Store.UpdateExecution(ctx, exec); err != nil {
			return fmt.Errorf("executor: start execution: %w", err)
		}
		l.publishExecution(exec.ID, "", string(model.ExecutionRunning))
	}
	return nil
}

// classifyOnStart applies spec §4.6's startup classification: successful
// tasks carry forward untouched; failed/killed tasks with attempts
// remaining become re-eligible; everything else is left as persisted.
func (l *Loop) classifyOnStart(ctx context.Context, executionID string) error {
	stages, err := l.Store.ListStages(ctx, executionID)
	if err != nil {
		return fmt.Errorf("executor: list stages: %w", err)
	}
	for _, stage := range stages {
		tasks, err := l.Store.ListTasks(ctx, stage.ID)
		if err != nil {
			return fmt.Errorf("executor: list tasks: %w", err)
		}
		for _, t := range tasks {
			switch t.Status {
			case model.TaskFailed, model.TaskKilled:
				if t.Attempt < t.MaxAttempts {
					t.Status = model.TaskWaiting
					if err := l.Store.UpdateTask(ctx, t); err != nil {
						return fmt.Errorf("executor: reset task %s for retry: %w", t.ID, err)
					}
				}
			}
		}
	}
	return nil
}

// tick performs one scheduling pass over the whole Execution (spec
// §4.6's seven numbered steps) and returns the freshly recomputed
// Execution status.
func (l *Loop) tick(ctx context.Context, executionID string) (model.ExecutionStatus, error) {
	stages, err := l.Store.ListStages(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("executor: list stages: %w", err)
	}

	allTasks := map[string]*model.Task{}
	tasksByStage := map[string][]*model.Task{}
	stageNames := map[string]string{}
	for _, stage := range stages {
		tasks, err := l.Store.ListTasks(ctx, stage.ID)
		if err != nil {
			return "", fmt.Errorf("executor: list tasks: %w", err)
		}
		tasksByStage[stage.ID] = tasks
		stageNames[stage.ID] = stage.Name
		for _, t := range tasks {
			allTasks[t.ID] = t
		}
	}
	children := childrenOf(allTasks)

	inFlight := 0
	for _, t := range allTasks {
		if t.Status == model.TaskSubmitted {
			inFlight++
		}
	}
	inFlightTasks.Set(float64(inFlight))

	if err := l.scheduleEligible(ctx, allTasks, stageNames, children, &inFlight); err != nil {
		return "", err
	}
	if err := l.pollInFlight(ctx, allTasks, children); err != nil {
		return "", err
	}

	for _, stage := range stages {
		tasks := tasksByStage[stage.ID]
		lub := model.StageLUB(tasks)
		if lub != stage.Status {
			stage.Status = lub
			if err := l.Store.UpdateStage(ctx, stage); err != nil {
				return "", fmt.Errorf("executor: update stage %s: %w", stage.ID, err)
			}
			l.publishStage(stage.ID, "", string(lub))
		}
	}

	exec, err := l.Store.GetExecution(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("executor: reload execution: %w", err)
	}
	lub := model.ExecutionLUB(stages)
	if lub != exec.Status {
		prev := exec.Status
		exec.Status = lub
		if lub.Terminal() {
			now := time.Now()
			exec.FinishedAt = &now
		}
		if err := l.Store.UpdateExecution(ctx, exec); err != nil {
			return "", fmt.Errorf("executor: update execution: %w", err)
		}
		l.publishExecution(exec.ID, string(prev), string(lub))
	}
	return lub, nil
}

// childrenOf inverts Task.ParentIDs into a parent -> children adjacency
// map, used both for eligibility (are all parents terminal-successful?)
// and failure propagation (poison every transitive descendant).
func childrenOf(tasks map[string]*model.Task) map[string][]string {
	children := map[string][]string{}
	for _, t := range tasks {
		for _, pid := range t.ParentIDs {
			children[pid] = append(children[pid], t.ID)
		}
	}
	return children
}

// effectiveSuccessful reports whether a parent Task is terminal in a way
// that lets its children proceed: actually successful, or failed with
// must_succeed=false (spec §4.6 "Failure propagation").
func effectiveSuccessful(t *model.Task) bool {
	if t.Status == model.TaskSuccessful {
		return true
	}
	return t.Status == model.TaskFailed && !t.MustSucceed
}

func outputDirOrDefault(t *model.Task) (string, error) {
	if t.OutputDir == "" {
		return "", fmt.Errorf("task %s has no output directory", t.ID)
	}
	return t.OutputDir, nil
}

func writeScript(t *model.Task, script string) error {
	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(filepath.Join(t.OutputDir, "cosmos_task.sh"), []byte(script), 0o755)
}
