package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// scheduleEligible implements spec §4.6 steps 1-3: select eligible
// Tasks up to the concurrency ceiling, resolve NOOP tasks immediately,
// and render+submit the rest.
func (l *Loop) scheduleEligible(ctx context.Context, tasks map[string]*model.Task, stageNames map[string]string, children map[string][]string, inFlight *int) error {
	var eligible []*model.Task
	for _, t := range tasks {
		if t.Status != model.TaskNoAttempt && t.Status != model.TaskWaiting {
			continue
		}
		if l.parentsSatisfied(t, tasks) {
			eligible = append(eligible, t)
		}
	}

	for _, t := range eligible {
		if t.NOOP {
			t.Status = model.TaskSuccessful
			if err := l.Store.UpdateTask(ctx, t); err != nil {
				return fmt.Errorf("executor: mark noop task %s successful: %w", t.ID, err)
			}
			tasksTerminal.WithLabelValues(string(model.TaskSuccessful)).Inc()
			l.publishTask(t.ID, "", string(model.TaskSuccessful))
			continue
		}

		if *inFlight >= l.Config.Concurrency {
			continue
		}
		if err := l.submit(ctx, t, stageNames[t.StageID]); err != nil {
			return err
		}
		if t.Status == model.TaskFailed {
			if err := l.poisonDescendants(ctx, t, tasks, children); err != nil {
				return err
			}
			continue
		}
		*inFlight++
	}
	return nil
}

// parentsSatisfied reports whether every one of t's parents has reached
// a terminal state that lets t proceed (spec §4.6 "Only NOOP tasks and
// tasks with all parents successful are eligible").
func (l *Loop) parentsSatisfied(t *model.Task, tasks map[string]*model.Task) bool {
	for _, pid := range t.ParentIDs {
		parent, ok := tasks[pid]
		if !ok || !effectiveSuccessful(parent) {
			return false
		}
	}
	return true
}

// submit renders a Task's command and hands it to its DRM adapter (spec
// §4.6 step 3). A SubmitError is treated as an attempt failure, subject
// to the same reattempt/poison rules as a nonzero exit code.
func (l *Loop) submit(ctx context.Context, t *model.Task, stageName string) error {
	descriptor, ok := l.Tools.Get(t.ToolName)
	if !ok {
		return fmt.Errorf("executor: unknown tool %q for task %s", t.ToolName, t.ID)
	}

	inputFiles, err := l.loadInputFiles(ctx, t)
	if err != nil {
		return fmt.Errorf("executor: load input files for task %s: %w", t.ID, err)
	}
	outputFiles, err := l.loadOutputFiles(ctx, t)
	if err != nil {
		return fmt.Errorf("executor: load output files for task %s: %w", t.ID, err)
	}

	script, err := tool.RenderCommand(descriptor, t, inputFiles, outputFiles, t.Settings)
	if err != nil {
		return fmt.Errorf("executor: render command for task %s: %w", t.ID, err)
	}
	if _, err := outputDirOrDefault(t); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := writeScript(t, script); err != nil {
		return fmt.Errorf("executor: write script for task %s: %w", t.ID, err)
	}

	drmName := l.resolveDRM(t)
	adapter, err := l.DRMs.Resolve(drmName)
	if err != nil {
		return fmt.Errorf("executor: resolve drm for task %s: %w", t.ID, err)
	}
	renderSubmitArgs := l.Config.GetSubmitArgs
	if renderSubmitArgs == nil {
		renderSubmitArgs = drm.RenderSubmitArgs
	}
	submitArgs, err := renderSubmitArgs(drmName, t, stageName, l.Config.DefaultQueue)
	if err != nil {
		return fmt.Errorf("executor: render submit args for task %s: %w", t.ID, err)
	}

	jobID, err := adapter.Submit(ctx, t, script, submitArgs)
	if err != nil {
		submitErrors.WithLabelValues(drmName).Inc()
		l.Log.Warn("submit failed", slog.String("task", t.ID), slog.Any("error", err))
		t.Attempt++
		return l.handleAttemptFailure(ctx, t, &cosmoserrors.SubmitError{TaskID: t.ID, Cause: err})
	}

	t.DRMJobID = jobID
	t.Status = model.TaskSubmitted
	if err := l.Store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("executor: persist submitted task %s: %w", t.ID, err)
	}
	tasksSubmitted.WithLabelValues(drmName).Inc()
	l.publishTask(t.ID, "", string(model.TaskSubmitted))
	return nil
}

// resolveDRM applies spec §4.5's closing rule: drm=local always uses the
// local adapter regardless of the Execution's configured default.
func (l *Loop) resolveDRM(t *model.Task) string {
	if t.DRM == "local" || t.DRM == "" {
		if t.DRM == "local" {
			return "local"
		}
		return l.Config.DefaultDRM
	}
	return t.DRM
}

func (l *Loop) loadInputFiles(ctx context.Context, t *model.Task) (map[string][]*model.TaskFile, error) {
	inputs := map[string][]*model.TaskFile{}
	for _, assoc := range t.Inputs {
		f, err := l.Store.GetTaskFile(ctx, assoc.TaskFileID)
		if err != nil {
			return nil, err
		}
		inputs[assoc.Name] = append(inputs[assoc.Name], f)
	}
	return inputs, nil
}

func (l *Loop) loadOutputFiles(ctx context.Context, t *model.Task) (map[string]*model.TaskFile, error) {
	outputs := map[string]*model.TaskFile{}
	for _, id := range t.OutputFileIDs {
		f, err := l.Store.GetTaskFile(ctx, id)
		if err != nil {
			return nil, err
		}
		outputs[f.Name] = f
	}
	return outputs, nil
}
