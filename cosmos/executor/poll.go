package executor

import (
	"context"
	"fmt"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// pollInFlight implements spec §4.6 step 4: poll every submitted Task's
// DRM job and drive it to successful, a reattempt, or failed (with
// descendant poisoning).
func (l *Loop) pollInFlight(ctx context.Context, tasks map[string]*model.Task, children map[string][]string) error {
	for _, t := range tasks {
		if t.Status != model.TaskSubmitted {
			continue
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}

		drmName := l.resolveDRM(t)
		adapter, err := l.DRMs.Resolve(drmName)
		if err != nil {
			return fmt.Errorf("executor: resolve drm for task %s: %w", t.ID, err)
		}

		result, err := adapter.Poll(ctx, t.DRMJobID)
		if err != nil {
			return fmt.Errorf("executor: poll task %s: %w", t.ID, err)
		}
		if result.Phase != drm.Exited {
			continue
		}
		t.Attempt++

		if result.ExitCode == 0 {
			t.Status = model.TaskSuccessful
			if err := l.Store.UpdateTask(ctx, t); err != nil {
				return fmt.Errorf("executor: persist successful task %s: %w", t.ID, err)
			}
			tasksTerminal.WithLabelValues(string(model.TaskSuccessful)).Inc()
			l.publishTask(t.ID, string(model.TaskSubmitted), string(model.TaskSuccessful))
			continue
		}

		if err := l.handleAttemptFailure(ctx, t, &cosmoserrors.TaskFailure{TaskID: t.ID, ExitCode: result.ExitCode}); err != nil {
			return err
		}
		if t.Status == model.TaskFailed {
			if err := l.poisonDescendants(ctx, t, tasks, children); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleAttemptFailure either re-queues a Task for resubmission (attempt
// < max_attempts) or marks it terminally failed (spec §4.6 step 4,
// reattempt logic). The caller has already incremented t.Attempt for
// this terminal poll.
func (l *Loop) handleAttemptFailure(ctx context.Context, t *model.Task, cause error) error {
	if t.Attempt < t.MaxAttempts {
		t.Status = model.TaskWaiting
		t.DRMJobID = ""
		if err := l.Store.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("executor: persist reattempt for task %s: %w", t.ID, err)
		}
		l.publishTask(t.ID, string(model.TaskSubmitted), string(model.TaskWaiting))
		l.Log.Info("reattempting task", "task", t.ID, "attempt", t.Attempt, "cause", cause)
		return nil
	}

	t.Status = model.TaskFailed
	if err := l.Store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("executor: persist failed task %s: %w", t.ID, err)
	}
	tasksTerminal.WithLabelValues(string(model.TaskFailed)).Inc()
	l.publishTask(t.ID, string(model.TaskSubmitted), string(model.TaskFailed))
	return nil
}

// poisonDescendants marks every transitive descendant of a
// must_succeed=true failed Task as failed without submission (spec
// §4.6 "Failure propagation"). A failed Task with must_succeed=false
// poisons nothing: its descendants may still attempt to resolve its
// (already-materialized) outputs and fail at that point instead.
func (l *Loop) poisonDescendants(ctx context.Context, failed *model.Task, tasks map[string]*model.Task, children map[string][]string) error {
	if !failed.MustSucceed {
		return nil
	}

	queue := append([]string(nil), children[failed.ID]...)
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		child, ok := tasks[id]
		if !ok || child.Status.Terminal() {
			continue
		}
		child.Status = model.TaskFailed
		if err := l.Store.UpdateTask(ctx, child); err != nil {
			return fmt.Errorf("executor: poison task %s: %w", child.ID, err)
		}
		tasksTerminal.WithLabelValues(string(model.TaskFailed)).Inc()
		l.publishTask(child.ID, "", string(model.TaskFailed))
		queue = append(queue, children[id]...)
	}
	return nil
}
