// Package ge implements the Grid Engine DRM back-end of spec §4.5 on top
// of qsub/qstat/qdel, mirroring the lsf package's SSH-or-local submission
// strategy.
package ge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/remote"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

var _ drm.Adapter = (*Adapter)(nil)

// qsub prints e.g. "Your job 12345 ("align_task(t1)") has been submitted".
var jobIDPattern = regexp.MustCompile(`Your job (\d+)`)

// Adapter submits Tasks to a Grid Engine cluster.
type Adapter struct {
	runner remote.CommandRunner
}

// New builds a Grid Engine Adapter. cfg.SubmitHost may be empty, in
// which case qsub/qstat/qdel run on the local host.
func New(cfg remote.Config) *Adapter {
	return &Adapter{runner: remote.NewRunner(cfg)}
}

// newWithRunner builds an Adapter against an arbitrary CommandRunner,
// used by tests to substitute a fake scheduler.
func newWithRunner(r remote.CommandRunner) *Adapter {
	return &Adapter{runner: r}
}

func (a *Adapter) Name() string { return "ge" }

// Submit pipes shellScript into qsub's stdin.
func (a *Adapter) Submit(ctx context.Context, task *model.Task, shellScript string, submitArgs string) (string, error) {
	out, err := a.runner.Run(ctx, fmt.Sprintf("qsub -cwd -terse %s", submitArgs), shellScript)
	if err != nil {
		return "", fmt.Errorf("ge: qsub task %s: %w (output: %s)", task.ID, err, out)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed != "" && isDigits(trimmed) {
		return trimmed, nil
	}
	if m := jobIDPattern.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("ge: could not parse job id from qsub output: %q", out)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Poll shells out to qstat. An empty listing means the job has already
// left the scheduler's queue, which qstat (unlike bjobs) reports as no
// output rather than a terminal status line, so an empty result is
// treated as Exited with an unknown (zero) exit code.
func (a *Adapter) Poll(ctx context.Context, jobID string) (drm.PollResult, error) {
	out, err := a.runner.Run(ctx, fmt.Sprintf("qstat -j %s", jobID), "")
	if err != nil || strings.TrimSpace(out) == "" {
		return drm.PollResult{Phase: drm.Exited, ExitCode: 0}, nil
	}

	lower := strings.ToLower(out)
	switch {
	case containsState(lower, "eqw"), strings.Contains(lower, "error"):
		return drm.PollResult{Phase: drm.Exited, ExitCode: 1}, nil
	case containsState(lower, "qw"), strings.Contains(lower, "pending"):
		return drm.PollResult{Phase: drm.Pending}, nil
	case containsState(lower, "r"), strings.Contains(lower, "running"):
		return drm.PollResult{Phase: drm.Running}, nil
	default:
		return drm.PollResult{Phase: drm.Running}, nil
	}
}

// containsState reports whether state appears as a standalone
// whitespace-delimited token in out, matching qstat's single-letter job
// state codes (r, qw, eqw, ...) without false-matching on substrings of
// other words.
func containsState(out, state string) bool {
	for _, f := range strings.Fields(out) {
		if f == state {
			return true
		}
	}
	return false
}

// Kill shells out to qdel.
func (a *Adapter) Kill(ctx context.Context, jobID string) error {
	out, err := a.runner.Run(ctx, fmt.Sprintf("qdel %s", jobID), "")
	if err != nil {
		return fmt.Errorf("ge: qdel %s: %w (output: %s)", jobID, err, out)
	}
	return nil
}

// Close releases the underlying SSH connection, if one was opened.
func (a *Adapter) Close() error {
	if closer, ok := a.runner.(*remote.Runner); ok {
		return closer.Close()
	}
	return nil
}
