// Package lsf implements the LSF DRM back-end of spec §4.5 on top of
// bsub/bjobs/bkill, submitting to a configured remote submit host over
// SSH when one is set and falling back to running those binaries
// locally otherwise.
package lsf

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/remote"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

var _ drm.Adapter = (*Adapter)(nil)

// bsub prints e.g. "Job <12345> is submitted to queue <normal>."
var jobIDPattern = regexp.MustCompile(`Job <(\d+)>`)

// Adapter submits Tasks to LSF.
type Adapter struct {
	runner remote.CommandRunner
}

// New builds an LSF Adapter. cfg.SubmitHost may be empty, in which case
// bsub/bjobs/bkill run on the local host.
func New(cfg remote.Config) *Adapter {
	return &Adapter{runner: remote.NewRunner(cfg)}
}

// newWithRunner builds an Adapter against an arbitrary CommandRunner,
// used by tests to substitute a fake scheduler.
func newWithRunner(r remote.CommandRunner) *Adapter {
	return &Adapter{runner: r}
}

func (a *Adapter) Name() string { return "lsf" }

// Submit pipes shellScript into bsub's stdin with submitArgs (produced by
// drm.RenderSubmitArgs) on the command line, the same convention the
// original LSF integration used rather than writing a wrapper script to
// disk first.
func (a *Adapter) Submit(ctx context.Context, task *model.Task, shellScript string, submitArgs string) (string, error) {
	out, err := a.runner.Run(ctx, fmt.Sprintf("bsub %s", submitArgs), shellScript)
	if err != nil {
		return "", fmt.Errorf("lsf: bsub task %s: %w (output: %s)", task.ID, err, out)
	}
	m := jobIDPattern.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("lsf: could not parse job id from bsub output: %q", out)
	}
	return m[1], nil
}

// Poll shells out to bjobs to translate LSF's status codes into a
// PollResult. DONE/EXIT are terminal; everything else is still running.
func (a *Adapter) Poll(ctx context.Context, jobID string) (drm.PollResult, error) {
	out, err := a.runner.Run(ctx, fmt.Sprintf("bjobs -noheader -o 'stat exit_code' %s", jobID), "")
	if err != nil {
		return drm.PollResult{}, fmt.Errorf("lsf: bjobs %s: %w (output: %s)", jobID, err, out)
	}
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return drm.PollResult{}, fmt.Errorf("lsf: empty bjobs output for job %s", jobID)
	}

	status := fields[0]
	switch status {
	case "DONE", "EXIT":
		code := 0
		if status == "EXIT" {
			code = 1
		}
		if len(fields) > 1 {
			if parsed, err := strconv.Atoi(fields[1]); err == nil {
				code = parsed
			}
		}
		return drm.PollResult{Phase: drm.Exited, ExitCode: code}, nil
	case "PEND", "PSUSP":
		return drm.PollResult{Phase: drm.Pending}, nil
	default:
		return drm.PollResult{Phase: drm.Running}, nil
	}
}

// Kill shells out to bkill.
func (a *Adapter) Kill(ctx context.Context, jobID string) error {
	out, err := a.runner.Run(ctx, fmt.Sprintf("bkill %s", jobID), "")
	if err != nil {
		return fmt.Errorf("lsf: bkill %s: %w (output: %s)", jobID, err, out)
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
