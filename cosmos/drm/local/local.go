// Package local implements the local DRM back-end of spec §4.5: it forks
// a child process to run a Task's rendered shell script and reports its
// exit status, with no native submit arguments.
//
// A job's identity is its Task's output directory: every sentinel file
// this package writes (the exit-status file, the pid file) lives there,
// so Poll and Kill can recover a job's state even after the adapter
// itself was restarted and lost its in-memory bookkeeping — the same
// failure mode the teacher's filewatcher guards against by re-deriving
// state from the filesystem rather than trusting memory alone.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

const (
	scriptFile = "cosmos_task.sh"
	exitFile   = ".exit_status"
	pidFile    = ".pid"
)

var _ drm.Adapter = (*Adapter)(nil)

type job struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// Adapter runs Tasks as local child processes.
type Adapter struct {
	mu      sync.Mutex
	jobs    map[string]*job
	watcher *fsnotify.Watcher
	log     *slog.Logger

	// exited caches exit codes the watcher observed land on disk, keyed
	// by output directory, so Poll's disk-recovery path (jobs submitted
	// by a prior adapter instance) can be served without re-reading the
	// sentinel file on every tick.
	exited map[string]int
}

// New creates a local Adapter. A single fsnotify watcher is shared across
// every submitted job's output directory so Poll can be woken by the
// exit-status sentinel file's creation instead of spinning.
func New(log *slog.Logger) (*Adapter, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("local drm: create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{jobs: map[string]*job{}, watcher: w, exited: map[string]int{}, log: log.With(slog.String("drm", "local"))}
	go a.drainEvents()
	return a, nil
}

func (a *Adapter) Name() string { return "local" }

// Submit runs shellScript as a detached child process rooted at task's
// output directory. jobID is the output directory itself.
func (a *Adapter) Submit(ctx context.Context, task *model.Task, shellScript string, submitArgs string) (string, error) {
	if task.OutputDir == "" {
		return "", fmt.Errorf("local drm: task %s has no output directory", task.ID)
	}
	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("local drm: create output dir: %w", err)
	}

	scriptPath := filepath.Join(task.OutputDir, scriptFile)
	if err := os.WriteFile(scriptPath, []byte(shellScript), 0o755); err != nil {
		return "", fmt.Errorf("local drm: write script: %w", err)
	}

	stdout, err := os.Create(filepath.Join(task.OutputDir, "stdout.log"))
	if err != nil {
		return "", fmt.Errorf("local drm: create stdout log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(task.OutputDir, "stderr.log"))
	if err != nil {
		stdout.Close()
		return "", fmt.Errorf("local drm: create stderr log: %w", err)
	}

	cmd := exec.Command("sh", scriptPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return "", fmt.Errorf("local drm: start: %w", err)
	}

	_ = os.WriteFile(filepath.Join(task.OutputDir, pidFile), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644)
	_ = a.watcher.Add(task.OutputDir)

	j := &job{cmd: cmd, done: make(chan struct{})}
	a.mu.Lock()
	a.jobs[task.OutputDir] = j
	a.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		stdout.Close()
		stderr.Close()
		code := exitCode(waitErr)
		a.mu.Lock()
		j.exitCode = code
		close(j.done)
		a.mu.Unlock()
		_ = os.WriteFile(filepath.Join(task.OutputDir, exitFile), []byte(strconv.Itoa(code)), 0o644)
	}()

	return task.OutputDir, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Poll checks an in-memory job first, then falls back to the on-disk
// exit-status sentinel for jobs submitted by a prior adapter instance.
func (a *Adapter) Poll(ctx context.Context, jobID string) (drm.PollResult, error) {
	a.mu.Lock()
	j, ok := a.jobs[jobID]
	a.mu.Unlock()

	if ok {
		select {
		case <-j.done:
			return drm.PollResult{Phase: drm.Exited, ExitCode: j.exitCode}, nil
		default:
			return drm.PollResult{Phase: drm.Running}, nil
		}
	}

	a.mu.Lock()
	code, cached := a.exited[jobID]
	a.mu.Unlock()
	if cached {
		return drm.PollResult{Phase: drm.Exited, ExitCode: code}, nil
	}

	data, err := os.ReadFile(filepath.Join(jobID, exitFile))
	if err == nil {
		code, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			return drm.PollResult{}, fmt.Errorf("local drm: parse exit status: %w", parseErr)
		}
		a.mu.Lock()
		a.exited[jobID] = code
		a.mu.Unlock()
		return drm.PollResult{Phase: drm.Exited, ExitCode: code}, nil
	}
	if !os.IsNotExist(err) {
		return drm.PollResult{}, fmt.Errorf("local drm: read exit status: %w", err)
	}

	if _, statErr := os.Stat(filepath.Join(jobID, pidFile)); statErr == nil {
		if err := a.watcher.Add(jobID); err != nil {
			a.log.Warn("watch recovered job dir", slog.String("path", jobID), slog.Any("error", err))
		}
		return drm.PollResult{Phase: drm.Running}, nil
	}
	return drm.PollResult{}, fmt.Errorf("local drm: unknown job %q", jobID)
}

// Kill terminates a job's process, recovering its pid from the pidfile
// when the job is not tracked in memory.
func (a *Adapter) Kill(ctx context.Context, jobID string) error {
	a.mu.Lock()
	j, ok := a.jobs[jobID]
	a.mu.Unlock()
	if ok {
		return j.cmd.Process.Kill()
	}

	data, err := os.ReadFile(filepath.Join(jobID, pidFile))
	if err != nil {
		return fmt.Errorf("local drm: cannot recover pid for %q: %w", jobID, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("local drm: parse pidfile: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// drainEvents watches every submitted-or-recovered job's output
// directory and caches its exit code into a.exited as soon as the
// sentinel file is written, so Poll's disk-recovery path for jobs
// outliving a prior adapter instance reads the filesystem once instead
// of on every scheduling tick. It also exists so the shared watcher's
// event channel never blocks a Submit/Poll from adding a new path.
func (a *Adapter) drainEvents() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 || filepath.Base(ev.Name) != exitFile {
				continue
			}
			jobID := filepath.Dir(ev.Name)
			data, err := os.ReadFile(ev.Name)
			if err != nil {
				a.log.Warn("read exit sentinel", slog.String("path", ev.Name), slog.Any("error", err))
				continue
			}
			code, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				a.log.Warn("parse exit sentinel", slog.String("path", ev.Name), slog.Any("error", err))
				continue
			}
			a.mu.Lock()
			a.exited[jobID] = code
			a.mu.Unlock()
			_ = a.watcher.Remove(jobID)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.Warn("fsnotify error", slog.Any("error", err))
		}
	}
}

// Close releases the shared fsnotify watcher.
func (a *Adapter) Close() error { return a.watcher.Close() }
