// Package drm defines the uniform DRM Adapter interface of spec §4.5:
// submit/poll/kill plus render_submit_args, backed by the local, lsf and
// ge sub-packages.
package drm

import (
	"context"
	"fmt"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// Phase is the coarse state Poll reports for an in-flight job.
type Phase int

const (
	Pending Phase = iota
	Running
	Exited
)

// PollResult is what Poll returns: a Phase, and (only when Phase ==
// Exited) the process's exit code.
type PollResult struct {
	Phase    Phase
	ExitCode int
}

// Adapter is the uniform interface every DRM back-end implements
// (spec §4.5).
type Adapter interface {
	// Name identifies the back-end ("local", "lsf", "ge").
	Name() string

	// Submit launches shellScript (already fully rendered, spec §4.1)
	// with submitArgs as native scheduler arguments, returning an
	// opaque DRM job ID.
	Submit(ctx context.Context, task *model.Task, shellScript string, submitArgs string) (jobID string, err error)

	// Poll reports a submitted job's current phase.
	Poll(ctx context.Context, jobID string) (PollResult, error)

	// Kill terminates a submitted job.
	Kill(ctx context.Context, jobID string) error
}

// RenderSubmitArgs computes the native scheduler argument string for a
// Task (spec §4.5). drmName == "local" always returns an empty string;
// lsf and ge produce the byte-stable formats below. Unknown names
// produce UnsupportedDRM.
func RenderSubmitArgs(drmName string, task *model.Task, stageName string, defaultQueue string) (string, error) {
	jobname := fmt.Sprintf("%s_task(%s)", stageName, task.ID)

	switch drmName {
	case "local":
		return "", nil

	case "lsf":
		cpu := int64(1)
		if task.CPUReq != nil {
			cpu = *task.CPUReq
		}
		mem := int64(0)
		if task.MemReq != nil {
			mem = *task.MemReq
		}
		perCPU := int64(0)
		if cpu != 0 {
			perCPU = mem / cpu
		}
		timePart := ""
		if task.TimeReq != nil {
			timePart = fmt.Sprintf(" -W 0:%d", *task.TimeReq)
		}
		queuePart := ""
		if defaultQueue != "" {
			queuePart = fmt.Sprintf(" -q %s", defaultQueue)
		}
		return fmt.Sprintf(`-R "rusage[mem=%d] span[hosts=1]" -n %d%s%s -J "%s"`,
			perCPU, cpu, timePart, queuePart, jobname), nil

	case "ge":
		cpu := int64(1)
		if task.CPUReq != nil {
			cpu = *task.CPUReq
		}
		queuePart := ""
		if defaultQueue != "" {
			queuePart = fmt.Sprintf(" -q %s", defaultQueue)
		}
		return fmt.Sprintf(`-pe smp %d%s -N "%s"`, cpu, queuePart, jobname), nil

	default:
		return "", &cosmoserrors.UnsupportedDRM{Name: drmName}
	}
}

// Registry resolves a DRM name to its Adapter. A Task with drm=="local"
// always uses the local adapter regardless of the Execution's configured
// default (spec §4.5's closing sentence); callers enforce that rule by
// looking up "local" directly rather than consulting the registry for
// that case.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from a set of named adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Resolve looks up an Adapter by name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, &cosmoserrors.UnsupportedDRM{Name: name}
	}
	return a, nil
}
