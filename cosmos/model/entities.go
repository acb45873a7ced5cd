// Package model defines the persisted entities of a workflow run: the
// Execution/Stage/Task/TaskFile hierarchy and their state-machine
// invariants (spec §3). Entities reference each other by string ID
// rather than by pointer so that the graph can be rebuilt faithfully
// from the State Store without reconstructing pointer cycles (Task and
// Tool are cyclic only transiently, during command rendering, and are
// never persisted that way).
package model

import (
	"fmt"
	"time"
)

// Execution is a single pipeline run. It exclusively owns its Stages.
type Execution struct {
	ID         string
	Name       string
	OutputDir  string
	Status     ExecutionStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Stage is a named grouping of homogeneous Tasks produced from one Tool
// class. A Stage exclusively owns its Tasks.
type Stage struct {
	ID          string
	ExecutionID string
	Name        string
	Status      StageStatus
	// TaskIDs preserves declaration/build order; it is not a dependency order.
	TaskIDs []string
}

// InputFileAssociation is a weak reference from a consuming Task to a
// producing Task's TaskFile. Its lifetime is the consumer's lifetime; it
// never owns the TaskFile it points to.
type InputFileAssociation struct {
	TaskFileID string
	// Name is the AbstractInputFile.Name this association satisfied,
	// letting the Executor Loop regroup a reloaded Task's inputs by name
	// when re-rendering its command (spec §8 invariant 4, round-trip).
	Name string
	// Forward marks that this input should also appear to downstream
	// tasks as if it were this task's own output.
	Forward bool
}

// Task is the unit of DRM submission.
type Task struct {
	ID      string
	StageID string

	// Tags identify the task within its stage; (StageID, Tags) is unique.
	Tags map[string]any

	MemReq  *int64
	CPUReq  *int64
	TimeReq *int64

	// ToolName identifies the Descriptor this Task was instantiated from,
	// so the Executor Loop can re-resolve it and re-render the Task's
	// command after a reload from the State Store. Empty for NOOP
	// Input/Inputs tasks, which carry no command.
	ToolName string
	// Settings is passed verbatim to the Tool's rendered Cmd as `s`.
	Settings map[string]any

	MustSucceed bool
	NOOP        bool
	DRM         string
	MaxAttempts int
	Attempt     int
	Status      TaskStatus

	OutputDir string
	// Env holds extra environment variables exported into the rendered
	// shell script, after `cd $OUT` and before the tool's command body.
	Env map[string]string

	ParentIDs []string
	Inputs    []InputFileAssociation
	// OutputFileIDs are owned exclusively by this Task.
	OutputFileIDs []string

	DRMJobID string
}

// TaskFile is a single on-disk artifact produced by exactly one Task (the
// producer). Every non-Input TaskFile's path lies under its producer's
// output directory.
type TaskFile struct {
	ID             string
	Name           string
	Format         string
	Path           string
	Persist        bool
	ProducerTaskID string
	// Demoted marks an intermediate chain product (spec §4.3): the
	// Resolver never binds a demoted TaskFile to a downstream consumer,
	// even though it exists on disk as a byproduct of the chained script.
	Demoted bool
}

// String renders the marker form a TaskFile takes when interpolated
// directly into a Tool's rendered command (spec §4.1 step 3): the
// command renderer strips this down to just the path after the command
// body is produced.
func (tf *TaskFile) String() string {
	return fmt.Sprintf("<TaskFile[%s] %s:%s>", tf.Format, tf.Name, tf.Path)
}

// NewExecution constructs an Execution in its initial no_attempt state.
func NewExecution(id, name, outputDir string, now time.Time) *Execution {
	return &Execution{
		ID:        id,
		Name:      name,
		OutputDir: outputDir,
		Status:    ExecutionNoAttempt,
		CreatedAt: now,
	}
}

// NewStage constructs a Stage in its initial no_attempt state.
func NewStage(id, executionID, name string) *Stage {
	return &Stage{
		ID:          id,
		ExecutionID: executionID,
		Name:        name,
		Status:      StageNoAttempt,
	}
}

// TagsEqual compares two tag maps for the stage-uniqueness invariant
// ((stage, tags) -> at most one Task). Values are compared with `==`
// after normalization is the caller's responsibility; this treats tag
// maps with different key sets or differing primitive values as unequal.
func TagsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}
