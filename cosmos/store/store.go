// Package store defines the State Store of spec §4.5: durable persistence
// of Executions, Stages, Tasks, TaskFiles and InputFileAssociations, plus
// the engine metadata row consulted by initdb/resetdb.
package store

import (
	"context"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
)

// Store is the full persistence interface the Executor Loop and the
// top-level Engine depend on. A Store implementation owns transaction
// boundaries internally; SaveGraph persists an entire freshly built
// Graph atomically, and the per-entity Update* methods persist individual
// state transitions as the Executor Loop drives them.
type Store interface {
	// InitSchema creates the store's tables if they do not already
	// exist (spec §9 "initdb").
	InitSchema(ctx context.Context) error

	// Reset drops and recreates the schema (spec §9 "resetdb").
	Reset(ctx context.Context) error

	// SaveGraph persists every Stage, Task and TaskFile of a freshly
	// built Graph, transactionally (spec §4.4's closing sentence).
	SaveGraph(ctx context.Context, g *recipe.Graph) error

	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	UpdateExecution(ctx context.Context, e *model.Execution) error
	ListExecutions(ctx context.Context) ([]*model.Execution, error)

	GetStage(ctx context.Context, id string) (*model.Stage, error)
	UpdateStage(ctx context.Context, s *model.Stage) error
	ListStages(ctx context.Context, executionID string) ([]*model.Stage, error)

	GetTask(ctx context.Context, id string) (*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error
	ListTasks(ctx context.Context, stageID string) ([]*model.Task, error)

	GetTaskFile(ctx context.Context, id string) (*model.TaskFile, error)
	ListTaskFiles(ctx context.Context, taskID string) ([]*model.TaskFile, error)

	// EngineVersion returns the version string stamped by the most
	// recent InitSchema/Reset call, matching the original's metadata
	// table recording `initdb_library_version` (spec §9).
	EngineVersion(ctx context.Context) (string, bool, error)

	Close() error
}
