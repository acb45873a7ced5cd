// Package memory provides an in-memory State Store backend, used for
// tests and for single-shot `cosmos run` invocations that don't need a
// durable database (spec §4.5).
package memory

import (
	"context"
	"sync"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory, mutex-protected State Store.
type Store struct {
	mu sync.RWMutex

	version string

	executions map[string]*model.Execution
	stages     map[string]*model.Stage
	tasks      map[string]*model.Task
	files      map[string]*model.TaskFile
}

// New creates an empty in-memory Store, stamped with the given engine
// version for EngineVersion (spec §9's metadata table equivalent).
func New(version string) *Store {
	s := &Store{version: version}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.executions = map[string]*model.Execution{}
	s.stages = map[string]*model.Stage{}
	s.tasks = map[string]*model.Task{}
	s.files = map[string]*model.TaskFile{}
}

func (s *Store) InitSchema(ctx context.Context) error { return nil }

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Store) SaveGraph(ctx context.Context, g *recipe.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[g.Execution.ID] = g.Execution
	for _, stage := range g.Stages {
		s.stages[stage.ID] = stage
	}
	for _, task := range g.Tasks {
		s.tasks[task.ID] = task
	}
	for _, f := range g.Files {
		s.files[f.ID] = f
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, &cosmoserrors.NotFoundError{Resource: "execution", ID: id}
	}
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return &cosmoserrors.NotFoundError{Resource: "execution", ID: e.ID}
	}
	s.executions[e.ID] = e
	return nil
}

func (s *Store) ListExecutions(ctx context.Context) ([]*model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[id]
	if !ok {
		return nil, &cosmoserrors.NotFoundError{Resource: "stage", ID: id}
	}
	return st, nil
}

func (s *Store) UpdateStage(ctx context.Context, st *model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stages[st.ID]; !ok {
		return &cosmoserrors.NotFoundError{Resource: "stage", ID: st.ID}
	}
	s.stages[st.ID] = st
	return nil
}

func (s *Store) ListStages(ctx context.Context, executionID string) ([]*model.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Stage
	for _, st := range s.stages {
		if st.ExecutionID == executionID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &cosmoserrors.NotFoundError{Resource: "task", ID: id}
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return &cosmoserrors.NotFoundError{Resource: "task", ID: t.ID}
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *Store) ListTasks(ctx context.Context, stageID string) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.StageID == stageID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GetTaskFile(ctx context.Context, id string) (*model.TaskFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, &cosmoserrors.NotFoundError{Resource: "taskfile", ID: id}
	}
	return f, nil
}

func (s *Store) ListTaskFiles(ctx context.Context, taskID string) ([]*model.TaskFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TaskFile
	for _, f := range s.files {
		if f.ProducerTaskID == taskID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) EngineVersion(ctx context.Context) (string, bool, error) {
	return s.version, s.version != "", nil
}

func (s *Store) Close() error { return nil }
