package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/store/memory"
)

func TestStore_SaveGraphAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New("2.0.0")

	exec := model.NewExecution("exec-1", "demo", "/tmp/out", time.Now())
	stage := model.NewStage("stage-1", "exec-1", "align")
	task := &model.Task{ID: "task-1", StageID: "stage-1", Tags: map[string]any{}, Status: model.TaskNoAttempt}
	file := &model.TaskFile{ID: "file-1", Name: "out", Format: "bam", ProducerTaskID: "task-1"}
	stage.TaskIDs = []string{task.ID}
	task.OutputFileIDs = []string{file.ID}

	g := &recipe.Graph{
		Execution: exec,
		Stages:    []*model.Stage{stage},
		Tasks:     map[string]*model.Task{task.ID: task},
		Files:     map[string]*model.TaskFile{file.ID: file},
	}

	require.NoError(t, s.SaveGraph(ctx, g))

	gotExec, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", gotExec.Name)

	gotStage, err := s.GetStage(ctx, "stage-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, gotStage.TaskIDs)

	gotTask, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskNoAttempt, gotTask.Status)

	files, err := s.ListTaskFiles(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bam", files[0].Format)

	version, ok, err := s.EngineVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2.0.0", version)
}

func TestStore_UpdateTaskTransitionsStatus(t *testing.T) {
	ctx := context.Background()
	s := memory.New("2.0.0")

	exec := model.NewExecution("exec-2", "demo", "/tmp/out", time.Now())
	stage := model.NewStage("stage-2", "exec-2", "align")
	task := &model.Task{ID: "task-2", StageID: "stage-2", Tags: map[string]any{}, Status: model.TaskNoAttempt}
	g := &recipe.Graph{
		Execution: exec,
		Stages:    []*model.Stage{stage},
		Tasks:     map[string]*model.Task{task.ID: task},
		Files:     map[string]*model.TaskFile{},
	}
	require.NoError(t, s.SaveGraph(ctx, g))

	task.Status = model.TaskSubmitted
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, model.TaskSubmitted, got.Status)
}

func TestStore_UpdateUnknownTaskIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := memory.New("2.0.0")

	err := s.UpdateTask(ctx, &model.Task{ID: "ghost"})
	require.Error(t, err)
	var nf *cosmoserrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStore_ResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := memory.New("2.0.0")

	exec := model.NewExecution("exec-3", "demo", "/tmp/out", time.Now())
	g := &recipe.Graph{
		Execution: exec,
		Tasks:     map[string]*model.Task{},
		Files:     map[string]*model.TaskFile{},
	}
	require.NoError(t, s.SaveGraph(ctx, g))
	require.NoError(t, s.Reset(ctx))

	_, err := s.GetExecution(ctx, "exec-3")
	require.Error(t, err)
}
