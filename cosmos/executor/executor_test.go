package executor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/local"
	"github.com/LPM-HMS/cosmos2/cosmos/executor"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/signalbus"
	"github.com/LPM-HMS/cosmos2/cosmos/store/memory"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// testEnv wires a Loop against an in-memory Store and the real local DRM
// adapter, fast-ticking so these integration tests complete quickly.
type testEnv struct {
	loop *executor.Loop
	st   *memory.Store
	ids  recipe.IDGen
}

func newTestEnv(t *testing.T, tools *tool.Registry) *testEnv {
	t.Helper()
	st := memory.New("test")
	localAdapter, err := local.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = localAdapter.Close() })

	drms := drm.NewRegistry(localAdapter)
	bus := signalbus.New()
	loop := executor.New(st, tools, drms, bus, executor.Config{
		Concurrency:  4,
		DefaultDRM:   "local",
		TickInterval: 10 * time.Millisecond,
		PollRate:     rate.Limit(200),
	}, nil)

	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return &testEnv{loop: loop, st: st, ids: ids}
}

func shellCmd(command string) tool.CmdFunc {
	return func(ctx tool.CmdContext) (string, error) { return command, nil }
}

func runWithTimeout(t *testing.T, env *testEnv, executionID string, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return env.loop.Run(ctx, executionID)
}

// S1: one Input NOOP task feeds an Echo tool submitted to the local DRM;
// the execution ends successful and the copied output exists on disk.
func TestScenario_S1_LocalEcho(t *testing.T) {
	registry := tool.NewRegistry()
	env := newTestEnv(t, registry)

	outDir := t.TempDir()
	inputPath := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("hello"), 0o644))

	require.NoError(t, registry.Register(&tool.Descriptor{
		Name:    "Echo",
		Inputs:  []tool.AbstractInputFile{tool.NewAbstractInputFile("in", "txt", false)},
		Outputs: []tool.AbstractOutputFile{{Name: "out", Format: "txt"}},
		Cmd: func(ctx tool.CmdContext) (string, error) {
			return "cp " + ctx.I["in"][0].String() + " " + ctx.O["out"].String(), nil
		},
	}))

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "load", Input: []tool.InputFile{{Name: "in", Format: "txt", Path: inputPath}}},
		{Name: "echo", Tool: "Echo", Parents: []recipe.ParentEdge{{Stage: "load", Relationship: model.RelOneToOne}}},
	}}

	builder := recipe.NewBuilder(registry, env.ids)
	g, err := builder.Build("exec-s1", "s1", outDir, rec)
	require.NoError(t, err)
	require.NoError(t, env.st.SaveGraph(context.Background(), g))

	err = runWithTimeout(t, env, "exec-s1", 5*time.Second)
	require.NoError(t, err)

	exec, err := env.st.GetExecution(context.Background(), "exec-s1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccessful, exec.Status)

	echoStage := g.Stages[1]
	require.Len(t, echoStage.TaskIDs, 1)
	task, err := env.st.GetTask(context.Background(), echoStage.TaskIDs[0])
	require.NoError(t, err)
	require.Len(t, task.OutputFileIDs, 1)
	outFile, err := env.st.GetTaskFile(context.Background(), task.OutputFileIDs[0])
	require.NoError(t, err)

	data, err := os.ReadFile(outFile.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

// S3: a task that fails twice then succeeds, with max_attempts=3, ends
// successful with a final attempt count of 3.
func TestScenario_S3_ReattemptSucceedsOnThirdAttempt(t *testing.T) {
	registry := tool.NewRegistry()
	env := newTestEnv(t, registry)

	require.NoError(t, registry.Register(&tool.Descriptor{
		Name:        "Flaky",
		MustSucceed: true,
		MaxAttempts: 3,
		Cmd: shellCmd(`n=0
if [ -f attempts ]; then n=$(cat attempts); fi
n=$((n+1))
echo $n > attempts
if [ $n -lt 3 ]; then exit 1; fi
exit 0`),
	}))

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "flaky", Tool: "Flaky", Expand: []map[string]any{{}}},
	}}

	builder := recipe.NewBuilder(registry, env.ids)
	g, err := builder.Build("exec-s3", "s3", t.TempDir(), rec)
	require.NoError(t, err)
	require.NoError(t, env.st.SaveGraph(context.Background(), g))

	err = runWithTimeout(t, env, "exec-s3", 5*time.Second)
	require.NoError(t, err)

	exec, err := env.st.GetExecution(context.Background(), "exec-s3")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccessful, exec.Status)

	task, err := env.st.GetTask(context.Background(), g.Stages[0].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskSuccessful, task.Status)
	assert.Equal(t, 3, task.Attempt)
}

// S4: a must_succeed parent fails; its child and grandchild are poisoned
// (marked failed without submission); an unrelated sibling still
// succeeds; the execution ends terminally failed.
func TestScenario_S4_FailurePropagatesToDescendantsOnly(t *testing.T) {
	registry := tool.NewRegistry()
	env := newTestEnv(t, registry)

	require.NoError(t, registry.Register(&tool.Descriptor{
		Name: "FailOnce", MustSucceed: true, MaxAttempts: 1, Cmd: shellCmd("exit 1"),
	}))
	require.NoError(t, registry.Register(&tool.Descriptor{
		Name: "NoopOk", MaxAttempts: 1, Cmd: shellCmd("exit 0"),
	}))

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "parent", Tool: "FailOnce", Expand: []map[string]any{{}}},
		{Name: "child", Tool: "NoopOk", Parents: []recipe.ParentEdge{{Stage: "parent", Relationship: model.RelOneToOne}}},
		{Name: "grandchild", Tool: "NoopOk", Parents: []recipe.ParentEdge{{Stage: "child", Relationship: model.RelOneToOne}}},
		{Name: "sibling", Tool: "NoopOk", Expand: []map[string]any{{}}},
	}}

	builder := recipe.NewBuilder(registry, env.ids)
	g, err := builder.Build("exec-s4", "s4", t.TempDir(), rec)
	require.NoError(t, err)
	require.NoError(t, env.st.SaveGraph(context.Background(), g))

	err = runWithTimeout(t, env, "exec-s4", 5*time.Second)
	var execFailed *cosmoserrors.ExecutionFailed
	require.True(t, errors.As(err, &execFailed))

	exec, gerr := env.st.GetExecution(context.Background(), "exec-s4")
	require.NoError(t, gerr)
	assert.Equal(t, model.ExecutionFailed, exec.Status)

	child, err := env.st.GetTask(context.Background(), g.Stages[1].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, child.Status)
	assert.Empty(t, child.DRMJobID, "poisoned child must never be submitted")

	grandchild, err := env.st.GetTask(context.Background(), g.Stages[2].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, grandchild.Status)
	assert.Empty(t, grandchild.DRMJobID)

	sibling, err := env.st.GetTask(context.Background(), g.Stages[3].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskSuccessful, sibling.Status)
}

// S5: resuming an execution only re-eligibilizes killed/failed tasks that
// still have attempts remaining; a previously successful sibling is left
// untouched (no second submission).
func TestScenario_S5_ResumeRetriesOnlyEligibleTasks(t *testing.T) {
	registry := tool.NewRegistry()
	env := newTestEnv(t, registry)

	require.NoError(t, registry.Register(&tool.Descriptor{
		Name: "NoopOk", MaxAttempts: 2, Cmd: shellCmd("exit 0"),
	}))

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "a", Tool: "NoopOk", Expand: []map[string]any{{}}},
		{Name: "b", Tool: "NoopOk", Expand: []map[string]any{{}}},
	}}

	builder := recipe.NewBuilder(registry, env.ids)
	g, err := builder.Build("exec-s5", "s5", t.TempDir(), rec)
	require.NoError(t, err)
	require.NoError(t, env.st.SaveGraph(context.Background(), g))

	require.NoError(t, runWithTimeout(t, env, "exec-s5", 5*time.Second))

	ctx := context.Background()
	taskA, err := env.st.GetTask(ctx, g.Stages[0].TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, model.TaskSuccessful, taskA.Status)

	taskB, err := env.st.GetTask(ctx, g.Stages[1].TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, model.TaskSuccessful, taskB.Status)
	bJobIDBeforeResume := taskB.DRMJobID

	// Simulate a kill that lands before A's attempts are exhausted: the
	// next Run must re-submit it.
	taskA.Status = model.TaskKilled
	taskA.Attempt = 1
	require.NoError(t, env.st.UpdateTask(ctx, taskA))

	require.NoError(t, runWithTimeout(t, env, "exec-s5", 5*time.Second))

	taskA, err = env.st.GetTask(ctx, g.Stages[0].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TaskSuccessful, taskA.Status)
	assert.Equal(t, 2, taskA.Attempt)

	taskB, err = env.st.GetTask(ctx, g.Stages[1].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, bJobIDBeforeResume, taskB.DRMJobID, "untouched sibling must not be resubmitted")
}

// Idempotence (spec §8 invariant 5): running an already-successful
// execution again performs zero submissions.
func TestScenario_Idempotence_RerunningSuccessfulExecutionResubmitsNothing(t *testing.T) {
	registry := tool.NewRegistry()
	env := newTestEnv(t, registry)

	require.NoError(t, registry.Register(&tool.Descriptor{
		Name: "NoopOk", MaxAttempts: 1, Cmd: shellCmd("exit 0"),
	}))

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "a", Tool: "NoopOk", Expand: []map[string]any{{}}},
	}}

	builder := recipe.NewBuilder(registry, env.ids)
	g, err := builder.Build("exec-idem", "idem", t.TempDir(), rec)
	require.NoError(t, err)
	require.NoError(t, env.st.SaveGraph(context.Background(), g))

	require.NoError(t, runWithTimeout(t, env, "exec-idem", 5*time.Second))

	ctx := context.Background()
	before, err := env.st.GetTask(ctx, g.Stages[0].TaskIDs[0])
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, env, "exec-idem", 2*time.Second))

	after, err := env.st.GetTask(ctx, g.Stages[0].TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Attempt, after.Attempt)
	assert.Equal(t, before.DRMJobID, after.DRMJobID)
}
