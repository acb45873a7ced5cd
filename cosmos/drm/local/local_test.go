package local_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/drm"
	"github.com/LPM-HMS/cosmos2/cosmos/drm/local"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

func waitForExit(t *testing.T, a *local.Adapter, jobID string) drm.PollResult {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		res, err := a.Poll(context.Background(), jobID)
		require.NoError(t, err)
		if res.Phase == drm.Exited {
			return res
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to exit")
	return drm.PollResult{}
}

func TestAdapter_SubmitAndPollSuccessfulExit(t *testing.T) {
	a, err := local.New(nil)
	require.NoError(t, err)
	defer a.Close()

	task := &model.Task{ID: "t1", OutputDir: filepath.Join(t.TempDir(), "t1")}
	jobID, err := a.Submit(context.Background(), task, "exit 0\n", "")
	require.NoError(t, err)
	assert.Equal(t, task.OutputDir, jobID)

	res := waitForExit(t, a, jobID)
	assert.Equal(t, 0, res.ExitCode)
}

func TestAdapter_SubmitAndPollNonzeroExit(t *testing.T) {
	a, err := local.New(nil)
	require.NoError(t, err)
	defer a.Close()

	task := &model.Task{ID: "t2", OutputDir: filepath.Join(t.TempDir(), "t2")}
	jobID, err := a.Submit(context.Background(), task, "exit 7\n", "")
	require.NoError(t, err)

	res := waitForExit(t, a, jobID)
	assert.Equal(t, 7, res.ExitCode)
}

func TestAdapter_PollUnknownJobErrors(t *testing.T) {
	a, err := local.New(nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Poll(context.Background(), "/nonexistent/path")
	require.Error(t, err)
}

func TestAdapter_KillTerminatesProcess(t *testing.T) {
	a, err := local.New(nil)
	require.NoError(t, err)
	defer a.Close()

	task := &model.Task{ID: "t3", OutputDir: filepath.Join(t.TempDir(), "t3")}
	jobID, err := a.Submit(context.Background(), task, "sleep 30\n", "")
	require.NoError(t, err)

	require.NoError(t, a.Kill(context.Background(), jobID))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := a.Poll(context.Background(), jobID)
		require.NoError(t, err)
		if res.Phase == drm.Exited {
			assert.NotEqual(t, 0, res.ExitCode)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("process was not killed in time")
}
