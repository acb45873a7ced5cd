package tool_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

func intPtr(n int64) *int64 { return &n }

// TestChain_MergesOutputsResourcesAndFlags exercises spec §4.3's merge
// rules: outputs concatenate, resources take the element-wise maximum,
// must_succeed/persist are the logical OR across members.
func TestChain_MergesOutputsResourcesAndFlags(t *testing.T) {
	a := &tool.Descriptor{
		Name:        "A",
		Outputs:     []tool.AbstractOutputFile{{Name: "mid", Format: "bam"}},
		MemReq:      intPtr(1000),
		MustSucceed: true,
		Cmd:         func(ctx tool.CmdContext) (string, error) { return "step-a", nil },
	}
	b := &tool.Descriptor{
		Name:    "B",
		Inputs:  []tool.AbstractInputFile{tool.NewAbstractInputFile("mid", "bam", false)},
		Outputs: []tool.AbstractOutputFile{{Name: "final", Format: "bam"}},
		MemReq:  intPtr(4000),
		Persist: true,
		Cmd:     func(ctx tool.CmdContext) (string, error) { return "step-b", nil },
	}

	merged, err := tool.Chain(a, b)
	require.NoError(t, err)

	assert.Equal(t, "A__B", merged.Name)
	require.Len(t, merged.Outputs, 2)
	assert.True(t, merged.MustSucceed)
	assert.True(t, merged.Persist)
	require.NotNil(t, merged.MemReq)
	assert.Equal(t, int64(4000), *merged.MemReq)

	last := tool.LastToolOutputs(merged.ChainMembers)
	assert.True(t, last[[2]string{"final", "bam"}])
	assert.False(t, last[[2]string{"mid", "bam"}])
}

func TestChain_RejectsNOOPMembers(t *testing.T) {
	_, err := tool.Chain(&tool.Descriptor{Name: "In", NOOP: true})
	require.Error(t, err)
}

// TestChain_RenderedCommandThreadsOutputsBetweenMembers is the S6 chain
// scenario at the command-rendering level: A's output feeds B as an
// input, and the rendered script contains both members' sections in
// order, as a single script (spec §8 S6 "one DRM submission").
func TestChain_RenderedCommandThreadsOutputsBetweenMembers(t *testing.T) {
	a := &tool.Descriptor{
		Name:    "Align",
		Outputs: []tool.AbstractOutputFile{{Name: "mid", Format: "bam"}},
		Cmd: func(ctx tool.CmdContext) (string, error) {
			return fmt.Sprintf("align > %s", ctx.O["mid"]), nil
		},
	}
	b := &tool.Descriptor{
		Name:   "Sort",
		Inputs: []tool.AbstractInputFile{tool.NewAbstractInputFile("mid", "bam", false)},
		Outputs: []tool.AbstractOutputFile{
			{Name: "final", Format: "bam"},
		},
		Cmd: func(ctx tool.CmdContext) (string, error) {
			return fmt.Sprintf("sort %s > %s", ctx.I["mid"][0], ctx.O["final"]), nil
		},
	}

	merged, err := tool.Chain(a, b)
	require.NoError(t, err)

	task := &model.Task{ID: "t1", OutputDir: "/out/t1"}
	outputs := map[string]*model.TaskFile{
		"mid":   {Name: "mid", Format: "bam", Path: "/out/t1/mid.bam", ProducerTaskID: "t1"},
		"final": {Name: "final", Format: "bam", Path: "/out/t1/final.bam", ProducerTaskID: "t1"},
	}

	script, err := tool.RenderCommand(merged, task, nil, outputs, nil)
	require.NoError(t, err)

	assert.Contains(t, script, "### Align ###")
	assert.Contains(t, script, "### Sort ###")
	assert.Contains(t, script, "align > $OUT/mid.bam")
	assert.Contains(t, script, "sort $OUT/mid.bam > $OUT/final.bam")
}
