package tool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

func noop(ctx tool.CmdContext) (string, error) { return "true", nil }

func TestDescriptor_Validate_RejectsDuplicateInputs(t *testing.T) {
	d := &tool.Descriptor{
		Name: "Dup",
		Inputs: []tool.AbstractInputFile{
			tool.NewAbstractInputFile("reads", "fastq", false),
			tool.NewAbstractInputFile("reads", "fastq", false),
		},
		Cmd: noop,
	}
	require.Error(t, d.Validate())
}

func TestDescriptor_Validate_RejectsDuplicateOutputs(t *testing.T) {
	d := &tool.Descriptor{
		Name: "Dup",
		Outputs: []tool.AbstractOutputFile{
			{Name: "aligned", Format: "bam"},
			{Name: "aligned", Format: "bam"},
		},
		Cmd: noop,
	}
	require.Error(t, d.Validate())
}

func TestDescriptor_Validate_RejectsReservedParamNames(t *testing.T) {
	d := &tool.Descriptor{Name: "Bad", ParamNames: []string{"i"}, Cmd: noop}
	require.Error(t, d.Validate())
}

func TestDescriptor_Validate_RequiresCmdUnlessNOOP(t *testing.T) {
	require.Error(t, (&tool.Descriptor{Name: "NoCmd"}).Validate())
	assert.NoError(t, (&tool.Descriptor{Name: "Input", NOOP: true}).Validate())
}

func TestValidateTags_RejectsReservedKeys(t *testing.T) {
	require.Error(t, tool.ValidateTags("Align", map[string]any{"o": "x"}))
	assert.NoError(t, tool.ValidateTags("Align", map[string]any{"sample": "A"}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&tool.Descriptor{Name: "Align", Cmd: noop}))

	got, ok := r.Get("Align")
	require.True(t, ok)
	assert.Equal(t, "Align", got.Name)

	_, ok = r.Get("Missing")
	assert.False(t, ok)
}
