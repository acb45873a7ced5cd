package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/resolver"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

func TestResolve_NameFormatMatch(t *testing.T) {
	bam := &model.TaskFile{Name: "aligned", Format: "bam", Path: "/out/a.bam"}
	log := &model.TaskFile{Name: "log", Format: "txt", Path: "/out/a.log"}

	bindings, err := resolver.Resolve(
		[]tool.AbstractInputFile{tool.NewAbstractInputFile("aligned", "bam", false)},
		[]resolver.ParentView{{OutputFiles: []*model.TaskFile{bam, log}}},
	)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, bam, bindings[0].TaskFile)
	assert.False(t, bindings[0].Forward)
}

func TestResolve_WildcardFormatMatchesEverything(t *testing.T) {
	files := []*model.TaskFile{
		{Name: "a", Format: "bam"},
		{Name: "b", Format: "txt"},
	}
	bindings, err := resolver.Resolve(
		[]tool.AbstractInputFile{{Format: "*"}},
		[]resolver.ParentView{{OutputFiles: files}},
	)
	require.NoError(t, err)
	assert.Len(t, bindings, 2)
}

func TestResolve_ErrorIfMissing(t *testing.T) {
	_, err := resolver.Resolve(
		[]tool.AbstractInputFile{tool.NewAbstractInputFile("missing", "bam", false)},
		[]resolver.ParentView{{OutputFiles: nil}},
	)
	require.Error(t, err)
}

func TestResolve_NoErrorIfMissingWhenNotRequired(t *testing.T) {
	in := tool.NewAbstractInputFile("missing", "bam", false)
	in.ErrorIfMissing = false
	bindings, err := resolver.Resolve([]tool.AbstractInputFile{in}, []resolver.ParentView{{OutputFiles: nil}})
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestResolve_ForwardedInputsAreVisibleToGrandchildren(t *testing.T) {
	forwarded := &model.TaskFile{Name: "ref", Format: "fasta"}
	bindings, err := resolver.Resolve(
		[]tool.AbstractInputFile{tool.NewAbstractInputFile("ref", "fasta", true)},
		[]resolver.ParentView{{ForwardedInputs: []*model.TaskFile{forwarded}}},
	)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.True(t, bindings[0].Forward)
}

func TestResolve_DemotedFilesAreNeverBound(t *testing.T) {
	demoted := &model.TaskFile{Name: "intermediate", Format: "sam", Demoted: true}
	in := tool.NewAbstractInputFile("intermediate", "sam", false)
	in.ErrorIfMissing = false
	bindings, err := resolver.Resolve(
		[]tool.AbstractInputFile{in},
		[]resolver.ParentView{{OutputFiles: []*model.TaskFile{demoted}}},
	)
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestResolve_Pure(t *testing.T) {
	bam := &model.TaskFile{Name: "aligned", Format: "bam"}
	inputs := []tool.AbstractInputFile{tool.NewAbstractInputFile("aligned", "bam", false)}
	parents := []resolver.ParentView{{OutputFiles: []*model.TaskFile{bam}}}

	first, err := resolver.Resolve(inputs, parents)
	require.NoError(t, err)
	second, err := resolver.Resolve(inputs, parents)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
