package recipe_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/recipe"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

func counter() recipe.IDGen {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func noopCmd(ctx tool.CmdContext) (string, error) { return "true", nil }

func mustRegister(t *testing.T, r *tool.Registry, d *tool.Descriptor) {
	t.Helper()
	require.NoError(t, r.Register(d))
}

func TestBuild_OneToOneExpandsPerParentTask(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{
		Name:    "Align",
		Inputs:  []tool.AbstractInputFile{tool.NewAbstractInputFile("reads", "fastq", false)},
		Outputs: []tool.AbstractOutputFile{{Name: "aligned", Format: "bam"}},
		Cmd:     noopCmd,
	})

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "load", Input: []tool.InputFile{
			{Name: "reads", Format: "fastq", Path: sampleFastqPath(t)},
		}},
		{
			Name: "align",
			Tool: "Align",
			Parents: []recipe.ParentEdge{
				{Stage: "load", Relationship: model.RelOneToOne},
			},
		},
	}}

	b := recipe.NewBuilder(r, counter())
	g, err := b.Build("exec-1", "test", "/tmp/out", rec)
	require.NoError(t, err)
	require.Len(t, g.Stages, 2)

	alignStage := g.Stages[1]
	assert.Len(t, alignStage.TaskIDs, 1)
	task := g.Tasks[alignStage.TaskIDs[0]]
	require.Len(t, task.Inputs, 1)
	require.Len(t, task.OutputFileIDs, 1)
	out := g.Files[task.OutputFileIDs[0]]
	assert.Equal(t, "aligned", out.Name)
	assert.False(t, out.Demoted)
}

func TestBuild_ManyToOneGroupsBySubsetOfTags(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{
		Name:    "Merge",
		Outputs: []tool.AbstractOutputFile{{Name: "merged", Format: "bam"}},
		Cmd:     noopCmd,
	})

	rec2 := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "per_lane", Tool: "Merge", Expand: []map[string]any{
			{"sample": "A", "lane": 1},
			{"sample": "A", "lane": 2},
			{"sample": "B", "lane": 1},
		}},
		{
			Name: "per_sample",
			Tool: "Merge",
			Parents: []recipe.ParentEdge{
				{Stage: "per_lane", Relationship: model.RelManyToOne, GroupBy: []string{"sample"}},
			},
		},
	}}

	b := recipe.NewBuilder(r, counter())
	g, err := b.Build("exec-2", "test", "/tmp/out", rec2)
	require.NoError(t, err)

	perSample := g.Stages[1]
	require.Len(t, perSample.TaskIDs, 2)

	samples := map[string]int{}
	for _, id := range perSample.TaskIDs {
		task := g.Tasks[id]
		samples[fmt.Sprint(task.Tags["sample"])]++
	}
	assert.Equal(t, 1, samples["A"])
	assert.Equal(t, 1, samples["B"])
}

func TestBuild_OneToManyCartesianProductWithExpand(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{
		Name:    "Call",
		Outputs: []tool.AbstractOutputFile{{Name: "vcf", Format: "vcf"}},
		Cmd:     noopCmd,
	})

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "samples", Tool: "Call", Expand: []map[string]any{
			{"sample": "A"},
			{"sample": "B"},
		}},
		{
			Name: "per_chrom",
			Tool: "Call",
			Parents: []recipe.ParentEdge{
				{Stage: "samples", Relationship: model.RelOneToMany},
			},
			Expand: []map[string]any{
				{"chrom": "chr1"},
				{"chrom": "chr2"},
			},
		},
	}}

	b := recipe.NewBuilder(r, counter())
	g, err := b.Build("exec-3", "test", "/tmp/out", rec)
	require.NoError(t, err)

	perChrom := g.Stages[1]
	assert.Len(t, perChrom.TaskIDs, 4)
}

func TestBuild_ManyToManyFullCartesianAcrossTwoParentStages(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{Name: "Noop", Cmd: noopCmd})
	mustRegister(t, r, &tool.Descriptor{Name: "Combine", Cmd: noopCmd})

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "samples", Tool: "Noop", Expand: []map[string]any{
			{"sample": "A"}, {"sample": "B"},
		}},
		{Name: "chroms", Tool: "Noop", Expand: []map[string]any{
			{"chrom": "chr1"}, {"chrom": "chr2"}, {"chrom": "chr3"},
		}},
		{
			Name: "combined",
			Tool: "Combine",
			Parents: []recipe.ParentEdge{
				{Stage: "samples", Relationship: model.RelManyToMany},
				{Stage: "chroms", Relationship: model.RelManyToMany},
			},
		},
	}}

	b := recipe.NewBuilder(r, counter())
	g, err := b.Build("exec-6", "test", "/tmp/out", rec)
	require.NoError(t, err)

	combined := g.Stages[2]
	assert.Len(t, combined.TaskIDs, 6)
}

func TestBuild_DuplicateTaskInStageIsHardError(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{
		Name:    "Call",
		Outputs: []tool.AbstractOutputFile{{Name: "vcf", Format: "vcf"}},
		Cmd:     noopCmd,
	})

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{Name: "dup", Tool: "Call", Expand: []map[string]any{
			{"sample": "A"},
			{"sample": "A"},
		}},
	}}

	b := recipe.NewBuilder(r, counter())
	_, err := b.Build("exec-4", "test", "/tmp/out", rec)
	require.Error(t, err)
}

func TestBuild_UnknownParentStageIsError(t *testing.T) {
	r := tool.NewRegistry()
	mustRegister(t, r, &tool.Descriptor{Name: "Call", Cmd: noopCmd})

	rec := recipe.Recipe{Stages: []recipe.StageSpec{
		{
			Name: "orphan",
			Tool: "Call",
			Parents: []recipe.ParentEdge{
				{Stage: "nonexistent", Relationship: model.RelOneToOne},
			},
		},
	}}

	b := recipe.NewBuilder(r, counter())
	_, err := b.Build("exec-5", "test", "/tmp/out", rec)
	require.Error(t, err)
}

func sampleFastqPath(t *testing.T) string {
	t.Helper()
	return "testdata/sample.fastq"
}
