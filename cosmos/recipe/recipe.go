// Package recipe implements the Graph Builder of spec §4.4: it expands a
// Recipe's stage declarations into a fully wired Task DAG, invoking the
// Resolver to bind each child Task's inputs and tool.GenerateOutputFiles
// to materialize its outputs.
package recipe

import (
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// ParentEdge declares one parent stage a stage's tasks are derived from,
// and the relationship kind governing the tag-group expansion (spec §4.4).
type ParentEdge struct {
	Stage        string
	Relationship model.RelationshipType
	// GroupBy names the tag keys a many2one child groups its parents by
	// (required for many2one). For many2many it is optional: when set it
	// narrows the edge to that tag subset first. Ignored for one2one and
	// one2many.
	GroupBy []string
}

// StageSpec declares one stage of a Recipe: the Tool it instantiates, its
// parent edges, and (for one2many/many2many) the tag-expansion this stage
// contributes on top of its parents' tag groups.
type StageSpec struct {
	Name string
	Tool string
	// Input, when set, makes this a NOOP input stage built from
	// tool.NewInputs rather than a registered Descriptor; Tool is ignored.
	Input []tool.InputFile

	Parents []ParentEdge

	// Expand lists the extra tag-sets a one2many/many2many stage
	// combines with its parents' groupings (Cartesian product). A stage
	// with no parents and a non-empty Expand is a root stage: one Task
	// per entry.
	Expand []map[string]any

	// Settings is passed verbatim to every Task's rendered Cmd as `s`.
	Settings map[string]any

	// OutputDir is a template interpolated per-task the same way output
	// basenames are (spec §4.1 step 2); task.ID is always available as
	// `task_id` in its environment alongside the task's tags.
	OutputDir string

	// MaxAttempts overrides the Tool's Descriptor.MaxAttempts for every
	// Task this stage produces; zero means "inherit the Descriptor's
	// value" (spec §4.6 reattempt logic, SPEC_FULL.md §4 `reattempt.py`).
	MaxAttempts int

	// Env adds to (and overrides, by key) the Descriptor's own Env,
	// exported into every Task's rendered script after `cd $OUT`
	// (SPEC_FULL.md §4 `env_variables.py`).
	Env map[string]string
}

// Recipe is the user-supplied description of stages and edges the Graph
// Builder expands into a Task DAG (spec §3's "Recipe").
type Recipe struct {
	Stages []StageSpec
}

// Graph is the materialized result of expanding a Recipe: every Stage and
// Task it produced, plus every TaskFile generated along the way, ready to
// hand to a State Store for transactional persistence.
type Graph struct {
	Execution *model.Execution
	Stages    []*model.Stage
	Tasks     map[string]*model.Task
	Files     map[string]*model.TaskFile
}

func (g *Graph) taskFiles(t *model.Task) []*model.TaskFile {
	files := make([]*model.TaskFile, 0, len(t.OutputFileIDs))
	for _, id := range t.OutputFileIDs {
		files = append(files, g.Files[id])
	}
	return files
}

func (g *Graph) forwardedInputs(t *model.Task) []*model.TaskFile {
	var files []*model.TaskFile
	for _, in := range t.Inputs {
		if in.Forward {
			files = append(files, g.Files[in.TaskFileID])
		}
	}
	return files
}
