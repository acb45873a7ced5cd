package recipe

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/resolver"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// IDGen allocates fresh, unique entity IDs; production callers pass
// google/uuid's uuid.NewString, tests pass a deterministic counter.
type IDGen func() string

// Builder expands Recipes against a Tool registry into wired Graphs
// (spec §4.4). It holds no state between Build calls.
type Builder struct {
	Registry *tool.Registry
	IDs      IDGen
}

// NewBuilder constructs a Builder bound to a Tool registry and ID generator.
func NewBuilder(registry *tool.Registry, ids IDGen) *Builder {
	return &Builder{Registry: registry, IDs: ids}
}

// group is one child Task's worth of inherited parent IDs and tags,
// produced by expanding a stage's parent edges per their RelationshipType.
type group struct {
	ParentIDs []string
	Tags      map[string]any
}

// Build expands every stage of recipe in declaration order into an
// Execution's Stages and Tasks, invoking the Resolver for each Task's
// inputs and tool.GenerateOutputFiles for its outputs. Stages must be
// declared after every stage they name as a parent (spec §4.4 gives no
// ordering guarantee beyond this; the Builder does not reorder).
func (b *Builder) Build(execID, execName, execOutputDir string, recipe Recipe) (*Graph, error) {
	g := &Graph{
		Execution: model.NewExecution(execID, execName, execOutputDir, time.Now()),
		Tasks:     map[string]*model.Task{},
		Files:     map[string]*model.TaskFile{},
	}

	tasksByStage := map[string][]*model.Task{}

	for _, spec := range recipe.Stages {
		stageID := b.IDs()
		stage := model.NewStage(stageID, execID, spec.Name)

		var tasks []*model.Task
		var err error
		if spec.Input != nil {
			tasks, err = b.buildInputStage(g, stage, spec, execOutputDir)
		} else {
			tasks, err = b.buildToolStage(g, stage, spec, tasksByStage, execOutputDir)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", spec.Name, err)
		}
		if len(tasks) == 0 {
			return nil, fmt.Errorf("stage %q: %w", spec.Name, &cosmoserrors.ValidationError{Field: "stage", Message: "expansion produced zero tasks"})
		}

		for _, t := range tasks {
			stage.TaskIDs = append(stage.TaskIDs, t.ID)
			g.Tasks[t.ID] = t
		}
		tasksByStage[spec.Name] = tasks
		g.Stages = append(g.Stages, stage)
	}

	return g, nil
}

func (b *Builder) buildInputStage(g *Graph, stage *model.Stage, spec StageSpec, execOutputDir string) ([]*model.Task, error) {
	inputDesc, err := tool.NewInputs(spec.Input)
	if err != nil {
		return nil, err
	}
	id := b.IDs()
	outputDir := spec.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(execOutputDir, id)
	}
	task := &model.Task{
		ID:          id,
		StageID:     stage.ID,
		Tags:        map[string]any{},
		MustSucceed: true,
		NOOP:        true,
		MaxAttempts: 1,
		Status:      model.TaskNoAttempt,
		OutputDir:   outputDir,
	}
	files := tool.GenerateInputTaskFiles(inputDesc, task, b.IDs)
	for _, f := range files {
		task.OutputFileIDs = append(task.OutputFileIDs, f.ID)
		g.Files[f.ID] = f
	}
	return []*model.Task{task}, nil
}

func (b *Builder) buildToolStage(g *Graph, stage *model.Stage, spec StageSpec, tasksByStage map[string][]*model.Task, execOutputDir string) ([]*model.Task, error) {
	descriptor, ok := b.Registry.Get(spec.Tool)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", spec.Tool)
	}

	groups, err := expandGroups(spec, tasksByStage)
	if err != nil {
		return nil, err
	}

	var lastChainOutputs map[[2]string]bool
	if len(descriptor.ChainMembers) > 1 {
		lastChainOutputs = tool.LastToolOutputs(descriptor.ChainMembers)
	}

	maxAttempts := descriptor.MaxAttempts
	if spec.MaxAttempts > 0 {
		maxAttempts = spec.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	seen := map[string]bool{}
	tasks := make([]*model.Task, 0, len(groups))
	for _, grp := range groups {
		if err := tool.ValidateTags(descriptor.Name, grp.Tags); err != nil {
			return nil, err
		}
		key := tagsKey(grp.Tags)
		if seen[key] {
			return nil, &cosmoserrors.DuplicateTaskError{Stage: stage.Name, Tags: grp.Tags}
		}
		seen[key] = true

		env := map[string]string{}
		for k, v := range descriptor.Env {
			env[k] = v
		}
		for k, v := range spec.Env {
			env[k] = v
		}

		task := &model.Task{
			ID:          b.IDs(),
			StageID:     stage.ID,
			Tags:        grp.Tags,
			ToolName:    descriptor.Name,
			Settings:    spec.Settings,
			MemReq:      descriptor.MemReq,
			CPUReq:      descriptor.CPUReq,
			TimeReq:     descriptor.TimeReq,
			MustSucceed: descriptor.MustSucceed,
			NOOP:        descriptor.NOOP,
			DRM:         descriptor.DRM,
			MaxAttempts: maxAttempts,
			Env:         env,
			Status:      model.TaskNoAttempt,
			ParentIDs:   grp.ParentIDs,
		}
		if spec.OutputDir != "" {
			dir, err := tool.Interpolate(spec.OutputDir, taskEnv(task))
			if err != nil {
				return nil, fmt.Errorf("interpolate output_dir: %w", err)
			}
			task.OutputDir = dir
		} else {
			task.OutputDir = filepath.Join(execOutputDir, task.ID)
		}

		parentViews := parentViewsFor(g, grp.ParentIDs)
		bindings, err := resolver.Resolve(descriptor.Inputs, parentViews)
		if err != nil {
			return nil, err
		}
		inputsByName := map[string][]*model.TaskFile{}
		for _, bnd := range bindings {
			task.Inputs = append(task.Inputs, model.InputFileAssociation{TaskFileID: bnd.TaskFile.ID, Name: bnd.Name, Forward: bnd.Forward})
			inputsByName[bnd.Name] = append(inputsByName[bnd.Name], bnd.TaskFile)
		}

		outputs, err := tool.GenerateOutputFiles(descriptor, task, inputsByName, b.IDs)
		if err != nil {
			return nil, err
		}
		for _, f := range outputs {
			if lastChainOutputs != nil && !lastChainOutputs[[2]string{f.Name, f.Format}] {
				f.Demoted = true
			}
			task.OutputFileIDs = append(task.OutputFileIDs, f.ID)
			g.Files[f.ID] = f
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func parentViewsFor(g *Graph, parentIDs []string) []resolver.ParentView {
	views := make([]resolver.ParentView, 0, len(parentIDs))
	for _, id := range parentIDs {
		parent, ok := g.Tasks[id]
		if !ok {
			continue
		}
		views = append(views, resolver.ParentView{
			OutputFiles:     g.taskFiles(parent),
			ForwardedInputs: g.forwardedInputs(parent),
		})
	}
	return views
}

func taskEnv(t *model.Task) map[string]any {
	env := map[string]any{"task_id": t.ID}
	for k, v := range t.Tags {
		env[k] = v
	}
	return env
}

func tagsKey(tags map[string]any) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		key += fmt.Sprintf("%s=%v;", k, tags[k])
	}
	return key
}
