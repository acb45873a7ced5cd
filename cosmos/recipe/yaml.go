package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// yamlRecipe is the on-disk shape of a Recipe file: a sequence of stage
// declarations naming a registered Tool by string (Tool descriptors
// themselves are registered in code, not config, per spec §9's
// "Dynamic per-Tool schema" design note — a Recipe only wires stages
// together).
type yamlRecipe struct {
	Stages []yamlStage `yaml:"stages"`
}

type yamlStage struct {
	Name string `yaml:"name"`
	Tool string `yaml:"tool"`

	// Input declares this as a NOOP input stage (tool.NewInputs).
	Input []yamlInputFile `yaml:"input,omitempty"`

	Parents []yamlParentEdge `yaml:"parents,omitempty"`
	Expand  []map[string]any `yaml:"expand,omitempty"`

	Settings  map[string]any `yaml:"settings,omitempty"`
	OutputDir string         `yaml:"output_dir,omitempty"`

	// MaxAttempts overrides the Tool's own default (spec §4.6 reattempt
	// logic); zero means "inherit the Descriptor's value".
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	// Env adds to (and overrides, by key) the Descriptor's own Env.
	Env map[string]string `yaml:"env,omitempty"`
}

type yamlInputFile struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

type yamlParentEdge struct {
	Stage        string   `yaml:"stage"`
	Relationship string   `yaml:"relationship"`
	GroupBy      []string `yaml:"group_by,omitempty"`
}

// LoadYAML parses a Recipe file's bytes into a Recipe (spec §3
// "Recipe"). Tool names referenced by stages must already be registered
// in the Tool registry the Graph Builder is constructed with; LoadYAML
// itself does no tool validation beyond the shape of the YAML.
func LoadYAML(data []byte) (Recipe, error) {
	var raw yamlRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Recipe{}, fmt.Errorf("recipe: parse yaml: %w", err)
	}

	rec := Recipe{Stages: make([]StageSpec, 0, len(raw.Stages))}
	for _, s := range raw.Stages {
		spec := StageSpec{
			Name:        s.Name,
			Tool:        s.Tool,
			Expand:      s.Expand,
			Settings:    s.Settings,
			OutputDir:   s.OutputDir,
			MaxAttempts: s.MaxAttempts,
			Env:         s.Env,
		}
		if len(s.Input) > 0 {
			spec.Input = make([]tool.InputFile, 0, len(s.Input))
			for _, f := range s.Input {
				spec.Input = append(spec.Input, tool.InputFile{Name: f.Name, Format: f.Format, Path: f.Path})
			}
		}
		for _, p := range s.Parents {
			rel, err := parseRelationship(p.Relationship)
			if err != nil {
				return Recipe{}, fmt.Errorf("recipe: stage %q: %w", s.Name, err)
			}
			spec.Parents = append(spec.Parents, ParentEdge{Stage: p.Stage, Relationship: rel, GroupBy: p.GroupBy})
		}
		rec.Stages = append(rec.Stages, spec)
	}
	return rec, nil
}

func parseRelationship(s string) (model.RelationshipType, error) {
	switch model.RelationshipType(s) {
	case model.RelOneToOne, model.RelOneToMany, model.RelManyToOne, model.RelManyToMany:
		return model.RelationshipType(s), nil
	default:
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
}
