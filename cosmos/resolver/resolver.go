// Package resolver implements the input-binding logic of spec §4.2:
// given a child Tool's declared AbstractInputFiles and a set of parent
// Tasks, produce the concrete (TaskFile, forward) pairs the child Task
// should record as its InputFileAssociations.
package resolver

import (
	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/match"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
	"github.com/LPM-HMS/cosmos2/cosmos/tool"
)

// ParentView exposes exactly what the Resolver needs from a parent Task:
// its own output files plus any inputs it has forwarded to its consumers
// (spec §4.2 "scanning each parent's output files plus each parent's own
// forwarded inputs").
type ParentView struct {
	OutputFiles     []*model.TaskFile
	ForwardedInputs []*model.TaskFile
}

// Binding is one resolved (TaskFile, forward) pair, tagged with the
// AbstractInputFile.Name it satisfied so callers can group bindings back
// into a CmdContext.I-shaped map.
type Binding struct {
	Name     string
	TaskFile *model.TaskFile
	Forward  bool
}

// Resolve binds a child Tool's AbstractInputFiles against a set of
// parent views. The resolver is pure: identical inputs always produce
// an identical output sequence (spec §4.2, testable property §8.4).
func Resolve(inputs []tool.AbstractInputFile, parents []ParentView) ([]Binding, error) {
	var bindings []Binding

	for _, abstract := range inputs {
		var matchedAny bool
		for _, parent := range parents {
			candidates := make([]*model.TaskFile, 0, len(parent.OutputFiles)+len(parent.ForwardedInputs))
			candidates = append(candidates, parent.OutputFiles...)
			candidates = append(candidates, parent.ForwardedInputs...)

			for _, tf := range candidates {
				if tf.Demoted {
					continue
				}
				if match.Matches(tf, abstract.Name, abstract.Format) {
					bindings = append(bindings, Binding{Name: abstract.Name, TaskFile: tf, Forward: abstract.Forward})
					matchedAny = true
				}
			}
		}

		if !matchedAny && abstract.ErrorIfMissing {
			return nil, &cosmoserrors.ResolutionError{Name: abstract.Name, Format: abstract.Format}
		}
	}

	return bindings, nil
}
