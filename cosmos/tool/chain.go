package tool

import (
	"fmt"
	"strings"

	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/match"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// Chain collapses a linear sequence of tools into a single descriptor
// that submits as one DRM job (spec §4.3), reducing per-task submission
// overhead for tightly coupled sub-steps of a larger pipeline.
//
// The merged descriptor's Inputs are T1's inputs; its Outputs are the
// concatenation of every Ti's outputs (duplicate (name, format) pairs
// are caught by the normal Descriptor.Validate() duplicate check);
// resource requests are the element-wise maximum; MustSucceed and
// Persist are the logical OR across all chained tools. None of the
// chained descriptors may be NOOP.
func Chain(descriptors ...*Descriptor) (*Descriptor, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("chain: at least one tool required")
	}
	for _, d := range descriptors {
		if d.NOOP {
			return nil, &cosmoserrors.ToolValidationError{Tool: d.Name, Reason: "NOOP tools cannot be chained"}
		}
	}

	names := make([]string, len(descriptors))
	var outputs []AbstractOutputFile
	var mem, cpu, timeReq *int64
	mustSucceed, persist := false, false
	for i, d := range descriptors {
		names[i] = d.Name
		outputs = append(outputs, d.Outputs...)
		mem = maxPtr(mem, d.MemReq)
		cpu = maxPtr(cpu, d.CPUReq)
		timeReq = maxPtr(timeReq, d.TimeReq)
		mustSucceed = mustSucceed || d.MustSucceed
		persist = persist || d.Persist
	}

	merged := &Descriptor{
		Name:         strings.Join(names, "__"),
		Inputs:       descriptors[0].Inputs,
		Outputs:      outputs,
		MemReq:       mem,
		CPUReq:       cpu,
		TimeReq:      timeReq,
		MustSucceed:  mustSucceed,
		Persist:      persist,
		ChainMembers: descriptors,
	}
	merged.Cmd = chainCmd(descriptors, merged)
	return merged, nil
}

// maxPtr returns the larger of two optional int64s, treating nil as 0.
func maxPtr(a, b *int64) *int64 {
	av, bv := int64(0), int64(0)
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	if a == nil && b == nil {
		return nil
	}
	if av >= bv {
		if a != nil {
			return a
		}
		return b
	}
	return b
}

// LastToolOutputs returns, for a chain's merged Outputs, the (name,
// format) keys produced by the final chained tool. The Graph Builder
// uses this to mark every other output TaskFile "demoted" (spec §4.3's
// closing paragraph): demoted outputs are invisible to the Resolver when
// binding downstream children, so intermediate chain products never
// become formal cross-task dependencies while still existing on disk.
func LastToolOutputs(descriptors []*Descriptor) map[[2]string]bool {
	last := descriptors[len(descriptors)-1]
	keys := make(map[[2]string]bool, len(last.Outputs))
	for _, o := range last.Outputs {
		keys[[2]string{o.Name, o.Format}] = true
	}
	return keys
}

// chainCmd builds the merged descriptor's Cmd: it partitions the
// Task's already-materialized output TaskFiles among the chained tools
// (first match against each tool's declared outputs, consumed on
// assignment), threads each tool's concrete outputs (plus any
// forward=true inputs) into the next tool's inputs, and concatenates
// each sub-command under a labelled section.
func chainCmd(descriptors []*Descriptor, merged *Descriptor) CmdFunc {
	return func(ctx CmdContext) (string, error) {
		remaining := flattenOutputs(ctx.O)
		currentInputs := ctx.I

		var sections []string
		for _, d := range descriptors {
			var theseOutputs []*model.TaskFile
			for _, abstractOut := range d.Outputs {
				var tf *model.TaskFile
				var found bool
				tf, remaining, found = match.FindOne(remaining, abstractOut.Name, abstractOut.Format)
				if !found {
					return "", &cosmoserrors.ResolutionError{Tool: merged.Name, Name: abstractOut.Name, Format: abstractOut.Format}
				}
				theseOutputs = append(theseOutputs, tf)
			}

			outputMap := map[string]*model.TaskFile{}
			for _, tf := range theseOutputs {
				outputMap[tf.Name] = tf
			}

			params := map[string]any{}
			wanted := make(map[string]bool, len(d.ParamNames))
			for _, p := range d.ParamNames {
				wanted[p] = true
			}
			for k, v := range ctx.Tags {
				if wanted[k] {
					params[k] = v
				}
			}

			out, err := d.Cmd(CmdContext{I: currentInputs, O: outputMap, S: ctx.S, Tags: params})
			if err != nil {
				return "", fmt.Errorf("chain: tool %s: %w", d.Name, err)
			}
			sections = append(sections, fmt.Sprintf("### %s ###\n\n%s\n", d.Name, out))

			nextInputs := map[string][]*model.TaskFile{}
			for name, files := range groupByName(theseOutputs) {
				nextInputs[name] = files
			}
			for _, abstractIn := range d.Inputs {
				if abstractIn.Forward {
					for name, files := range currentInputs {
						if match.Matches(files[0], abstractIn.Name, abstractIn.Format) {
							nextInputs[name] = append(nextInputs[name], files...)
						}
					}
				}
			}
			currentInputs = nextInputs
		}

		return strings.Join(sections, "\n"), nil
	}
}

func flattenOutputs(o map[string]*model.TaskFile) []*model.TaskFile {
	files := make([]*model.TaskFile, 0, len(o))
	for _, tf := range o {
		files = append(files, tf)
	}
	return files
}

func groupByName(files []*model.TaskFile) map[string][]*model.TaskFile {
	out := map[string][]*model.TaskFile{}
	for _, tf := range files {
		out[tf.Name] = append(out[tf.Name], tf)
	}
	return out
}
