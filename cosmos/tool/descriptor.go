package tool

import (
	"github.com/LPM-HMS/cosmos2/cosmos/cosmoserrors"
	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// reservedParamNames are the three parameters every cmd signature must
// accept (spec §4.1): the concrete input/output TaskFiles and settings.
// They cannot also be used as tag keys (spec §4.1(d), §9).
var reservedParamNames = map[string]bool{"i": true, "o": true, "s": true}

// CmdContext is passed to a Tool's Cmd function. I maps input name to the
// ordered list of concrete input TaskFiles bound to it; O maps output
// name to its single concrete output TaskFile; S is the settings
// mapping; Tags is the subset of the task's tags whose keys appear in the
// Descriptor's declared ParamNames, exposed to Cmd as keyword-style
// parameters (spec §4.1 step 1); i/o/s travel only as I, O and S.
type CmdContext struct {
	I    map[string][]*model.TaskFile
	O    map[string]*model.TaskFile
	S    map[string]any
	Tags map[string]any
}

// CmdFunc renders the shell command body for one Task. It is a pure
// string-rendering function: the scheduler never executes it inside a
// suspension point (spec §5).
type CmdFunc func(ctx CmdContext) (string, error)

// Descriptor is the static, registrable description of a Tool class
// (spec §9's "registry of AbstractFile lists and resource constants per
// Tool kind").
type Descriptor struct {
	Name    string
	Inputs  []AbstractInputFile
	Outputs []AbstractOutputFile

	MemReq  *int64
	CPUReq  *int64
	TimeReq *int64

	MustSucceed bool
	Persist     bool
	// DRM pins this tool's tasks to a specific backend ("local" always
	// wins over the Execution's default_drm per spec §4.5).
	DRM string
	// NOOP marks Input/Inputs tools: they produce a Task that is never
	// submitted to a DRM (spec §4.1 "Input tools").
	NOOP bool

	// MaxAttempts bounds the total submissions a Task gets before it is
	// terminally failed (spec §4.6 reattempt logic). Zero means 1 (no
	// retries), matching the "max_attempts=1 → no retries" boundary in
	// spec §8.
	MaxAttempts int
	// Env declares environment variables every Task of this Tool
	// exports into its rendered script, after `cd $OUT` and before the
	// command body (SPEC_FULL.md §4 `env_variables.py`).
	Env map[string]string

	Cmd CmdFunc
	// ParamNames lists additional tag keys, beyond i/o/s, that Cmd wants
	// forwarded as named parameters.
	ParamNames []string

	// ChainMembers holds the original sub-descriptors when this
	// Descriptor was produced by Chain; nil for an ordinary Tool. The
	// Graph Builder uses it to demote every output but the last member's.
	ChainMembers []*Descriptor
}

// Validate enforces spec §4.1's instantiation-time checks. It is called
// once when a Descriptor is registered.
func (d *Descriptor) Validate() error {
	seen := map[[2]string]bool{}
	for _, in := range d.Inputs {
		k := in.key()
		if seen[k] {
			return &cosmoserrors.ToolValidationError{Tool: d.Name, Reason: "duplicate input (name, format) pair"}
		}
		seen[k] = true
	}

	seen = map[[2]string]bool{}
	for _, out := range d.Outputs {
		k := out.key()
		if seen[k] {
			return &cosmoserrors.ToolValidationError{Tool: d.Name, Reason: "duplicate output (name, format) pair"}
		}
		seen[k] = true
	}

	for _, p := range d.ParamNames {
		if reservedParamNames[p] {
			return &cosmoserrors.ToolValidationError{Tool: d.Name, Reason: "'i', 'o', 's' are reserved and cannot be used as tag/param names"}
		}
	}

	if d.Cmd == nil && !d.NOOP {
		return &cosmoserrors.ToolValidationError{Tool: d.Name, Reason: "cmd must be set for non-NOOP tools"}
	}

	return nil
}

// ValidateTags enforces spec §4.1(d): user tags must not reuse i/o/s.
func ValidateTags(toolName string, tags map[string]any) error {
	for k := range tags {
		if reservedParamNames[k] {
			return &cosmoserrors.ToolValidationError{Tool: toolName, Reason: "tag key '" + k + "' collides with reserved cmd parameter"}
		}
	}
	return nil
}

// Registry holds named Tool descriptors.
type Registry struct {
	descriptors map[string]*Descriptor
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Register validates and adds a descriptor to the registry.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.descriptors[d.Name] = d
	return nil
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}
