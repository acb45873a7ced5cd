package tool

import "fmt"

// NewShell builds a generic Descriptor whose command body is the literal
// string carried in a Task's settings under the "command" key,
// interpolated against `{}`-style placeholders the same way output
// basenames are (spec §4.1 step 2). It exists so a Recipe loaded purely
// from YAML (cosmos/recipe.LoadYAML) has at least one usable Tool
// without requiring a Go-side Cmd closure for every stage; declaring a
// real Tool with a native Cmd function remains the normal path for
// anything beyond a single shell invocation.
func NewShell(name string, inputs []AbstractInputFile, outputs []AbstractOutputFile) *Descriptor {
	return &Descriptor{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Cmd: func(ctx CmdContext) (string, error) {
			raw, ok := ctx.S["command"]
			if !ok {
				return "", fmt.Errorf("shell tool %q: settings missing \"command\"", name)
			}
			command, ok := raw.(string)
			if !ok {
				return "", fmt.Errorf("shell tool %q: \"command\" setting must be a string", name)
			}
			env := map[string]any{"i": ctx.I, "o": ctx.O, "s": ctx.S}
			for k, v := range ctx.Tags {
				env[k] = v
			}
			return interpolate(command, env)
		},
	}
}
