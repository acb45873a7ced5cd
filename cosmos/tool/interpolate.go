package tool

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
)

// placeholderRe matches `{expression}` placeholders in output name/basename
// templates (spec §4.1 step 2).
var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// interpolate evaluates each `{expr}` placeholder in tmpl as an
// expr-lang expression against env (tag values, `name`, `format`, and
// elements of `i`), substituting its string form. A plain `{tagname}`
// placeholder is just a variable lookup; the expr-lang evaluator also
// allows richer expressions (e.g. `{chrom[3:]}`-style slicing or
// conditionals) without extending this substitution mechanism.
// Interpolate exposes the placeholder-substitution rule used for output
// name/basename templates (spec §4.1 step 2) to callers outside this
// package, such as the Graph Builder's per-task output-directory template.
func Interpolate(tmpl string, env map[string]any) (string, error) {
	return interpolate(tmpl, env)
}

func interpolate(tmpl string, env map[string]any) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		src := match[1 : len(match)-1]
		program, err := expr.Compile(src, expr.Env(env))
		if err != nil {
			firstErr = fmt.Errorf("compile placeholder %q: %w", match, err)
			return match
		}
		result, err := expr.Run(program, env)
		if err != nil {
			firstErr = fmt.Errorf("evaluate placeholder %q: %w", match, err)
			return match
		}
		return fmt.Sprint(result)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
