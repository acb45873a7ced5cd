package tool

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// taskFileMarkerRe matches the `<TaskFile[format] name:path>` marker a
// TaskFile's String() method produces when embedded directly into a
// rendered command (spec §4.1 step 3).
var taskFileMarkerRe = regexp.MustCompile(`<TaskFile\[.+?\] .+?:(.+?)>`)

// RenderCommand produces the full shell script for a Task: the portable
// prelude (spec §4.1, §6 "Shell script contract"), any declared
// environment exports (the `env_variables.py` supplemental feature, see
// SPEC_FULL.md §4), and the Tool's rendered command body.
func RenderCommand(d *Descriptor, task *model.Task, inputFiles map[string][]*model.TaskFile, outputFiles map[string]*model.TaskFile, settings map[string]any) (string, error) {
	body, err := renderBody(d, task, inputFiles, outputFiles, settings)
	if err != nil {
		return "", err
	}
	return prelude(task) + body, nil
}

// prelude returns the portable shell prelude: abort-on-error, export
// OUT, cd into it, then any task-level environment exports.
func prelude(task *model.Task) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "export OUT=%s\n", task.OutputDir)
	b.WriteString("cd $OUT\n")
	for _, k := range sortedKeys(task.Env) {
		fmt.Fprintf(&b, "export %s=%s\n", k, task.Env[k])
	}
	b.WriteString("\n")
	return b.String()
}

// renderBody assembles the cmd parameter mapping (step 1), invokes the
// Tool's Cmd function, then strips TaskFile markers and replaces the
// task's output directory with $OUT (step 3).
func renderBody(d *Descriptor, task *model.Task, inputFiles map[string][]*model.TaskFile, outputFiles map[string]*model.TaskFile, settings map[string]any) (string, error) {
	if d.Cmd == nil {
		return "", fmt.Errorf("tool %s has no cmd function", d.Name)
	}

	params := map[string]any{}
	wanted := make(map[string]bool, len(d.ParamNames))
	for _, p := range d.ParamNames {
		wanted[p] = true
	}
	for k, v := range task.Tags {
		if wanted[k] {
			params[k] = v
		}
	}

	out, err := d.Cmd(CmdContext{I: inputFiles, O: outputFiles, S: settings, Tags: params})
	if err != nil {
		return "", fmt.Errorf("tool %s: cmd: %w", d.Name, err)
	}

	out = taskFileMarkerRe.ReplaceAllString(out, "$1")
	out = strings.ReplaceAll(out, task.OutputDir, "$OUT")
	return stripLines(out), nil
}

// stripLines trims trailing whitespace from each line and collapses
// leading/trailing blank lines, matching the original's strip_lines
// helper.
func stripLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n") + "\n"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
