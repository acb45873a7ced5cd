package tool

import (
	"fmt"
	"path/filepath"

	"github.com/LPM-HMS/cosmos2/cosmos/model"
)

// GenerateOutputFiles materializes the concrete output TaskFiles for a
// freshly built Task (spec §4.1 step 2, executed at graph-build time,
// before any command is rendered). inputs is the already-resolved input
// TaskFileDict-equivalent (input name -> ordered concrete TaskFiles);
// idGen allocates a new TaskFile ID.
func GenerateOutputFiles(d *Descriptor, task *model.Task, inputs map[string][]*model.TaskFile, idGen func() string) ([]*model.TaskFile, error) {
	env := map[string]any{"i": inputs}
	for k, v := range task.Tags {
		env[k] = v
	}

	files := make([]*model.TaskFile, 0, len(d.Outputs))
	for _, out := range d.Outputs {
		name, err := interpolate(out.Name, env)
		if err != nil {
			return nil, fmt.Errorf("tool %s: interpolate output name %q: %w", d.Name, out.Name, err)
		}

		basenameTmpl := out.Basename
		if basenameTmpl == "" {
			basenameTmpl = fmt.Sprintf("%s.%s", name, out.Format)
		}
		nameEnv := map[string]any{"name": name, "format": out.Format, "i": inputs}
		for k, v := range task.Tags {
			nameEnv[k] = v
		}
		basename, err := interpolate(basenameTmpl, nameEnv)
		if err != nil {
			return nil, fmt.Errorf("tool %s: interpolate output basename %q: %w", d.Name, basenameTmpl, err)
		}

		files = append(files, &model.TaskFile{
			ID:             idGen(),
			Name:           name,
			Format:         out.Format,
			Path:           filepath.Join(task.OutputDir, basename),
			Persist:        d.Persist,
			ProducerTaskID: task.ID,
		})
	}
	return files, nil
}

// GenerateInputTaskFiles materializes the output TaskFiles of an
// Input/Inputs NOOP task: one TaskFile per declared InputFile, with the
// user-supplied absolute path used verbatim (spec §4.1, invariant 1 in
// spec §8: these paths must already exist on disk rather than living
// under the task's own output directory).
func GenerateInputTaskFiles(d *InputDescriptor, task *model.Task, idGen func() string) []*model.TaskFile {
	files := make([]*model.TaskFile, 0, len(d.Files))
	for _, f := range d.Files {
		files = append(files, &model.TaskFile{
			ID:             idGen(),
			Name:           f.Name,
			Format:         f.Format,
			Path:           f.Path,
			Persist:        true,
			ProducerTaskID: task.ID,
		})
	}
	return files
}
