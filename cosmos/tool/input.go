package tool

import (
	"fmt"
	"os"
	"path/filepath"
)

// InputFile describes one pre-existing on-disk file declared by an Input
// or Inputs tool (spec §4.1 "Input tools").
type InputFile struct {
	Name   string
	Format string
	Path   string
}

// InputDescriptor is the Descriptor for a NOOP Input/Inputs tool, plus
// the pre-existing files it loads.
type InputDescriptor struct {
	Descriptor
	Files []InputFile
}

// NewInput declares a single pre-existing file by (name, format, path).
// The path is resolved to an absolute path; the file must already exist.
func NewInput(name, format, path string) (*InputDescriptor, error) {
	return NewInputs([]InputFile{{Name: name, Format: format, Path: path}})
}

// NewInputs declares a list of pre-existing files. All resulting output
// TaskFiles have persist=true (spec §4.1).
func NewInputs(files []InputFile) (*InputDescriptor, error) {
	resolved := make([]InputFile, len(files))
	for i, f := range files {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve input path %q: %w", f.Path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("input path %q does not exist: %w", abs, err)
		}
		resolved[i] = InputFile{Name: f.Name, Format: f.Format, Path: abs}
	}

	d := &InputDescriptor{
		Descriptor: Descriptor{
			Name:        "Load_Input_Files",
			NOOP:        true,
			MustSucceed: true,
			Persist:     true,
		},
		Files: resolved,
	}
	return d, nil
}
