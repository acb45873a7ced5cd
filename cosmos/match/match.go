// Package match implements the (name, format) matching rule shared by
// the Resolver (spec §4.2) and Tool chaining (spec §4.3): a blank name
// or format is a wildcard for that field, and format == "*" matches
// every file regardless of name.
package match

import "github.com/LPM-HMS/cosmos2/cosmos/model"

// Matches reports whether tf satisfies an abstract (name, format) pattern.
func Matches(tf *model.TaskFile, name, format string) bool {
	if format == "*" {
		return true
	}
	if name != "" && tf.Name != name {
		return false
	}
	if format != "" && tf.Format != format {
		return false
	}
	return true
}

// Find returns every file in files matching (name, format), in order.
func Find(files []*model.TaskFile, name, format string) []*model.TaskFile {
	var out []*model.TaskFile
	for _, tf := range files {
		if Matches(tf, name, format) {
			out = append(out, tf)
		}
	}
	return out
}

// FindOne returns the first file matching (name, format), removing it
// from the candidate list via the returned remaining slice. Used by the
// chain partitioner, which must consume each output exactly once
// (spec §4.3 "first match, removed on assignment").
func FindOne(files []*model.TaskFile, name, format string) (*model.TaskFile, []*model.TaskFile, bool) {
	for idx, tf := range files {
		if Matches(tf, name, format) {
			remaining := make([]*model.TaskFile, 0, len(files)-1)
			remaining = append(remaining, files[:idx]...)
			remaining = append(remaining, files[idx+1:]...)
			return tf, remaining, true
		}
	}
	return nil, files, false
}
