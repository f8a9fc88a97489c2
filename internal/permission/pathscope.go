package permission

import "github.com/bmatcuk/doublestar/v4"

// toolPathKeys lists the input fields edit/write tools carry the target path
// under, in the order to try them.
var toolPathKeys = []string{"file_path", "path", "notebook_path"}

// pathFromInput extracts the target path from a tool call's input, if any.
func pathFromInput(input map[string]any) (string, bool) {
	for _, key := range toolPathKeys {
		if v, ok := input[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// MatchesAutoApproveGlob reports whether an edit/write tool call's target
// path matches one of the project's configured auto-approve globs
// (§4.6.1). Patterns that fail to compile never match; callers configure
// these, not the agent.
func MatchesAutoApproveGlob(input map[string]any, patterns []string) bool {
	path, ok := pathFromInput(input)
	if !ok {
		return false
	}
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
