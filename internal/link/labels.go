// Package link creates and refreshes GitHub issues from Discord forum
// threads. The embedded thread-id token written here is what the
// reconciler later resolves on every pass.
package link

import "strings"

// managedPrefixes maps the forum's thread-title conventions to GitHub
// labels. Threads without one of these prefixes are still linkable;
// they just get no category label.
var managedPrefixes = map[string]string{
	"[BUG]":      "bug",
	"[FEATURE]":  "enhancement",
	"[QUESTION]": "question",
	"[FEEDBACK]": "feedback",
}

// HasManagedPrefix reports whether a thread name starts with one of the
// forum's category prefixes.
func HasManagedPrefix(name string) bool {
	_, ok := prefixOf(name)
	return ok
}

// LabelsFor returns the GitHub labels derived from a thread name's
// category prefix, or nil when the name carries none.
func LabelsFor(name string) []string {
	label, ok := prefixOf(name)
	if !ok {
		return nil
	}
	return []string{label}
}

func prefixOf(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	for prefix, label := range managedPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return label, true
		}
	}
	return "", false
}
