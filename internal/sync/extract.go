// Package sync implements the reconciliation engine that keeps Discord
// forum threads in step with their GitHub issues. GitHub is authoritative;
// Discord follows. The only link between the two systems is a thread id
// embedded in the issue title, re-derived on every pass.
package sync

import (
	"fmt"
	"regexp"
	"strconv"
)

// threadIDPattern matches the embedded link token: a run of digits in
// square brackets, e.g. "Crash on load [1234567890]".
var threadIDPattern = regexp.MustCompile(`\[(\d+)\]`)

// ExtractThreadID returns the thread id embedded in an issue title.
// The first bracketed digit run wins. Titles without a token, or whose
// token is not a positive integer that fits in 64 bits, report false;
// that is the normal outcome for issues this system did not create.
func ExtractThreadID(title string) (uint64, bool) {
	m := threadIDPattern.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}

	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil || id == 0 {
		// Snowflake ids are never zero; a [0] token is garbage, not a link.
		return 0, false
	}
	return id, true
}

// EmbedThreadID appends the link token to a thread name, producing the
// issue title that ExtractThreadID will later resolve.
func EmbedThreadID(name string, threadID uint64) string {
	return fmt.Sprintf("%s [%d]", name, threadID)
}
