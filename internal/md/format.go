// Package md builds GitHub issue bodies from Discord forum threads.
package md

import (
	"fmt"
	"strings"
)

// maxBodyLen keeps generated bodies under GitHub's 65536-character issue
// body limit with headroom for the footer.
const maxBodyLen = 60000

// Thread identifies the forum thread an issue body is generated from.
type Thread struct {
	GuildID uint64
	ID      uint64
	Name    string
}

// Message is one line of the thread transcript.
type Message struct {
	Author  string
	Bot     bool
	Content string
}

// Permalink returns the canonical Discord URL for the thread.
func Permalink(t Thread) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d", t.GuildID, t.ID)
}

// IssueBody renders the issue body for a linked thread: a permalink
// header followed by a transcript of the human messages, oldest first.
// Bot messages (including this system's own announcements) are dropped
// so that re-linking a thread never quotes the reconciler back at
// itself.
func IssueBody(t Thread, msgs []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Linked Discord thread: %s\n", Permalink(t))

	transcript := renderTranscript(msgs)
	if transcript != "" {
		b.WriteString("\n## Transcript\n\n")
		b.WriteString(transcript)
	}

	body := b.String()
	if len(body) > maxBodyLen {
		cut := maxBodyLen
		// Don't split a UTF-8 sequence.
		for cut > 0 && body[cut]&0xC0 == 0x80 {
			cut--
		}
		body = body[:cut] + "\n\n_(transcript truncated)_\n"
	}
	return body
}

func renderTranscript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Bot || strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n", m.Author, quoteBlock(m.Content))
	}
	return b.String()
}

// quoteBlock keeps multi-line messages attached to their author line.
func quoteBlock(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	return strings.Join(lines, "\n> ")
}
