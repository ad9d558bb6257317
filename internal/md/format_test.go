package md

import (
	"strings"
	"testing"
)

func TestPermalink(t *testing.T) {
	got := Permalink(Thread{GuildID: 100, ID: 555})
	want := "https://discord.com/channels/100/555"
	if got != want {
		t.Errorf("Permalink = %q, want %q", got, want)
	}
}

func TestIssueBodyContainsPermalinkAndTranscript(t *testing.T) {
	thread := Thread{GuildID: 100, ID: 555, Name: "Crash on load"}
	msgs := []Message{
		{Author: "alice", Content: "It crashes right after login."},
		{Author: "bob", Content: "Same here, on Windows."},
	}

	body := IssueBody(thread, msgs)

	if !strings.Contains(body, "https://discord.com/channels/100/555") {
		t.Error("body missing thread permalink")
	}
	if !strings.Contains(body, "## Transcript") {
		t.Error("body missing transcript section")
	}
	if !strings.Contains(body, "**alice**: It crashes right after login.") {
		t.Error("body missing first message")
	}
	if !strings.Contains(body, "**bob**: Same here, on Windows.") {
		t.Error("body missing second message")
	}

	// alice spoke first; her message must come first in the transcript.
	if strings.Index(body, "**alice**") > strings.Index(body, "**bob**") {
		t.Error("transcript not in chronological order")
	}
}

func TestIssueBodySkipsBotAndEmptyMessages(t *testing.T) {
	thread := Thread{GuildID: 100, ID: 555}
	msgs := []Message{
		{Author: "forumsync", Bot: true, Content: "🔒 Issue closed on GitHub"},
		{Author: "alice", Content: "   "},
		{Author: "alice", Content: "Actual report"},
	}

	body := IssueBody(thread, msgs)

	if strings.Contains(body, "Issue closed on GitHub") {
		t.Error("bot announcement leaked into the transcript")
	}
	if strings.Count(body, "**alice**") != 1 {
		t.Errorf("blank message rendered:\n%s", body)
	}
}

func TestIssueBodyWithoutMessagesOmitsTranscript(t *testing.T) {
	body := IssueBody(Thread{GuildID: 100, ID: 555}, nil)
	if strings.Contains(body, "## Transcript") {
		t.Error("empty transcript section rendered")
	}
	if !strings.Contains(body, "Linked Discord thread:") {
		t.Error("permalink header missing")
	}
}

func TestIssueBodyKeepsMultiLineMessagesAttached(t *testing.T) {
	msgs := []Message{
		{Author: "alice", Content: "line one\nline two"},
	}
	body := IssueBody(Thread{GuildID: 1, ID: 2}, msgs)

	if !strings.Contains(body, "**alice**: line one\n> line two") {
		t.Errorf("multi-line message not quoted:\n%s", body)
	}
}

func TestIssueBodyTruncatesLongTranscripts(t *testing.T) {
	long := strings.Repeat("x", 30000)
	msgs := []Message{
		{Author: "alice", Content: long},
		{Author: "bob", Content: long},
		{Author: "carol", Content: long},
	}

	body := IssueBody(Thread{GuildID: 1, ID: 2}, msgs)

	if len(body) > maxBodyLen+100 {
		t.Errorf("body length %d exceeds limit", len(body))
	}
	if !strings.Contains(body, "_(transcript truncated)_") {
		t.Error("truncation marker missing")
	}
}
