package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
)

type fakeIssues struct {
	issues []gh.Issue
}

func (f *fakeIssues) SearchIssues(ctx context.Context, owner, repo, state string) ([]gh.Issue, error) {
	var out []gh.Issue
	for _, issue := range f.issues {
		if issue.State == state {
			out = append(out, issue)
		}
	}
	return out, nil
}

type fakeThreads struct {
	threads  map[uint64]discord.ThreadState
	archived []uint64
	failArch map[uint64]error
}

func newFakeThreads() *fakeThreads {
	return &fakeThreads{
		threads:  make(map[uint64]discord.ThreadState),
		failArch: make(map[uint64]error),
	}
}

func (f *fakeThreads) add(id, parentID uint64, name string, locked, archived bool) {
	f.threads[id] = discord.ThreadState{ID: id, Name: name, ParentID: parentID, Locked: locked, Archived: archived}
}

func (f *fakeThreads) GetThread(ctx context.Context, threadID uint64) (discord.ThreadState, error) {
	t, ok := f.threads[threadID]
	if !ok {
		return discord.ThreadState{}, fmt.Errorf("%w: thread %d", discord.ErrThreadNotFound, threadID)
	}
	return t, nil
}

func (f *fakeThreads) ListActiveThreads(ctx context.Context, guildID uint64) ([]discord.ThreadState, error) {
	var out []discord.ThreadState
	for _, t := range f.threads {
		if !t.Archived {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeThreads) ArchiveThread(ctx context.Context, threadID uint64, reason string) error {
	if err := f.failArch[threadID]; err != nil {
		return err
	}
	t, ok := f.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: thread %d", discord.ErrThreadNotFound, threadID)
	}
	t.Archived = true
	f.threads[threadID] = t
	f.archived = append(f.archived, threadID)
	return nil
}

func auditProject() *config.Project {
	return &config.Project{
		Name:           "widget",
		DiscordGuildID: "100",
		DiscordForumID: "200",
		GithubOwner:    "acme",
		GithubRepo:     "widget",
	}
}

func TestAuditCleanProject(t *testing.T) {
	issues := &fakeIssues{issues: []gh.Issue{
		{Number: 1, Title: "Open pair [111]", State: gh.StateOpen},
		{Number: 2, Title: "Closed pair [222]", State: gh.StateClosed},
	}}
	threads := newFakeThreads()
	threads.add(111, 200, "Open pair", false, false)
	threads.add(222, 200, "Closed pair", true, false)

	report, err := NewAuditor(issues, threads).Audit(context.Background(), auditProject())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !report.Clean() {
		t.Errorf("report not clean: %+v", report)
	}
	if report.InSync != 2 {
		t.Errorf("InSync = %d, want 2", report.InSync)
	}
	if !strings.Contains(report.String(), "nothing to do") {
		t.Errorf("rendering = %q", report.String())
	}
}

func TestAuditReportsDriftBothDirections(t *testing.T) {
	issues := &fakeIssues{issues: []gh.Issue{
		{Number: 1, Title: "Should be locked [111]", State: gh.StateClosed, UpdatedAt: time.Now().Add(-48 * time.Hour)},
		{Number: 2, Title: "Should be unlocked [222]", State: gh.StateOpen},
	}}
	threads := newFakeThreads()
	threads.add(111, 200, "Should be locked", false, false)
	threads.add(222, 200, "Should be unlocked", true, false)

	report, err := NewAuditor(issues, threads).Audit(context.Background(), auditProject())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(report.Drifted) != 2 {
		t.Fatalf("Drifted = %+v, want 2 entries", report.Drifted)
	}

	rendered := report.String()
	if !strings.Contains(rendered, "should be locked") || !strings.Contains(rendered, "should be unlocked") {
		t.Errorf("rendering = %q", rendered)
	}
	if !strings.Contains(rendered, "ago") {
		t.Errorf("rendering lacks humanized age: %q", rendered)
	}
}

func TestAuditReportsMissingAndOrphans(t *testing.T) {
	issues := &fakeIssues{issues: []gh.Issue{
		{Number: 1, Title: "Deleted thread [111]", State: gh.StateClosed},
	}}
	threads := newFakeThreads()
	threads.add(333, 200, "Never linked", false, false)
	threads.add(444, 999, "Other forum", false, false)

	report, err := NewAuditor(issues, threads).Audit(context.Background(), auditProject())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(report.MissingAll) != 1 || report.MissingAll[0].ThreadID != 111 {
		t.Errorf("MissingAll = %+v", report.MissingAll)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].ThreadID != 333 {
		t.Errorf("Orphans = %+v, other-forum threads must not appear", report.Orphans)
	}
}

func TestAuditArchivedClosedPairIsInSync(t *testing.T) {
	// Locked and archived satisfies a closed issue.
	issues := &fakeIssues{issues: []gh.Issue{
		{Number: 1, Title: "Done [111]", State: gh.StateClosed},
	}}
	threads := newFakeThreads()
	threads.add(111, 200, "Done", true, true)

	report, err := NewAuditor(issues, threads).Audit(context.Background(), auditProject())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.InSync != 1 || len(report.Drifted) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestArchiveResolvedSweepsLockedThreads(t *testing.T) {
	threads := newFakeThreads()
	threads.add(111, 200, "[BUG] Resolved", true, false)
	threads.add(222, 200, "[BUG] Still open", false, false)
	threads.add(333, 999, "[BUG] Other forum, locked", true, false)
	threads.add(444, 200, "Locked by a moderator", true, false)

	n, err := ArchiveResolved(context.Background(), threads, auditProject())
	if err != nil {
		t.Fatalf("ArchiveResolved: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d threads, want 1", n)
	}
	if !threads.threads[111].Archived {
		t.Error("resolved thread not archived")
	}
	if threads.threads[222].Archived || threads.threads[333].Archived {
		t.Error("sweep touched a thread it should not")
	}
	// No category prefix means the sweep does not own the thread.
	if threads.threads[444].Archived {
		t.Error("sweep archived an unmanaged thread")
	}
}

func TestArchiveResolvedContinuesPastTransientFailure(t *testing.T) {
	threads := newFakeThreads()
	threads.add(111, 200, "[BUG] Flaky", true, false)
	threads.add(222, 200, "[BUG] Fine", true, false)
	threads.failArch[111] = &discord.APIError{StatusCode: 503, Message: "hiccup"}

	n, err := ArchiveResolved(context.Background(), threads, auditProject())
	if err != nil {
		t.Fatalf("transient failure must not stop the sweep: %v", err)
	}
	if n != 1 || !threads.threads[222].Archived {
		t.Errorf("archived %d, thread 222 archived=%v", n, threads.threads[222].Archived)
	}
}

func TestArchiveResolvedStopsOnFatal(t *testing.T) {
	threads := newFakeThreads()
	threads.add(111, 200, "[BUG] Bad creds", true, false)
	threads.failArch[111] = &discord.APIError{StatusCode: 401, Message: "invalid token"}

	_, err := ArchiveResolved(context.Background(), threads, auditProject())
	if !discord.IsFatal(err) {
		t.Errorf("err = %v, want fatal classification", err)
	}
}
