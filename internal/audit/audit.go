// Package audit inspects issue/thread pairs without mutating anything.
// It answers "what would the reconciler do" and surfaces the states the
// reconciler deliberately skips, like orphaned threads.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
	"github.com/mboyette/forumsync/internal/sync"
)

// IssueSearcher is the slice of the GitHub client the auditor consumes.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, owner, repo, state string) ([]gh.Issue, error)
}

// ThreadLister is the slice of the Discord client the auditor consumes.
type ThreadLister interface {
	GetThread(ctx context.Context, threadID uint64) (discord.ThreadState, error)
	ListActiveThreads(ctx context.Context, guildID uint64) ([]discord.ThreadState, error)
}

// Drift is one issue/thread pair whose states disagree.
type Drift struct {
	ThreadID    uint64
	ThreadName  string
	IssueNumber int
	IssueURL    string
	IssueOpen   bool
	Locked      bool
	Archived    bool
	UpdatedAt   time.Time
}

// Missing is an issue whose embedded thread no longer resolves.
type Missing struct {
	ThreadID    uint64
	IssueNumber int
	IssueURL    string
}

// Orphan is an active forum thread no issue points at.
type Orphan struct {
	ThreadID uint64
	Name     string
	Locked   bool
}

// Report is the result of one read-only audit pass over a project.
type Report struct {
	Project      string
	OpenIssues   int
	ClosedIssues int
	InSync       int
	Drifted      []Drift
	MissingAll   []Missing
	Orphans      []Orphan
}

// Clean reports whether the project needs no attention.
func (r *Report) Clean() bool {
	return len(r.Drifted) == 0 && len(r.MissingAll) == 0 && len(r.Orphans) == 0
}

// String renders the report for terminal output.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s: %d open / %d closed issues, %d pairs in sync\n",
		r.Project, r.OpenIssues, r.ClosedIssues, r.InSync)

	if r.Clean() {
		b.WriteString("  nothing to do\n")
		return b.String()
	}

	for _, d := range r.Drifted {
		want := "locked"
		if d.IssueOpen {
			want = "unlocked"
		}
		fmt.Fprintf(&b, "  drift: thread %d (%s) should be %s for issue #%d (%s, updated %s)\n",
			d.ThreadID, d.ThreadName, want, d.IssueNumber, d.IssueURL, humanize.Time(d.UpdatedAt))
	}
	for _, m := range r.MissingAll {
		fmt.Fprintf(&b, "  missing: issue #%d (%s) points at deleted thread %d\n",
			m.IssueNumber, m.IssueURL, m.ThreadID)
	}
	for _, o := range r.Orphans {
		fmt.Fprintf(&b, "  orphan: thread %d (%s) has no issue\n", o.ThreadID, o.Name)
	}
	return b.String()
}

// Auditor builds drift reports.
type Auditor struct {
	issues  IssueSearcher
	threads ThreadLister
}

// NewAuditor creates an auditor over the two remote clients.
func NewAuditor(issues IssueSearcher, threads ThreadLister) *Auditor {
	return &Auditor{issues: issues, threads: threads}
}

// Audit runs one read-only pass over a project. Orphan detection only
// sees active threads; archived orphans are invisible to the guild
// listing and are left for manual cleanup.
func (a *Auditor) Audit(ctx context.Context, p *config.Project) (*Report, error) {
	forumID, err := p.ForumID()
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}
	guildID, err := p.GuildID()
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}

	report := &Report{Project: p.DisplayName()}

	openIssues, err := a.issues.SearchIssues(ctx, p.GithubOwner, p.GithubRepo, gh.StateOpen)
	if err != nil {
		return nil, fmt.Errorf("search open issues: %w", err)
	}
	closedIssues, err := a.issues.SearchIssues(ctx, p.GithubOwner, p.GithubRepo, gh.StateClosed)
	if err != nil {
		return nil, fmt.Errorf("search closed issues: %w", err)
	}
	report.OpenIssues = len(openIssues)
	report.ClosedIssues = len(closedIssues)

	linked := make(map[uint64]bool)
	for _, batch := range []struct {
		issues []gh.Issue
		open   bool
	}{{openIssues, true}, {closedIssues, false}} {
		for i := range batch.issues {
			a.auditIssue(ctx, forumID, &batch.issues[i], batch.open, linked, report)
		}
	}

	// Active threads in the forum that no issue title points at.
	active, err := a.threads.ListActiveThreads(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list active threads: %w", err)
	}
	for _, t := range active {
		if t.ParentID != forumID || linked[t.ID] {
			continue
		}
		report.Orphans = append(report.Orphans, Orphan{ThreadID: t.ID, Name: t.Name, Locked: t.Locked})
	}

	return report, nil
}

func (a *Auditor) auditIssue(ctx context.Context, forumID uint64, issue *gh.Issue, issueOpen bool, linked map[uint64]bool, report *Report) {
	threadID, ok := sync.ExtractThreadID(issue.Title)
	if !ok {
		return
	}

	state, err := a.threads.GetThread(ctx, threadID)
	switch {
	case err == nil:
	case discord.IsNotFound(err):
		report.MissingAll = append(report.MissingAll, Missing{
			ThreadID: threadID, IssueNumber: issue.Number, IssueURL: issue.HTMLURL,
		})
		return
	default:
		log.Warn().Err(err).
			Uint64("thread_id", threadID).
			Int("issue", issue.Number).
			Msg("thread fetch failed during audit")
		return
	}

	if state.ParentID != forumID {
		return
	}
	linked[threadID] = true

	var inSync bool
	if issueOpen {
		inSync = !state.Locked && !state.Archived
	} else {
		inSync = state.Locked
	}
	if inSync {
		report.InSync++
		return
	}
	report.Drifted = append(report.Drifted, Drift{
		ThreadID:    threadID,
		ThreadName:  state.Name,
		IssueNumber: issue.Number,
		IssueURL:    issue.HTMLURL,
		IssueOpen:   issueOpen,
		Locked:      state.Locked,
		Archived:    state.Archived,
		UpdatedAt:   issue.UpdatedAt,
	})
}
