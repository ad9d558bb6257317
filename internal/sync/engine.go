package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
)

// IssueSearcher is the slice of the GitHub client the engine consumes.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, owner, repo, state string) ([]gh.Issue, error)
}

// ThreadService is the slice of the Discord client the engine consumes.
type ThreadService interface {
	GetThread(ctx context.Context, threadID uint64) (discord.ThreadState, error)
	LockThread(ctx context.Context, threadID uint64, reason string) error
	UnlockThread(ctx context.Context, threadID uint64, reason string) error
	SendMessage(ctx context.Context, threadID uint64, content string) error
	AddReaction(ctx context.Context, channelID, messageID uint64, emoji string) error
}

// Engine reconciles one project at a time. It holds no state between
// passes; every pass re-derives the issue↔thread mapping from the remote
// systems. Safe for concurrent use by multiple project loops.
type Engine struct {
	issues  IssueSearcher
	threads ThreadService
}

// NewEngine creates a reconciliation engine over the two remote clients.
func NewEngine(issues IssueSearcher, threads ThreadService) *Engine {
	return &Engine{issues: issues, threads: threads}
}

// TickStats summarizes one reconciliation pass for observability.
type TickStats struct {
	OpenIssues   int // open issues returned by search
	ClosedIssues int // closed issues returned by search
	NoThreadID   int // issues without an embedded thread id
	Foreign      int // threads that belong to a different forum
	InSync       int // pairs already converged
	Corrected    int // pairs whose full intent chain applied
	Missing      int // threads deleted or inaccessible
	Failed       int // transient fetch failures or broken intent chains
	Applied      int // individual intents applied
}

// SyncProject runs one reconciliation pass. GitHub issue state drives
// Discord thread state, never the reverse. The returned error is non-nil
// only when the whole pass could not run (search failure) or when a
// fatal credential problem surfaced; per-issue failures are logged,
// counted and skipped.
func (e *Engine) SyncProject(ctx context.Context, p *config.Project) (TickStats, error) {
	var stats TickStats

	forumID, err := p.ForumID()
	if err != nil {
		return stats, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}

	logger := log.With().
		Str("project", p.DisplayName()).
		Str("tick", uuid.NewString()[:8]).
		Logger()
	logger.Debug().Msg("reconciliation pass started")

	// Two independent searches keep the query trivial and the open and
	// closed paths separately testable.
	openIssues, err := e.issues.SearchIssues(ctx, p.GithubOwner, p.GithubRepo, gh.StateOpen)
	if err != nil {
		return stats, fmt.Errorf("search open issues: %w", err)
	}
	closedIssues, err := e.issues.SearchIssues(ctx, p.GithubOwner, p.GithubRepo, gh.StateClosed)
	if err != nil {
		return stats, fmt.Errorf("search closed issues: %w", err)
	}

	stats.OpenIssues = len(openIssues)
	stats.ClosedIssues = len(closedIssues)

	// Issues are handled strictly in search-result order. Duplicate
	// embedded ids are processed independently; the mutations are
	// idempotent, so the last one wins and the pair converges.
	for i := range openIssues {
		if err := e.reconcileIssue(ctx, &logger, forumID, &openIssues[i], true, &stats); err != nil {
			return stats, err
		}
	}
	for i := range closedIssues {
		if err := e.reconcileIssue(ctx, &logger, forumID, &closedIssues[i], false, &stats); err != nil {
			return stats, err
		}
	}

	evt := logger.Debug()
	if stats.Corrected > 0 || stats.Failed > 0 {
		evt = logger.Info()
	}
	evt.Int("open", stats.OpenIssues).
		Int("closed", stats.ClosedIssues).
		Int("in_sync", stats.InSync).
		Int("corrected", stats.Corrected).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Int("intents_applied", stats.Applied).
		Msg("reconciliation pass finished")

	return stats, nil
}

// reconcileIssue drives one issue/thread pair toward convergence. Only
// fatal credential errors propagate; everything else is contained here.
func (e *Engine) reconcileIssue(ctx context.Context, logger *zerolog.Logger, forumID uint64, issue *gh.Issue, issueOpen bool, stats *TickStats) error {
	threadID, ok := ExtractThreadID(issue.Title)
	if !ok {
		// Normal for issues created outside this system.
		stats.NoThreadID++
		return nil
	}

	state, err := e.threads.GetThread(ctx, threadID)
	switch {
	case err == nil:
	case discord.IsNotFound(err):
		logger.Warn().
			Uint64("thread_id", threadID).
			Int("issue", issue.Number).
			Str("issue_url", issue.HTMLURL).
			Msg("thread missing, skipping issue")
		stats.Missing++
		return nil
	case discord.IsFatal(err):
		return fmt.Errorf("fetch thread %d: %w", threadID, err)
	default:
		logger.Warn().Err(err).
			Uint64("thread_id", threadID).
			Int("issue", issue.Number).
			Msg("thread fetch failed, will retry next pass")
		stats.Failed++
		return nil
	}

	// A thread in some other forum is not this project's to touch, even
	// if a repo title happens to embed its id.
	if state.ParentID != forumID {
		logger.Debug().
			Uint64("thread_id", threadID).
			Uint64("parent_id", state.ParentID).
			Msg("thread belongs to a different forum, skipping")
		stats.Foreign++
		return nil
	}

	issueRef := fmt.Sprintf("#%d", issue.Number)
	if issue.HTMLURL != "" {
		issueRef = issue.HTMLURL
	}
	intents := planIntents(state, issueOpen, issueRef)
	if len(intents) == 0 {
		stats.InSync++
		return nil
	}

	applied, err := e.applyIntents(ctx, logger, intents)
	stats.Applied += applied
	if err != nil {
		if discord.IsFatal(err) {
			return err
		}
		stats.Failed++
		return nil
	}

	stats.Corrected++
	logger.Info().
		Uint64("thread_id", threadID).
		Int("issue", issue.Number).
		Bool("issue_open", issueOpen).
		Int("intents", applied).
		Msg("thread state corrected")
	return nil
}

// applyIntents executes one thread's intent chain in order. The chain
// stops at the first failure — the remainder would be announcing a
// transition that did not happen — but the failure never spreads to
// other threads. Nothing is retried here; the next pass re-derives
// whatever still needs doing.
func (e *Engine) applyIntents(ctx context.Context, logger *zerolog.Logger, intents []Intent) (int, error) {
	for i, intent := range intents {
		if err := e.applyIntent(ctx, intent); err != nil {
			logger.Warn().Err(err).
				Uint64("thread_id", intent.ThreadID).
				Stringer("kind", intent.Kind).
				Int("applied", i).
				Int("abandoned", len(intents)-i).
				Msg("intent failed, abandoning rest of chain")
			return i, err
		}
		logger.Debug().
			Uint64("thread_id", intent.ThreadID).
			Stringer("kind", intent.Kind).
			Msg("intent applied")
	}
	return len(intents), nil
}

func (e *Engine) applyIntent(ctx context.Context, intent Intent) error {
	switch intent.Kind {
	case IntentLock:
		return e.threads.LockThread(ctx, intent.ThreadID, intent.Reason)
	case IntentUnlock:
		return e.threads.UnlockThread(ctx, intent.ThreadID, intent.Reason)
	case IntentAnnounce:
		return e.threads.SendMessage(ctx, intent.ThreadID, intent.Content)
	case IntentReact:
		// The starter message of a forum thread shares the thread's id.
		return e.threads.AddReaction(ctx, intent.ThreadID, intent.ThreadID, intent.Content)
	default:
		return fmt.Errorf("unknown intent kind %d", intent.Kind)
	}
}
