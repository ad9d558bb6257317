package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
	"github.com/mboyette/forumsync/internal/md"
	"github.com/mboyette/forumsync/internal/sync"
)

// ErrWrongForum is returned when the requested thread exists but lives
// outside the project's forum channel.
var ErrWrongForum = errors.New("thread does not belong to the project forum")

// messageLimit bounds the transcript fetched for an issue body.
const messageLimit = 50

// IssueService is the slice of the GitHub client the linker consumes.
type IssueService interface {
	SearchIssues(ctx context.Context, owner, repo, state string) ([]gh.Issue, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*gh.Issue, error)
	UpdateIssue(ctx context.Context, owner, repo string, number int, title, body *string) (*gh.Issue, error)
}

// ThreadReader is the slice of the Discord client the linker consumes.
type ThreadReader interface {
	GetThread(ctx context.Context, threadID uint64) (discord.ThreadState, error)
	GetMessages(ctx context.Context, threadID uint64, limit int) ([]discord.Message, error)
}

// Linker turns forum threads into GitHub issues.
type Linker struct {
	issues  IssueService
	threads ThreadReader
}

// NewLinker creates a linker over the two remote clients.
func NewLinker(issues IssueService, threads ThreadReader) *Linker {
	return &Linker{issues: issues, threads: threads}
}

// Link creates a GitHub issue for the thread, or refreshes the existing
// one when a previous run already embedded this thread's id in an issue
// title. The returned bool reports whether a new issue was created.
func (l *Linker) Link(ctx context.Context, p *config.Project, threadID uint64) (*gh.Issue, bool, error) {
	forumID, err := p.ForumID()
	if err != nil {
		return nil, false, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}
	guildID, err := p.GuildID()
	if err != nil {
		return nil, false, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}

	state, err := l.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch thread %d: %w", threadID, err)
	}
	if state.ParentID != forumID {
		return nil, false, fmt.Errorf("thread %d in channel %d: %w", threadID, state.ParentID, ErrWrongForum)
	}

	body, err := l.buildBody(ctx, guildID, state)
	if err != nil {
		return nil, false, err
	}
	title := sync.EmbedThreadID(state.Name, threadID)

	existing, err := l.findExisting(ctx, p, threadID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		updated, err := l.issues.UpdateIssue(ctx, p.GithubOwner, p.GithubRepo, existing.Number, &title, &body)
		if err != nil {
			return nil, false, fmt.Errorf("update issue #%d: %w", existing.Number, err)
		}
		log.Info().
			Str("project", p.DisplayName()).
			Uint64("thread_id", threadID).
			Int("issue", existing.Number).
			Msg("existing issue refreshed")
		return updated, false, nil
	}

	created, err := l.issues.CreateIssue(ctx, p.GithubOwner, p.GithubRepo, title, body, LabelsFor(state.Name))
	if err != nil {
		return nil, false, fmt.Errorf("create issue: %w", err)
	}
	log.Info().
		Str("project", p.DisplayName()).
		Uint64("thread_id", threadID).
		Int("issue", created.Number).
		Str("url", created.HTMLURL).
		Msg("issue created for thread")
	return created, true, nil
}

// buildBody renders the issue body from the thread transcript. The API
// returns messages newest first; the transcript reads oldest first.
func (l *Linker) buildBody(ctx context.Context, guildID uint64, state discord.ThreadState) (string, error) {
	raw, err := l.threads.GetMessages(ctx, state.ID, messageLimit)
	if err != nil {
		return "", fmt.Errorf("fetch thread %d messages: %w", state.ID, err)
	}

	msgs := make([]md.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msgs = append(msgs, md.Message{
			Author:  raw[i].Author.Username,
			Bot:     raw[i].Author.Bot,
			Content: raw[i].Content,
		})
	}

	thread := md.Thread{GuildID: guildID, ID: state.ID, Name: state.Name}
	return md.IssueBody(thread, msgs), nil
}

// findExisting scans open then closed issues for one whose title embeds
// the thread id. There is no stored mapping to consult; the title token
// is the only link.
func (l *Linker) findExisting(ctx context.Context, p *config.Project, threadID uint64) (*gh.Issue, error) {
	for _, issueState := range []string{gh.StateOpen, gh.StateClosed} {
		issues, err := l.issues.SearchIssues(ctx, p.GithubOwner, p.GithubRepo, issueState)
		if err != nil {
			return nil, fmt.Errorf("search %s issues: %w", issueState, err)
		}
		for i := range issues {
			if id, ok := sync.ExtractThreadID(issues[i].Title); ok && id == threadID {
				return &issues[i], nil
			}
		}
	}
	return nil, nil
}
