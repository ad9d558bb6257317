package audit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/link"
)

// ThreadArchiver is the slice of the Discord client the sweep consumes.
type ThreadArchiver interface {
	ListActiveThreads(ctx context.Context, guildID uint64) ([]discord.ThreadState, error)
	ArchiveThread(ctx context.Context, threadID uint64, reason string) error
}

// ArchiveResolved archives the forum's locked-but-active threads whose
// names carry a managed category prefix. The reconciler locks a thread
// when its issue closes but leaves archiving to this sweep, so the
// closing announcement lands while the thread is still active; the
// prefix check keeps manually locked off-topic threads out of the
// sweep. Returns the number of threads archived.
func ArchiveResolved(ctx context.Context, threads ThreadArchiver, p *config.Project) (int, error) {
	forumID, err := p.ForumID()
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}
	guildID, err := p.GuildID()
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", p.DisplayName(), err)
	}

	active, err := threads.ListActiveThreads(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("list active threads: %w", err)
	}

	archived := 0
	for _, t := range active {
		if t.ParentID != forumID || !t.Locked || t.Archived {
			continue
		}
		if !link.HasManagedPrefix(t.Name) {
			continue
		}
		if err := threads.ArchiveThread(ctx, t.ID, "resolved thread swept to archive"); err != nil {
			if discord.IsFatal(err) {
				return archived, fmt.Errorf("archive thread %d: %w", t.ID, err)
			}
			log.Warn().Err(err).
				Uint64("thread_id", t.ID).
				Msg("archive failed, leaving thread for the next sweep")
			continue
		}
		log.Info().
			Uint64("thread_id", t.ID).
			Str("name", t.Name).
			Msg("resolved thread archived")
		archived++
	}
	return archived, nil
}
