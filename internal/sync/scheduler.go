package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
)

// Scheduler drives one reconciliation loop per enabled project. Projects
// run concurrently and share nothing but the thread-safe API clients;
// within a project, passes run strictly one at a time.
type Scheduler struct {
	engine *Engine
	cfg    *config.Config
}

// NewScheduler creates a scheduler for every project in cfg.
func NewScheduler(engine *Engine, cfg *config.Config) *Scheduler {
	return &Scheduler{engine: engine, cfg: cfg}
}

// Run starts all project loops and blocks until ctx is canceled and
// every in-flight pass has finished. No new pass starts after
// cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	var wg gosync.WaitGroup
	started := 0

	for i := range s.cfg.Projects {
		p := &s.cfg.Projects[i]
		if !s.cfg.SyncEnabled(p) {
			log.Info().Str("project", p.DisplayName()).Msg("sync disabled, skipping project")
			continue
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runProject(ctx, p)
		}()
	}

	if started == 0 {
		log.Info().Msg("sync disabled for all projects")
		return
	}

	log.Info().Int("projects", started).Msg("scheduler started")
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// runProject loops one project until shutdown, or until a fatal error
// makes further ticks pointless. Other projects are unaffected either way.
func (s *Scheduler) runProject(ctx context.Context, p *config.Project) {
	interval := s.cfg.SyncInterval(p)
	log.Info().
		Str("project", p.DisplayName()).
		Dur("interval", interval).
		Msg("reconciliation loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := s.engine.SyncProject(ctx, p)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Shutdown raced a pass; the select below exits the loop.
		case gh.IsFatal(err) || discord.IsFatal(err):
			log.Error().Err(err).
				Str("project", p.DisplayName()).
				Msg("fatal error, stopping this project's loop")
			return
		default:
			log.Warn().Err(err).
				Str("project", p.DisplayName()).
				Msg("reconciliation pass failed, retrying on next tick")
		}

		select {
		case <-ctx.Done():
			log.Info().Str("project", p.DisplayName()).Msg("reconciliation loop stopped")
			return
		case <-ticker.C:
		}
	}
}
