// Package main provides the CLI entrypoint for forumsync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mboyette/forumsync/internal/audit"
	"github.com/mboyette/forumsync/internal/config"
	"github.com/mboyette/forumsync/internal/discord"
	"github.com/mboyette/forumsync/internal/gh"
	"github.com/mboyette/forumsync/internal/link"
	"github.com/mboyette/forumsync/internal/logger"
	"github.com/mboyette/forumsync/internal/sync"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "forumsync",
	Short: "Keep Discord forum threads in sync with GitHub issues",
	Long: `forumsync reconciles Discord forum threads against their GitHub
issues. Issues carry a thread id embedded in their title; on every pass
the daemon re-derives the mapping from that token, locks threads whose
issues closed, and unlocks threads whose issues reopened.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation daemon",
	Long: `Run one reconciliation loop per configured project until
interrupted. GitHub is authoritative; Discord threads follow.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and exit",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

var auditCmd = &cobra.Command{
	Use:   "audit [project]",
	Short: "Report drift without changing anything",
	Long: `Compare every issue/thread pair and print what the daemon would
correct, plus the states it skips: issues pointing at deleted threads
and forum threads no issue points at.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

var archiveCmd = &cobra.Command{
	Use:   "archive [project]",
	Short: "Archive resolved (locked) forum threads",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runArchive,
}

var linkCmd = &cobra.Command{
	Use:   "link <project> <thread-id>",
	Short: "Create or refresh the GitHub issue for a forum thread",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(linkCmd)
}

// setup loads the config, wires logging, and builds both API clients.
func setup() (*config.Config, *gh.Client, *discord.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.LogFile != "" {
		err = logger.SetupWithFile(cfg.LogLevel, os.Stderr, cfg.LogFile)
	} else {
		err = logger.Setup(cfg.LogLevel, os.Stderr)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	ghToken, err := gh.GetToken()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("GitHub token: %w\nSet GITHUB_TOKEN or run 'gh auth login'", err)
	}
	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken == "" {
		return nil, nil, nil, fmt.Errorf("DISCORD_TOKEN is not set")
	}

	return cfg, gh.New(ghToken), discord.New(discordToken), nil
}

// projectsFor resolves an optional project-name argument against the
// config: named project only, or every project when the name is absent.
func projectsFor(cfg *config.Config, args []string) ([]*config.Project, error) {
	if len(args) == 0 {
		out := make([]*config.Project, len(cfg.Projects))
		for i := range cfg.Projects {
			out[i] = &cfg.Projects[i]
		}
		return out, nil
	}
	p, ok := cfg.FindProject(args[0])
	if !ok {
		return nil, fmt.Errorf("unknown project %q", args[0])
	}
	return []*config.Project{p}, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, ghClient, dcClient, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := sync.NewEngine(ghClient, dcClient)
	sync.NewScheduler(engine, cfg).Run(ctx)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d project(s) configured\n", configPath, len(cfg.Projects))
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		status := "enabled"
		if !cfg.SyncEnabled(p) {
			status = "disabled"
		}
		fmt.Printf("  %s: %s/%s <-> forum %s, sync %s every %s\n",
			p.DisplayName(), p.GithubOwner, p.GithubRepo, p.DiscordForumID,
			status, cfg.SyncInterval(p))
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, ghClient, dcClient, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	projects, err := projectsFor(cfg, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	auditor := audit.NewAuditor(ghClient, dcClient)
	clean := true
	for _, p := range projects {
		report, err := auditor.Audit(ctx, p)
		if err != nil {
			return fmt.Errorf("audit %s: %w", p.DisplayName(), err)
		}
		fmt.Print(report.String())
		clean = clean && report.Clean()
	}
	if !clean {
		// Non-zero exit so cron/CI can alert on drift.
		return fmt.Errorf("drift detected")
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, _, dcClient, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	projects, err := projectsFor(cfg, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for _, p := range projects {
		n, err := audit.ArchiveResolved(ctx, dcClient, p)
		if err != nil {
			return fmt.Errorf("archive %s: %w", p.DisplayName(), err)
		}
		fmt.Printf("%s: archived %d thread(s)\n", p.DisplayName(), n)
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	threadID, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || threadID == 0 {
		return fmt.Errorf("invalid thread id %q: must be a Discord snowflake", args[1])
	}

	cfg, ghClient, dcClient, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	p, ok := cfg.FindProject(args[0])
	if !ok {
		return fmt.Errorf("unknown project %q", args[0])
	}

	linker := link.NewLinker(ghClient, dcClient)
	issue, created, err := linker.Link(cmd.Context(), p, threadID)
	if err != nil {
		return fmt.Errorf("link thread %d: %w", threadID, err)
	}

	verb := "refreshed"
	if created {
		verb = "created"
	}
	fmt.Printf("%s issue #%d: %s\n", verb, issue.Number, issue.HTMLURL)
	return nil
}
