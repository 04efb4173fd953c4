// Command pacmanist-server hosts concurrent Pacman sessions over named pipes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"pacmanist/server/internal/admin"
	"pacmanist/server/internal/config"
	"pacmanist/server/internal/game"
	"pacmanist/server/internal/gateway"
	"pacmanist/server/internal/host"
	"pacmanist/server/internal/leaderboard"
	"pacmanist/server/internal/level"
	"pacmanist/server/internal/logging"
	"pacmanist/server/internal/replay"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pacmanist-server <level_dir> <max_sessions> <fifo_path>",
		Short: "Serve Pacman sessions to FIFO clients",
		Long: `pacmanist-server plays every .lvl file of level_dir, in name order, with up to
max_sessions clients at once. Clients register on the FIFO created at fifo_path.

Send SIGUSR1 to write the current top 5 to top5.txt. Tunables are read from PACMAN_*
environment variables.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
			defer stop()
			return run(ctx, args)
		},
	}
}

type serverArgs struct {
	levelDir    string
	maxSessions int
	fifoPath    string
}

// parseArgs validates the positional arguments and clamps max_sessions to limit.
func parseArgs(args []string, limit int) (serverArgs, error) {
	if len(args) != 3 {
		return serverArgs{}, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return serverArgs{}, fmt.Errorf("level directory: %w", err)
	}
	if !info.IsDir() {
		return serverArgs{}, fmt.Errorf("level directory: %s is not a directory", args[0])
	}
	sessions, err := strconv.Atoi(args[1])
	if err != nil || sessions <= 0 {
		return serverArgs{}, fmt.Errorf("max_sessions must be a positive integer, got %q", args[1])
	}
	if limit > 0 && sessions > limit {
		sessions = limit
	}
	if args[2] == "" {
		return serverArgs{}, errors.New("fifo_path must not be empty")
	}
	return serverArgs{levelDir: args[0], maxSessions: sessions, fifoPath: args[2]}, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	parsed, err := parseArgs(args, cfg.MaxSessionsCap)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	//1.- Levels are fixed at start; a watch keeps later sessions current.
	catalog, err := level.NewCatalog(parsed.levelDir, logger)
	if err != nil {
		return err
	}
	if cfg.WatchLevels {
		go catalog.Watch(ctx)
	}

	scores := leaderboard.New(cfg.LeaderboardCapacity)
	opts := []host.Option{
		host.WithLogger(logger),
		host.WithLeaderboard(scores),
		host.WithGateway(host.FIFOGateway(gateway.New(
			gateway.WithWriteTimeout(cfg.WriteTimeout),
			gateway.WithLogger(logger),
		))),
		host.WithGameOptions(
			game.WithTempo(cfg.DefaultTempo),
			game.WithPollInterval(cfg.PollInterval),
			game.WithGhostIdle(cfg.GhostIdle),
		),
	}

	//2.- Optional recording and retention.
	if cfg.ReplayDir != "" {
		if err := os.MkdirAll(cfg.ReplayDir, 0o755); err != nil {
			return fmt.Errorf("replay directory: %w", err)
		}
		opts = append(opts, host.WithRecorders(host.ReplayRecorders(cfg.ReplayDir)))
		cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxBundles: cfg.ReplayMaxBundles,
			MaxAge:     cfg.ReplayMaxAge,
		}, logger)
		go cleaner.Run(ctx, cfg.ReplaySweep)
	}

	//3.- Optional health endpoint.
	if cfg.AdminSocket != "" {
		lis, err := admin.Listen(cfg.AdminSocket)
		if err != nil {
			return err
		}
		health := admin.New(logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("admin endpoint stopped", logging.Error(err))
			}
		}()
		defer health.Stop()
		opts = append(opts, host.WithHealth(health.SetServing))
	}

	srv, err := host.New(host.Config{
		RegistrationPath: parsed.fifoPath,
		MaxSessions:      parsed.maxSessions,
		QueueCapacity:    cfg.QueueCapacity,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Top5Path:         cfg.Top5Path,
		Top5JSONPath:     cfg.Top5JSONPath,
	}, catalog, level.Loader{Dir: parsed.levelDir}, opts...)
	if err != nil {
		return err
	}
	srv.Trigger().Listen()
	defer srv.Trigger().Close()

	return srv.Run(ctx)
}
