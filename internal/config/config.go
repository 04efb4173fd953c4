package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultQueueCapacity bounds how many connect requests may wait for a manager.
	DefaultQueueCapacity = 16
	// DefaultLeaderboardCapacity is the number of concurrently tracked clients.
	DefaultLeaderboardCapacity = 64
	// DefaultMaxSessionsCap clamps the concurrency argument given on the command line.
	DefaultMaxSessionsCap = 64

	// DefaultTempo is used for levels that do not declare a TEMPO line.
	DefaultTempo = 100 * time.Millisecond
	// DefaultPollInterval is how often a session coordinator checks for termination.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultGhostIdle is the sleep of a ghost that has no movement script.
	DefaultGhostIdle = 100 * time.Millisecond

	// DefaultWriteTimeout bounds a board update write to a client that stopped reading.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReplayMaxBundles caps retained session recordings. Zero keeps every bundle.
	DefaultReplayMaxBundles = 50
	// DefaultReplayMaxAge prunes recordings older than this. Zero disables the age limit.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval is the retention sweep cadence.
	DefaultReplaySweepInterval = time.Hour

	// DefaultTop5Path is where the SIGUSR1 leaderboard snapshot is written.
	DefaultTop5Path = "top5.txt"

	// DefaultWatchLevels toggles level directory change notifications.
	DefaultWatchLevels = true

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "server-debug.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the session server.
type Config struct {
	QueueCapacity       int
	LeaderboardCapacity int
	MaxSessionsCap      int
	DefaultTempo        time.Duration
	PollInterval        time.Duration
	GhostIdle           time.Duration
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	Top5Path            string
	Top5JSONPath        string
	ReplayDir           string
	ReplayMaxBundles    int
	ReplayMaxAge        time.Duration
	ReplaySweep         time.Duration
	AdminSocket         string
	WatchLevels         bool
	Logging             LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	Stdout     bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying defaults
// and returning one descriptive error for every invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		QueueCapacity:       DefaultQueueCapacity,
		LeaderboardCapacity: DefaultLeaderboardCapacity,
		MaxSessionsCap:      DefaultMaxSessionsCap,
		DefaultTempo:        DefaultTempo,
		PollInterval:        DefaultPollInterval,
		GhostIdle:           DefaultGhostIdle,
		WriteTimeout:        DefaultWriteTimeout,
		Top5Path:            getString("PACMAN_TOP5_PATH", DefaultTop5Path),
		Top5JSONPath:        strings.TrimSpace(os.Getenv("PACMAN_TOP5_JSON_PATH")),
		ReplayDir:           strings.TrimSpace(os.Getenv("PACMAN_REPLAY_DIR")),
		ReplayMaxBundles:    DefaultReplayMaxBundles,
		ReplayMaxAge:        DefaultReplayMaxAge,
		ReplaySweep:         DefaultReplaySweepInterval,
		AdminSocket:         strings.TrimSpace(os.Getenv("PACMAN_ADMIN_SOCKET")),
		WatchLevels:         DefaultWatchLevels,
		Logging: LoggingConfig{
			Level:      getString("PACMAN_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("PACMAN_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	positiveInt := func(key string, target *int) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
			return
		}
		*target = value
	}
	nonNegativeInt := func(key string, target *int) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
			return
		}
		*target = value
	}
	positiveDuration := func(key string, target *time.Duration) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
			return
		}
		*target = duration
	}
	nonNegativeDuration := func(key string, target *time.Duration) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("%s must be a non-negative duration, got %q", key, raw))
			return
		}
		*target = duration
	}
	boolean := func(key string, target *bool) {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
			return
		}
		*target = value
	}

	positiveInt("PACMAN_QUEUE_CAPACITY", &cfg.QueueCapacity)
	positiveInt("PACMAN_LEADERBOARD_CAPACITY", &cfg.LeaderboardCapacity)
	positiveInt("PACMAN_MAX_SESSIONS_CAP", &cfg.MaxSessionsCap)
	positiveDuration("PACMAN_DEFAULT_TEMPO", &cfg.DefaultTempo)
	positiveDuration("PACMAN_POLL_INTERVAL", &cfg.PollInterval)
	positiveDuration("PACMAN_GHOST_IDLE", &cfg.GhostIdle)
	positiveDuration("PACMAN_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	nonNegativeDuration("PACMAN_WRITE_TIMEOUT", &cfg.WriteTimeout)
	nonNegativeInt("PACMAN_REPLAY_MAX_BUNDLES", &cfg.ReplayMaxBundles)
	nonNegativeDuration("PACMAN_REPLAY_MAX_AGE", &cfg.ReplayMaxAge)
	positiveDuration("PACMAN_REPLAY_SWEEP_INTERVAL", &cfg.ReplaySweep)
	boolean("PACMAN_WATCH_LEVELS", &cfg.WatchLevels)

	boolean("PACMAN_LOG_STDOUT", &cfg.Logging.Stdout)
	positiveInt("PACMAN_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	nonNegativeInt("PACMAN_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	nonNegativeInt("PACMAN_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)
	boolean("PACMAN_LOG_COMPRESS", &cfg.Logging.Compress)

	if cfg.Top5JSONPath != "" && cfg.Top5JSONPath == cfg.Top5Path {
		problems = append(problems, "PACMAN_TOP5_JSON_PATH must differ from PACMAN_TOP5_PATH")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
