// ABOUTME: Entry point for coven-bridge
// ABOUTME: Runs the Matrix appservice that follows room upgrades and serves bridge metrics

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/matrix"
	"github.com/2389/coven-bridge/internal/metrics"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/upgrade"
)

// version is set at build time
var version = "dev"

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │   ┏━╸┏━┓╻ ╻┏━╸┏┓╻   ┏┓ ┏━┓╻╺┳┓   │
    │   ┃  ┃ ┃┃┏┛┣╸ ┃┗┫   ┣┻┓┣┳┛┃ ┃┃   │
    │   ┗━╸┗━┛┗┛ ┗━╸╹ ╹   ┗━┛╹┗╸╹╺┻┛   │
    │                                  │
    │       matrix appservice bridge   │
    │                                  │
    ╰──────────────────────────────────╯
`

// options holds the parsed command line
type options struct {
	configPath  string
	showVersion bool
	showHelp    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *pflag.FlagSet, error) {
	var opts options

	flagSet := pflag.NewFlagSet("coven-bridge", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config file (.yaml or .toml)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flagSet.BoolVarP(&opts.showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.showHelp = true
			return &opts, flagSet, nil
		}
		return nil, flagSet, err
	}

	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return &opts, flagSet, nil
}

// getConfigPath returns the path to the bridge config file.
// Priority: COVEN_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/coven/bridge.yaml > ~/.config/coven/bridge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "bridge.yaml")
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, flagSet, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if opts.showHelp {
		fmt.Fprintln(os.Stderr, "Usage: coven-bridge [flags]")
		flagSet.PrintDefaults()
		return nil
	}
	if opts.showVersion {
		fmt.Printf("coven-bridge %s\n", version)
		return nil
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", opts.configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(logger)

	printStartupInfo(opts.configPath, cfg)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runBridge(ctx, cfg, logger)
}

func printStartupInfo(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s (%s)\n", cfg.Homeserver.URL, cfg.Homeserver.Domain)
	green.Print("    ▶ ")
	fmt.Printf("Listen:     %s:%d\n", cfg.AppService.Hostname, cfg.AppService.Port)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    %s%s\n", cfg.Metrics.Address, cfg.Metrics.Path)
	}
	fmt.Println()
}

func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	links, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer links.Close()

	svc, err := matrix.NewService(matrix.ServiceConfig{
		RegistrationPath: cfg.AppService.Registration,
		HomeserverURL:    cfg.Homeserver.URL,
		HomeserverDomain: cfg.Homeserver.Domain,
		Hostname:         cfg.AppService.Hostname,
		Port:             cfg.AppService.Port,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating appservice: %w", err)
	}

	profiles, err := matrix.NewProfileCache(cfg.Cache.ProfileTTL, cfg.Cache.ProfileMaxSize, svc.FetchProfile, logger)
	if err != nil {
		return fmt.Errorf("creating profile cache: %w", err)
	}

	activity, err := metrics.NewRoomActivity(cfg.Metrics.AgePeriods, nil)
	if err != nil {
		return err
	}

	upgradeOpts := cfg.Upgrade
	upgradeOpts.OnRoomMigrated = func(ctx context.Context, oldRoomID, newRoomID id.RoomID) {
		activity.Forget(oldRoomID.String())
		activity.Touch(newRoomID.String(), time.Now())
	}
	handler := upgrade.New(upgradeOpts, svc, links, logger)

	svc.Register(matrix.NewDispatcher(svc.BotUserID(), handler, logger,
		matrix.WithActivity(activity),
		matrix.WithProfiles(profiles),
	))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		m := newBridgeMetrics(cfg.Metrics, logger, activity, profiles, handler)
		g.Go(func() error {
			return m.Serve(ctx)
		})
	}

	return g.Wait()
}

// newBridgeMetrics registers the bridge gauges, refreshed on every scrape.
func newBridgeMetrics(cfg metrics.Config, logger *slog.Logger, activity *metrics.RoomActivity, profiles *matrix.ProfileCache, handler *upgrade.Handler) *metrics.Metrics {
	m := metrics.New(cfg, logger)

	activeRooms := m.NewGaugeVec("active_rooms", "Rooms with activity within the age window", "age")
	m.AddCollector(func() {
		activity.Report(metrics.GaugeVecSink{Vec: activeRooms}, nil)
	})

	profileCache := m.NewGaugeVec("profile_cache", "Profile request cache counters", "stat")
	m.AddCollector(func() {
		stats := profiles.Stats()
		profileCache.WithLabelValues("hits").Set(float64(stats.Hits))
		profileCache.WithLabelValues("misses").Set(float64(stats.Misses))
		profileCache.WithLabelValues("evictions").Set(float64(stats.Evictions))
		profileCache.WithLabelValues("size").Set(float64(stats.Size))
	})

	pending := m.NewGaugeVec("upgrades_waiting_for_invite", "Replacement rooms the bridge is waiting to be invited to")
	m.AddCollector(func() {
		pending.WithLabelValues().Set(float64(len(handler.PendingInvites())))
	})

	return m
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
