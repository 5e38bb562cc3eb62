package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hylla/perangkat/internal/adapters/storage/sqlite"
	"github.com/hylla/perangkat/internal/app"
	"github.com/hylla/perangkat/internal/config"
	"github.com/hylla/perangkat/internal/metrics"
	"github.com/hylla/perangkat/internal/platform"
)

// version is stamped at build time; "dev" turns dev mode on by default.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one command line through fang, which renders help and errors.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr, time.Now)
	root.SetArgs(args)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// cli holds global flag state and the writers commands print to.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool

	paths platform.Paths
}

func newRootCommand(stdout, stderr io.Writer, now func() time.Time) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if now == nil {
		now = time.Now
	}
	c := &cli{stdout: stdout, stderr: stderr, now: now}

	root := &cobra.Command{
		Use:           "perangkat",
		Short:         "Village staff position lifecycle and reconciliation",
		Long:          "perangkat keeps the active roster of village staff positions, archives occupants whose tenure ended, restores archived records, and reconciles spreadsheet imports against the roster.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.resolve(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config TOML (env PERANGKAT_CONFIG)")
	flags.StringVar(&c.dbPath, "db", "", "path to sqlite database (env PERANGKAT_DB_PATH)")
	flags.StringVar(&c.appName, "app", platform.DefaultAppName, "application name for config/data path resolution (env PERANGKAT_APP_NAME)")
	flags.BoolVar(&c.devMode, "dev", version == "dev", "use dev mode paths (<app>-dev) and the workspace log file (env PERANGKAT_DEV_MODE)")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "mute console logging")

	root.AddCommand(
		c.pathsCommand(),
		c.scanCommand(),
		c.restoreCommand(),
		c.importCommand(),
		c.positionsCommand(),
		c.historyCommand(),
		c.eventsCommand(),
		c.saveCommand(),
		c.slotCommand(),
		c.serveCommand(),
	)
	return root
}

// resolve applies .env files and environment fallbacks for flags the user did not set,
// then computes the per-user paths.
func (c *cli) resolve(cmd *cobra.Command) error {
	if cwd, err := os.Getwd(); err == nil {
		if err := config.LoadDotEnv(workspaceRootFrom(cwd)); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if !flags.Changed("app") {
		if envApp := strings.TrimSpace(os.Getenv("PERANGKAT_APP_NAME")); envApp != "" {
			c.appName = envApp
		}
	}
	if !flags.Changed("dev") {
		if envDev, ok := parseBoolEnv("PERANGKAT_DEV_MODE"); ok {
			c.devMode = envDev
		}
	}
	if strings.TrimSpace(c.configPath) == "" {
		c.configPath = strings.TrimSpace(os.Getenv("PERANGKAT_CONFIG"))
	}
	if strings.TrimSpace(c.dbPath) == "" {
		c.dbPath = strings.TrimSpace(os.Getenv("PERANGKAT_DB_PATH"))
	}

	paths, err := platform.Resolve(platform.Options{AppName: c.appName, DevMode: c.devMode})
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	c.paths = paths
	if c.configPath == "" {
		c.configPath = paths.ConfigPath
	}
	return nil
}

// parseBoolEnv reads a boolean environment variable; ok is false when unset or unparseable.
func parseBoolEnv(name string) (value bool, ok bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// runtime is the opened state shared by every storage-backed command.
type runtime struct {
	cfg      config.Config
	logger   *runtimeLogger
	repo     *sqlite.Repository
	svc      *app.Service
	registry *prometheus.Registry
}

// open loads configuration, builds the logger, opens storage, and wires the service.
func (c *cli) open(command string) (*runtime, error) {
	dbOverridden := c.dbPath != ""
	dbPath := c.dbPath
	if !dbOverridden {
		dbPath = c.paths.DBPath
	}

	cfg, err := config.Load(c.configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", c.configPath, err)
	}
	if cfg, err = config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(c.stderr, c.appName, c.devMode, cfg.Logging, c.now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!c.quiet)
	logger.Info("startup configuration resolved", "app", c.appName, "dev_mode", c.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", c.configPath, "data_dir", c.paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	rules, err := cfg.TenureRules()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	throttle, err := cfg.ScanThrottle()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	if err := config.EnsureConfigDir(cfg.Database.Path); err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc := app.NewService(repo, repo, uuid.NewString, c.now, app.ServiceConfig{
		Rules:            rules,
		ScanThrottle:     throttle,
		ArchiveBatchSize: cfg.Archive.BatchSize,
		ArchiveNote:      cfg.Archive.Note,
		Logger:           logger,
		Observer:         metrics.New(registry),
	})
	logger.Debug("application service initialized", "scan_throttle", throttle, "archive_batch_size", cfg.Archive.BatchSize)

	return &runtime{cfg: cfg, logger: logger, repo: repo, svc: svc, registry: registry}, nil
}

// Close releases storage and the log file.
func (rt *runtime) Close() {
	if closeErr := rt.repo.Close(); closeErr != nil {
		rt.logger.Warn("sqlite close failed", "db_path", rt.cfg.Database.Path, "err", closeErr)
	}
	if closeErr := rt.logger.Close(); closeErr != nil {
		rt.logger.Warn("close runtime log sink failed", "err", closeErr)
	}
}

// withRuntime opens the runtime, runs fn with start/complete/failed logging, and closes it.
func (c *cli) withRuntime(ctx context.Context, command string, fn func(context.Context, *runtime) error) error {
	rt, err := c.open(command)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("command flow start", "command", command)
	if err := fn(ctx, rt); err != nil {
		rt.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	rt.logger.Info("command flow complete", "command", command)
	return nil
}
