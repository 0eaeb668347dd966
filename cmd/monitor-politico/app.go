package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pcastr/monitor-politico/pkg/client"
	"github.com/pcastr/monitor-politico/pkg/config"
	"github.com/pcastr/monitor-politico/pkg/ingest"
	"github.com/pcastr/monitor-politico/pkg/logging"
	"github.com/pcastr/monitor-politico/pkg/pagination"
	"github.com/pcastr/monitor-politico/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	cmdName   = "monitor-politico"
	envPrefix = "MONITOR"
)

// App is the command line application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig
	logger zerolog.Logger
}

// appConfig holds the settings gathered from flags, environment and the
// optional configuration file.
type appConfig struct {
	ConfigDir string `mapstructure:"config-dir"`
	OutputDir string `mapstructure:"output-dir"`
	TableDir  string `mapstructure:"table-dir"`
	SQLite    string `mapstructure:"sqlite"`
	Sinks     string `mapstructure:"sinks"`

	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max-retries"`
	BackoffFactor time.Duration `mapstructure:"backoff-factor"`
	BatchSize     int           `mapstructure:"batch-size"`
	RateLimit     float64       `mapstructure:"rate-limit"`
	UserAgent     string        `mapstructure:"user-agent"`

	RedisAddr string        `mapstructure:"redis-addr"`
	CacheTTL  time.Duration `mapstructure:"cache-ttl"`

	LogLevel    string `mapstructure:"log-level"`
	LogPretty   bool   `mapstructure:"log-pretty"`
	LogFile     string `mapstructure:"log-file"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// New creates the application and its command tree.
func New() *App {
	a := &App{viper: viper.New(), logger: zerolog.Nop()}

	a.cmd = &cobra.Command{
		Use:           cmdName,
		Short:         "Fetch legislative open-data tables",
		Long:          "Fetches paginated tables from the legislative open-data API as described by JSON configuration files, and writes them to JSON files, transactional parquet tables or SQLite.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			return a.loadConfig(cmd)
		},
	}
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installFlags(a.cmd)
	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		panic(fmt.Errorf("bind flags: %w", err))
	}

	a.cmd.AddCommand(a.runCmd(), a.listCmd(), a.historyCmd())
	return a
}

// Run executes the command line with the process arguments.
func (a *App) Run(ctx context.Context) error {
	return a.cmd.ExecuteContext(ctx)
}

// SetArgs overrides the process arguments.
func (a *App) SetArgs(args []string) {
	a.cmd.SetArgs(args)
}

func installFlags(cmd *cobra.Command) {
	defaults := client.DefaultConfig()
	flags := cmd.PersistentFlags()

	flags.String("config", "", "use a specific configuration file")
	flags.String("config-dir", "config", "directory holding the table configuration files")
	flags.String("output-dir", "output", "directory for the JSON sink")
	flags.String("table-dir", "tables", "root directory for the table sink")
	flags.String("sqlite", "monitor.db", "database file for the sqlite sink")
	flags.String("sinks", "json", "comma-separated sinks to write to (json, table, sqlite)")

	flags.Duration("timeout", defaults.Timeout, "timeout of each HTTP request")
	flags.Int("max-retries", defaults.MaxRetries, "attempts per URL before giving up")
	flags.Duration("backoff-factor", defaults.BackoffFactor, "base delay between attempts, doubled after each one")
	flags.Int("batch-size", pagination.DefaultBatchSize, "detail requests in flight at once")
	flags.Float64("rate-limit", defaults.RateLimit, "requests per second, 0 for unlimited")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header")

	flags.String("redis-addr", "", "Redis address for the response cache, empty disables caching")
	flags.Duration("cache-ttl", defaults.CacheTTL, "lifetime of cached responses without cache headers")

	flags.String("log-level", string(logging.LevelInfo), "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.String("log-file", "", "also write JSON logs to this rotated file")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")

	if err := cmd.MarkPersistentFlagDirname("config-dir"); err != nil {
		panic(fmt.Errorf("failed to mark config-dir flag as directory: %w", err))
	}
	if err := cmd.MarkPersistentFlagFilename("config"); err != nil {
		panic(fmt.Errorf("failed to mark config flag as filename: %w", err))
	}
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		a.viper.SetConfigFile(path)
		if err := a.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	}

	a.viper.SetEnvPrefix(envPrefix)
	a.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.viper.AutomaticEnv()

	if err := a.viper.Unmarshal(&a.config); err != nil {
		return fmt.Errorf("unable to decode configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(a.config.LogLevel)
	logCfg.Pretty = a.config.LogPretty
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.File = a.config.LogFile
	a.logger = logging.Setup(logCfg)
	return nil
}

func (a *App) loader() *config.Loader {
	return config.NewLoader(a.config.ConfigDir)
}

// newClient builds the HTTP client, connecting to Redis when an address is
// configured.
func (a *App) newClient(ctx context.Context) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.UserAgent = a.config.UserAgent
	cfg.Timeout = a.config.Timeout
	cfg.MaxRetries = a.config.MaxRetries
	cfg.BackoffFactor = a.config.BackoffFactor
	cfg.RateLimit = a.config.RateLimit
	cfg.CacheTTL = a.config.CacheTTL

	if a.config.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.config.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", a.config.RedisAddr, err)
		}
		a.logger.Info().Str("addr", a.config.RedisAddr).Msg("Connected to Redis")
		cfg.Redis = rdb
	}

	return client.New(cfg, logging.NewLogger("http-client"))
}

// newSinks opens the configured sinks. The returned close function releases
// the ones holding resources.
func (a *App) newSinks() ([]sink.Sink, func(), error) {
	var (
		sinks   []sink.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close sink")
			}
		}
	}

	seen := make(map[string]bool)
	for _, name := range strings.Split(a.config.Sinks, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		logger := logging.NewLogger("sink")
		switch name {
		case "json":
			sinks = append(sinks, sink.NewJSONSink(a.config.OutputDir, logger))
		case "table":
			sinks = append(sinks, sink.NewTableSink(a.config.TableDir, logger))
		case "sqlite":
			s, err := sink.OpenSQLite(a.config.SQLite, logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown sink %q (want json, table or sqlite)", name)
		}
	}
	if len(sinks) == 0 {
		return nil, nil, errors.New("no sink configured")
	}
	return sinks, closeAll, nil
}

func (a *App) newRunner(ctx context.Context, refresh bool) (*ingest.Runner, func(), error) {
	c, err := a.newClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	if refresh {
		if _, err := c.PurgeCache(ctx); err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("purge cache: %w", err)
		}
	}
	sinks, closeSinks, err := a.newSinks()
	if err != nil {
		c.Close()
		return nil, nil, err
	}

	cfg := ingest.DefaultConfig()
	cfg.DetailBatchSize = a.config.BatchSize

	r := ingest.New(a.loader(), c, sinks, cfg, logging.NewLogger("ingest"))
	return r, func() {
		closeSinks()
		if err := c.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close client")
		}
	}, nil
}
