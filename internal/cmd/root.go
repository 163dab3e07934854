// Package cmd provides the command-line interface for idarchiver.
// It handles command parsing, configuration loading, and archiver execution.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/idarchiver/internal/config"
	"github.com/masahif/idarchiver/internal/crawler"
	"github.com/masahif/idarchiver/internal/logging"
	"github.com/masahif/idarchiver/internal/publish"
	"github.com/masahif/idarchiver/internal/storage"
	"github.com/masahif/idarchiver/internal/telemetry"
)

const defaultUserAgent = "idarchiver/1.0"

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "idarchiver",
	Short: "Archive a numeric-ID web catalog into a local database",
	Long: `idarchiver walks a catalog whose pages are addressed by sequential IDs.

It resumes from the highest stored ID, backfills any holes below it, and
then enumerates forward at a fixed number of IDs per interval, storing one
record per ID.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runArchiver,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./idarchiver.yml)")
	rootCmd.PersistentFlags().StringP("output", "o", defaults.DatabasePath, "SQLite database path or postgres:// DSN")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Fetching
	rootCmd.Flags().String("base-url", defaults.BaseURL, "Catalog page URL; the ID is sent as ?id=<n> or replaces {id}")
	rootCmd.Flags().IntP("workers", "w", defaults.Workers, "Number of concurrent workers")
	rootCmd.Flags().DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	rootCmd.Flags().Duration("delay", defaults.RequestDelay, "Minimum spacing between requests across all workers")
	rootCmd.Flags().StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")
	rootCmd.Flags().Bool("insecure-skip-verify", defaults.InsecureSkipVerify, "Disable TLS certificate verification")

	// Scheduling
	rootCmd.Flags().Int("rate-limit", defaults.RateLimit, "New IDs enqueued per interval")
	rootCmd.Flags().Duration("rate-interval", defaults.RateInterval, "Length of the rate window")
	rootCmd.Flags().Int64("max-id", defaults.MaxID, "Stop after this ID (0=unbounded)")
	rootCmd.Flags().Int("queue-size", defaults.QueueSize, "Task and result channel capacity (0=rate-limit+workers)")
	rootCmd.Flags().Duration("shutdown-timeout", defaults.ShutdownTimeout, "Hard deadline for draining results on interrupt")

	// Failure handling
	rootCmd.Flags().String("on-parse-error", string(defaults.OnParseError), "record or defer pages without a download header")
	rootCmd.Flags().String("on-transport-error", string(defaults.OnTransportError), "record or defer IDs that got no response")

	// Logging and telemetry
	rootCmd.Flags().BoolP("verbose", "v", defaults.Verbose, "Enable debug logging")
	rootCmd.Flags().String("log-file", defaults.LogFile, "Also write logs to this file (rotated by size)")
	rootCmd.Flags().String("log-format", defaults.LogFormat, "Log format: json or text")
	rootCmd.Flags().Int("progress-every", defaults.ProgressEvery, "Log progress every N archived records")
	rootCmd.Flags().String("metrics-addr", defaults.MetricsAddr, "Serve /metrics and /healthz on this address")

	// Publishing
	rootCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers receiving archived records")
	rootCmd.Flags().String("kafka-topic", "", "Kafka topic for archived records")

	rootCmd.AddCommand(statsCmd)

	bindFlags()
}

// bindFlags maps command-line flags onto viper keys
func bindFlags() {
	if err := viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("output")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind flag output: %v\n", err)
	}

	binds := []struct {
		viperKey string
		flagName string
	}{
		{"base_url", "base-url"},
		{"workers", "workers"},
		{"request_timeout", "timeout"},
		{"request_delay", "delay"},
		{"user_agent", "user-agent"},
		{"insecure_skip_verify", "insecure-skip-verify"},
		{"rate_limit", "rate-limit"},
		{"rate_interval", "rate-interval"},
		{"max_id", "max-id"},
		{"queue_size", "queue-size"},
		{"shutdown_timeout", "shutdown-timeout"},
		{"on_parse_error", "on-parse-error"},
		{"on_transport_error", "on-transport-error"},
		{"verbose", "verbose"},
		{"log_file", "log-file"},
		{"log_format", "log-format"},
		{"progress_every", "progress-every"},
		{"metrics_addr", "metrics-addr"},
		{"kafka.brokers", "kafka-brokers"},
		{"kafka.topic", "kafka-topic"},
	}

	for _, bind := range binds {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			// Non-critical: the key still resolves from file, env, or default
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("idarchiver")
	}

	viper.SetEnvPrefix("IA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("idarchiver/%s", version)
	}
	return defaultUserAgent
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultUserAgent {
		cfg.UserAgent = generateUserAgent()
	}
	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current idarchiver configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./idarchiver.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: IA_\n\n")
	fmt.Fprint(w, string(yamlData))

	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LevelFor(cfg.Verbose)
	logCfg.Format = format
	logCfg.FilePath = cfg.LogFile
	return logging.NewLogger(logCfg)
}

func runArchiver(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if showConfig, _ := cmd.Flags().GetBool("show-config"); showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	// Closed only after Run has returned, so the archiver's last commit lands
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []crawler.Option{
		crawler.WithLogger(logger),
		crawler.WithMetrics(crawler.NewMetrics(reg)),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := publish.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error("Failed to close Kafka producer", "error", err)
			}
		}()
		opts = append(opts, crawler.WithPublisher(producer))
		logger.Info("Publishing archived records", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	archiver, err := crawler.NewCrawler(cfg, store, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize archiver: %w", err)
	}
	defer func() { _ = archiver.Stop() }()

	if cfg.MetricsAddr != "" {
		// Kept up through the drain so the final counters can be scraped
		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		srv := telemetry.NewServer(reg, archiver.GetStats, logger)
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.MetricsAddr); err != nil {
				logger.Error("Telemetry server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	return archiver.Run(ctx)
}
