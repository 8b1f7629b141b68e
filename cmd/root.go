// Package cmd provides the CLI entry point.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seedreap/qbitstats/internal/config"
	"github.com/seedreap/qbitstats/internal/coordinator"
	"github.com/seedreap/qbitstats/internal/server"
	"github.com/seedreap/qbitstats/internal/stats"
)

const (
	shutdownGrace = 30 * time.Second
	onceTimeout   = 2 * time.Minute
)

// Build metadata, injected with -ldflags.
//
//nolint:gochecknoglobals // build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
	BuiltBy   = "unknown"
)

//nolint:gochecknoglobals // cobra CLI flags require package-level variables
var (
	cfgFile   string
	logLevel  string
	logPretty bool
	listen    string
	interval  time.Duration
	once      bool

	showVersion bool
	appConfig   config.Config
)

//nolint:gochecknoglobals // cobra requires package-level command variable
var rootCmd = &cobra.Command{
	Use:   "qbitstats",
	Short: "Poll qBittorrent and serve aggregated torrent statistics",
	Long: `qbitstats polls one or more qBittorrent WebUI instances on a fixed
interval, groups torrents into state buckets, tracks the longest ETA and
serves the latest snapshot over a small HTTP API.

Counter drops caused by a backend restart are absorbed for one cycle so
consumers never see totals go backwards. A rejected login pauses polling
for that client until it is resumed through the API.

Use --once to refresh every client a single time and print the buckets
instead of starting the API.`,
	Example: `  qbitstats --config /config/qbitstats.yaml
  qbitstats --interval 10s --log-level debug --log-pretty
  QBITSTATS_CLIENTS=seedbox QBITSTATS_CLIENTS_SEEDBOX_URL=http://seedbox:8080 qbitstats --once`,
	SilenceUsage: true,
	RunE:         run,
}

// Execute runs the root command.
func Execute() {
	// -V must work without a loadable config
	for _, arg := range os.Args[1:] {
		if arg == "-V" || arg == "--version" {
			writeVersion(os.Stdout)
			return
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // cobra requires init for flag registration
func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "",
		"config file (default: first of .qbitstats.yaml, qbitstats.yaml, config.yaml in $HOME, . or /config)")
	flags.BoolVarP(&showVersion, "version", "V", false, "print version information and exit")
	flags.StringVar(&listen, "listen", "", "API listen address, overrides server.listen (default \""+config.DefaultListen+"\")")
	flags.DurationVar(&interval, "interval", 0, "refresh interval, overrides poll.interval (default "+config.DefaultPollInterval.String()+")")
	flags.BoolVar(&once, "once", false, "refresh every client once, print the buckets and exit")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&logPretty, "log-pretty", false, "write human-readable console logs instead of JSON")
}

func run(cmd *cobra.Command, _ []string) error {
	if showVersion {
		writeVersion(cmd.OutOrStdout())
		return nil
	}

	srv, err := server.New(appConfig, server.Options{
		Logger: log.With().Str("component", "main").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if once {
		return refreshOnce(cmd.Context(), cmd.OutOrStdout(), srv.Schedulers())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchSignals(srv, cancel)

	if err = srv.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	started := time.Now()
	err = srv.Shutdown(shutdownCtx)
	log.Info().
		Int("clients", len(srv.Schedulers())).
		Dur("took", time.Since(started)).
		Msg("qbitstats stopped")
	return err
}

// watchSignals cancels the run on the first SIGINT or SIGTERM and exits the
// process on the second.
func watchSignals(srv *server.Server, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2) //nolint:mnd // first and second signal
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("stopping schedulers, send again to force exit")
	srv.PrepareShutdown()
	cancel()

	sig = <-sigCh
	log.Warn().Str("signal", sig.String()).Msg("forced exit during shutdown")
	os.Exit(1)
}

// refreshOnce runs one cycle per client and prints a line per client. Every
// client is attempted; the returned error joins the failures.
func refreshOnce(ctx context.Context, w io.Writer, schedulers []*coordinator.Scheduler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, onceTimeout)
	defer cancel()

	var errs []error
	for _, sched := range schedulers {
		result, err := sched.RefreshNow(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", sched.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", sched.Name(), err))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", sched.Name(), summarize(result))
	}

	return errors.Join(errs...)
}

// summarize renders non-empty buckets in reporting order followed by the
// total and the longest ETA.
func summarize(result *stats.Result) string {
	parts := make([]string, 0, len(stats.Buckets)+2) //nolint:mnd // total and eta
	for _, b := range stats.Buckets {
		if n := result.Get(b); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", b, n))
		}
	}

	parts = append(parts, fmt.Sprintf("total=%d", result.Total))
	if result.LongestETA > 0 {
		eta := time.Duration(result.LongestETA) * time.Second
		parts = append(parts, "eta="+units.HumanDuration(eta))
	}
	return strings.Join(parts, " ")
}

func writeVersion(w io.Writer) {
	fmt.Fprintf(w, "qbitstats %s (commit %s, built %s by %s)\n", Version, Commit, BuildDate, BuiltBy)
}

func initConfig() {
	// Level and output first so config problems are logged in the chosen format
	configureLogger()

	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgFile).Msg("unusable configuration")
	}

	if listen != "" {
		cfg.Server.Listen = listen
	}
	if interval > 0 {
		cfg.Poll.Interval = interval
	}

	names := make([]string, 0, len(cfg.Clients))
	for name := range cfg.Clients {
		names = append(names, name)
	}
	sort.Strings(names)

	log.Debug().
		Strs("clients", names).
		Str("listen", cfg.Server.Listen).
		Dur("interval", cfg.Poll.Interval).
		Msg("effective configuration")

	appConfig = cfg
}

func configureLogger() {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if logPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{ //nolint:reassign // standard zerolog pattern
			Out:        os.Stderr,
			TimeFormat: time.TimeOnly,
		})
	}

	if err != nil {
		log.Warn().Str("log_level", logLevel).Msg("unknown log level, using info")
	}
}
