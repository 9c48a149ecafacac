// Command uxwatch records what a user does in a browser session.
//
// Usage:
//
//	uxwatch record https://example.com logs      # log file + console, until the browser closes
//	uxwatch console                              # console only, amazon.com for 5 minutes
//	uxwatch record --from-db uxwatch.db --target shop
//	uxwatch targets --from-db uxwatch.db         # list active targets
//	uxwatch session --from-db uxwatch.db <id>    # show a recorded session
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/uxwatch/dbopen"
	"github.com/hazyhaar/uxwatch/idgen"
	"github.com/hazyhaar/uxwatch/recorder"
)

const (
	consoleURL      = "https://www.amazon.com"
	consoleDuration = 5 * time.Minute
)

type options struct {
	configPath string
	logLevel   string
	headless   bool
	remote     string
	stealth    bool
	companion  string
	fromDB     string
	target     string
	duration   time.Duration
	url        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	var logger *slog.Logger

	root := &cobra.Command{
		Use:   "uxwatch",
		Short: "Record user interactions in a live browser session",
		Long: `uxwatch opens a browser on a start URL and records what the user does:
clicks, keypresses, scrolls, hovers and input, across page navigations.
Interactions are written to a timestamped session log.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(opts.logLevel)
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("uxwatch: .env not loaded", "error", err)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to uxwatch.yaml config file")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.headless, "headless", false, "hide the browser window")
	pf.StringVar(&opts.remote, "remote", "", "WebSocket URL of a running Chrome to attach to")
	pf.BoolVar(&opts.stealth, "stealth", false, "open the tab with go-rod/stealth")
	pf.StringVar(&opts.companion, "companion", "", "companion script injected after the collector (default intention-buttons.js)")
	pf.StringVar(&opts.fromDB, "from-db", "", "SQLite database holding watch_targets")
	pf.StringVar(&opts.target, "target", "", "watch_targets id to record (with --from-db)")
	pf.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 = until the browser closes)")

	record := &cobra.Command{
		Use:   "record <url> <log_dir>",
		Short: "Record to events_<timestamp>.log and the console until the browser closes",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Session.URL = args[0]
			}
			if len(args) > 1 {
				cfg.Session.LogDir = args[1]
			}
			if len(cfg.Sinks) == 0 {
				cfg.Sinks = []recorder.SinkConfig{{Type: recorder.SinkFile}, {Type: recorder.SinkStdout}}
			}
			return run(cmd.Context(), logger, cfg, opts)
		},
	}

	console := &cobra.Command{
		Use:   "console",
		Short: "Record to the console only, for a fixed duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Session.URL == "" {
				cfg.Session.URL = consoleURL
			}
			if opts.url != "" {
				cfg.Session.URL = opts.url
			}
			if !cmd.Flags().Changed("duration") && cfg.Session.Duration == 0 {
				cfg.Session.Duration = consoleDuration
			}
			cfg.Sinks = []recorder.SinkConfig{{Type: recorder.SinkStdout}}
			return run(cmd.Context(), logger, cfg, opts)
		},
	}
	console.Flags().StringVar(&opts.url, "url", "", "start URL (default "+consoleURL+")")

	targets := &cobra.Command{
		Use:   "targets",
		Short: "List the active watch_targets of --from-db",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.fromDB)
			if err != nil {
				return err
			}
			defer db.Close()
			return listTargets(cmd.Context(), db, cmd.OutOrStdout())
		},
	}

	session := &cobra.Command{
		Use:   "session <id>",
		Short: "Show a recorded session from --from-db",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := idgen.ParseSession(args[0]); err != nil {
				return err
			}
			db, err := openDB(opts.fromDB)
			if err != nil {
				return err
			}
			defer db.Close()
			return showSession(cmd.Context(), db, args[0], cmd.OutOrStdout())
		},
	}

	root.AddCommand(record, console, targets, session)
	return root
}

func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig layers the YAML file, UXWATCH_* variables and explicit flags.
func loadConfig(cmd *cobra.Command, opts *options) (*recorder.Config, error) {
	cfg := recorder.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = recorder.LoadConfigFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Browser.Headless = opts.headless
	}
	if flags.Changed("remote") {
		cfg.Browser.Remote = opts.remote
	}
	if flags.Changed("stealth") {
		cfg.Browser.Stealth = opts.stealth
	}
	if flags.Changed("companion") {
		cfg.Session.CompanionScript = opts.companion
	}
	if flags.Changed("duration") {
		cfg.Session.Duration = opts.duration
	}
	return cfg, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("--from-db is required")
	}
	return dbopen.Open(path, dbopen.WithSchema(recorder.Schema))
}

func run(ctx context.Context, logger *slog.Logger, cfg *recorder.Config, opts *options) error {
	var journal *recorder.Journal
	if opts.fromDB != "" {
		db, err := openDB(opts.fromDB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := applyTarget(ctx, db, cfg, opts.target); err != nil {
			return err
		}
		journal = recorder.NewJournal(db)
	} else if opts.target != "" {
		return fmt.Errorf("--target requires --from-db")
	}

	if cfg.Session.URL == "" {
		return fmt.Errorf("no start URL: pass <url> or --target")
	}

	s, err := recorder.Launch(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	if journal != nil {
		s.WithJournal(journal, opts.target)
	}

	fmt.Fprintf(os.Stderr, "Starting monitoring of %s\n", cfg.Session.URL)
	if p := s.LogPath(); p != "" {
		fmt.Fprintf(os.Stderr, "Logs will be saved to: %s\n", p)
	}
	if cfg.Session.Duration > 0 {
		fmt.Fprintf(os.Stderr, "Monitoring for %s\n", cfg.Session.Duration)
	} else {
		fmt.Fprintln(os.Stderr, "Close the browser window to stop monitoring")
	}

	term, err := s.Run(ctx)
	cycles, failures, repairs := s.Stats()
	logger.Info("uxwatch: session finished",
		"session", s.ID(), "termination", term,
		"cycles", cycles, "failures", failures, "repairs", repairs)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Monitoring stopped. Logs have been saved.")
	return nil
}

func applyTarget(ctx context.Context, db *sql.DB, cfg *recorder.Config, id string) error {
	if id == "" {
		return nil
	}
	t, err := recorder.LoadTarget(ctx, db, id)
	if err != nil {
		return err
	}
	t.Apply(cfg)
	return nil
}

func listTargets(ctx context.Context, db *sql.DB, out io.Writer) error {
	targets, err := recorder.LoadTargets(ctx, db)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(out, "No active targets.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tURL\tDURATION\tLOG DIR\tUPDATED")
	for _, t := range targets {
		dur := "until closed"
		if t.Duration > 0 {
			dur = t.Duration.String()
		}
		dir := t.LogDir
		if dir == "" {
			dir = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.URL, dur, dir, t.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

func showSession(ctx context.Context, db *sql.DB, id string, out io.Writer) error {
	s, err := recorder.NewJournal(db).Get(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", s.ID)
	if s.TargetID != "" {
		fmt.Fprintf(w, "Target:\t%s\n", s.TargetID)
	}
	fmt.Fprintf(w, "URL:\t%s\n", s.URL)
	if s.LogPath != "" {
		fmt.Fprintf(w, "Log:\t%s\n", s.LogPath)
	}
	fmt.Fprintf(w, "Started:\t%s\n", s.StartedAt.Format(time.DateTime))
	if s.EndedAt.IsZero() {
		fmt.Fprintln(w, "Ended:\t(running)")
	} else {
		fmt.Fprintf(w, "Ended:\t%s (%s, %s)\n", s.EndedAt.Format(time.DateTime), s.Termination, s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", s.Error)
	}
	return w.Flush()
}
