package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkvwatch/mkvtagd/internal/cleaner"
	"github.com/mkvwatch/mkvtagd/internal/config"
	"github.com/mkvwatch/mkvtagd/internal/dashboard"
	"github.com/mkvwatch/mkvtagd/internal/history"
	"github.com/mkvwatch/mkvtagd/internal/lock"
	"github.com/mkvwatch/mkvtagd/internal/state"
	"github.com/mkvwatch/mkvtagd/internal/tagger"
	"github.com/mkvwatch/mkvtagd/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a directory and tag finished .mkv files",
	Long: `Watch polls the given directory (default: the current directory) for
.mkv files. A file is tagged once two consecutive polls observe the
same size and modification time. Failed attempts are retried on later
polls up to --max-attempts times.

All settings can also come from MKVTAG_* environment variables
(MKVTAG_TIMER, MKVTAG_LOOPS, MKVTAG_CLEAN, ...) or an mkvtag.yaml file
in the watched directory. Flags win over both.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.IntP("timer", "t", 30, "seconds between polls")
	f.IntP("loops", "n", -1, "number of poll cycles before exiting (-1 = forever)")
	f.Int("max-attempts", 3, "tagging attempts per file before giving up")
	f.StringP("clean", "c", "", "regex of filename parts to strip after tagging")
	f.StringP("log", "l", "", "append the daemon log to this file (rotated)")
	f.Bool("precheck", false, "skip files that already carry statistics tags (uses mkvinfo)")
	f.String("dashboard", "", "serve the live dashboard on this address (e.g. :8080)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v, watchDirArg(args))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogFile)

	if err := tagger.CheckInstalled(); err != nil {
		return fmt.Errorf("cannot start: %w", err)
	}

	store, err := state.Open(cfg.WatchDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	cl, err := cleaner.New(cfg.CleanPattern, logger)
	if err != nil {
		return err
	}

	// The attempt journal is best-effort: a broken database must not
	// keep files from being tagged.
	var journal *history.DB
	if db, err := history.Open(history.Path(cfg.WatchDir)); err != nil {
		logger.Printf("warning: attempt journal unavailable: %v", err)
	} else {
		journal = db
		defer journal.Close()
	}

	loopCfg := watch.DefaultConfig()
	loopCfg.PollInterval = cfg.PollInterval
	loopCfg.LoopCount = cfg.LoopCount
	loopCfg.MaxAttempts = cfg.MaxAttempts
	loopCfg.Precheck = cfg.Precheck
	loopCfg.Logger = logger
	loopCfg.Journal = journal

	if cfg.DashboardAddr != "" {
		srv := dashboard.NewServer(&dashboard.Config{
			Addr:      cfg.DashboardAddr,
			StatePath: store.Path(),
			Logger:    logger,
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer srv.Stop()
		logger.Printf("dashboard listening on %s", srv.Addr())
		loopCfg.Notify = func(f *state.WatchedFile) {
			srv.Broadcast(dashboard.Event{
				Path:      f.Path,
				State:     f.State,
				Attempts:  f.Attempts,
				LastError: f.LastError,
				Timestamp: time.Now(),
			})
		}
	}

	loop, err := watch.New(cfg.WatchDir, store, tagger.NewPropedit(logger), cl, loopCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("watching %s (interval %s, max attempts %d)",
		cfg.WatchDir, cfg.PollInterval, cfg.MaxAttempts)

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "mkvtagd: another instance is already watching %s\n", cfg.WatchDir)
			os.Exit(1)
		}
		return err
	}
	return nil
}
