package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/glideapp/glide-sync/internal/daemon"
	"github.com/glideapp/glide-sync/internal/media"
	"github.com/glideapp/glide-sync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Keep the local database in sync continuously. The daemon runs a round:

  1. at startup, to catch up on whatever happened while it was down
  2. on an interval (sync.interval)
  3. when connectivity returns after an outage
  4. when a finished recording lands in the spool directory

Automatic triggers are debounced; rounds collapse so triggers arriving
mid-round never start a second one. Spooled recordings are uploaded before
each round so the note updates they produce ride along.

Progress is broadcast as JSON over a local WebSocket (status.addr) for UI
observers. Logs rotate in log.file.

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger = newDaemonLogger()

		db := openStore()
		defer db.Close()
		repos := newRepos(db)
		client := newClient(true)
		eng := newEngine(db, repos, client)
		uploader := media.NewUploader(repos.Notes, client, eng.ReportUpload, logger)

		d, err := daemon.New(eng, client, uploader, daemon.Config{
			SyncInterval:  cfg.Sync.Interval,
			PollInterval:  cfg.Sync.PollInterval,
			Debounce:      cfg.Sync.Debounce,
			SpoolDir:      cfg.Spool.Dir,
			SpoolDebounce: cfg.Spool.Debounce,
			StatusAddr:    cfg.Status.Addr,
		}, logger)
		if err != nil {
			fail("failed to build daemon: %v", err)
		}

		if err := d.Start(cmd.Context()); err != nil {
			fail("failed to start daemon: %v", err)
		}

		fmt.Println(ui.Pass("daemon running"))
		fmt.Println(ui.Bullet("database: %s", cfg.Database.Path))
		if cfg.Spool.Dir != "" {
			fmt.Println(ui.Bullet("spool: %s", cfg.Spool.Dir))
		}
		if addr := d.StatusAddr(); addr != "" {
			fmt.Println(ui.Bullet("status feed: ws://%s/ws", addr))
		}
		fmt.Println(ui.Dim("press Ctrl+C to stop"))

		<-cmd.Context().Done()

		fmt.Println()
		fmt.Println(ui.Dim("shutting down..."))
		d.Stop()
		fmt.Println(ui.Pass("daemon stopped"))
	},
}

// newDaemonLogger tees structured logs to the console and to a rotating
// file, so a long-running daemon's history survives restarts.
func newDaemonLogger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if flagVerbose {
		lvl = zerolog.DebugLevel
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	if cfg.Log.File != "" {
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
