package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/api"
	"github.com/glideapp/glide-sync/internal/config"
	"github.com/glideapp/glide-sync/internal/engine"
	"github.com/glideapp/glide-sync/internal/repo"
	"github.com/glideapp/glide-sync/internal/store"
	"github.com/glideapp/glide-sync/internal/ui"
)

var (
	flagConfig  string
	flagVerbose bool

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "glide",
	Short: "Offline-first sync client for Glide voice notes",
	Long: `glide keeps a local voice-note database in sync with the Glide backend.

Notes, folders, and extracted actions are written locally first and queued
for sync; the engine pushes queued changes and pulls remote ones on demand
(glide sync) or continuously (glide daemon). Everything works offline: edits
made without a network connection push as soon as one returns.

Start with:
  glide login          # store credentials
  glide hydrate        # one-time initial pull into the local database
  glide sync           # one push+pull round`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			fail("%v", err)
		}
		logger = newConsoleLogger(cfg.Log.Level, flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default ~/.glide/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "setup", Title: "Setup commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
		&cobra.Group{ID: "data", Title: "Data commands:"},
	)
}

// fail prints the error and exits non-zero. Deferred cleanup in the calling
// command does not run; commands close what must be closed before calling it
// or accept the process teardown.
func fail(format string, a ...any) {
	fmt.Fprintln(os.Stderr, ui.Fail(format, a...))
	os.Exit(1)
}

func newConsoleLogger(level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// openStore opens the configured database and initializes the schema.
func openStore() *store.Store {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		fail("failed to open database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		fail("failed to initialize schema: %v", err)
	}
	return db
}

// ensureDefaults seeds the stock folders once. Only the CRUD commands call
// this: import requires an untouched store, so the seeding cannot live in
// the root command.
func ensureDefaults(ctx context.Context, repos *repo.Repos) {
	if err := repos.Folders.EnsureDefaults(ctx); err != nil {
		fail("failed to seed default folders: %v", err)
	}
}

// newClient builds the API client. With authed set it wires the stored
// credentials and fails when none exist.
func newClient(authed bool) *api.Client {
	client := api.New(cfg.API.BaseURL, nil, logger.With().Str("component", "api").Logger())
	client.SetTimeout(cfg.API.Timeout)
	if !authed {
		return client
	}

	path, err := config.CredentialsPath()
	if err != nil {
		fail("%v", err)
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		fail("%v", err)
	}

	// Refreshed pairs are written back so the next process starts with a
	// live token instead of burning a refresh.
	persist := func(pair api.TokenPair) error {
		return config.SaveCredentials(path, config.Credentials{
			Email:        creds.Email,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		})
	}
	tokens := api.NewTokenSource(api.TokenPair{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	}, client.RefreshTokens, persist, logger.With().Str("component", "token").Logger())
	client.SetTokens(tokens)
	return client
}

func newEngine(db *store.Store, repos *repo.Repos, client *api.Client) engine.Engine {
	return engine.New(db, repos, client, engine.Config{
		PageSize:    cfg.Sync.PageSize,
		PushBatch:   cfg.Sync.PushBatch,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}, logger)
}

func newRepos(db *store.Store) *repo.Repos {
	return repo.New(db, logger)
}
