package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glideapp/glide-sync/internal/config"
	"github.com/glideapp/glide-sync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect and initialize the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented config file with every default",
	Run: func(cmd *cobra.Command, args []string) {
		path := flagConfig
		if path == "" {
			var err error
			path, err = config.DefaultPath()
			if err != nil {
				fail("%v", err)
			}
		}
		if err := config.WriteDefault(path); err != nil {
			fail("%v", err)
		}
		fmt.Println(ui.Pass("wrote %s", path))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print every setting after defaults, the config file, and GLIDE_*
environment variables have been merged.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println()
		fmt.Println(ui.KV("api.base_url", cfg.API.BaseURL))
		fmt.Println(ui.KV("api.timeout", cfg.API.Timeout.String()))
		fmt.Println(ui.KV("database.path", cfg.Database.Path))
		fmt.Println(ui.KV("spool.dir", cfg.Spool.Dir))
		fmt.Println(ui.KV("spool.debounce", cfg.Spool.Debounce.String()))
		fmt.Println(ui.KV("sync.interval", cfg.Sync.Interval.String()))
		fmt.Println(ui.KV("sync.poll_interval", cfg.Sync.PollInterval.String()))
		fmt.Println(ui.KV("sync.debounce", cfg.Sync.Debounce.String()))
		fmt.Println(ui.KV("sync.page_size", fmt.Sprint(cfg.Sync.PageSize)))
		fmt.Println(ui.KV("sync.push_batch", fmt.Sprint(cfg.Sync.PushBatch)))
		fmt.Println(ui.KV("sync.max_attempts", fmt.Sprint(cfg.Sync.MaxAttempts)))
		fmt.Println(ui.KV("status.addr", cfg.Status.Addr))
		fmt.Println(ui.KV("log.level", cfg.Log.Level))
		fmt.Println(ui.KV("log.file", cfg.Log.File))
		fmt.Println()
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
