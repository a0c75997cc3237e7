// Package config loads and validates glide's configuration.
//
// Settings come from three layers, later ones winning: built-in defaults,
// the YAML file at ~/.glide/config.yaml, and GLIDE_* environment variables
// (GLIDE_API_BASE_URL overrides api.base_url, and so on). The decoded
// struct is validated before anything starts, so a bad file fails the
// command instead of the first sync round hours later.
//
// The glide home directory (~/.glide, overridable with GLIDE_HOME) also
// holds the database, the audio spool, the daemon log, and the credentials
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file's name inside the glide home directory.
const FileName = "config.yaml"

// Config is the full configuration tree.
type Config struct {
	API      API      `mapstructure:"api"`
	Database Database `mapstructure:"database"`
	Spool    Spool    `mapstructure:"spool"`
	Sync     Sync     `mapstructure:"sync"`
	Status   Status   `mapstructure:"status"`
	Log      Log      `mapstructure:"log"`
}

// API points the client at the remote service.
type API struct {
	// BaseURL is the deployment the engine syncs against.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s"`
}

// Database locates the embedded store.
type Database struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Spool configures the audio spool watcher. An empty Dir disables it.
type Spool struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce" validate:"min=100ms"`
}

// Sync tunes the engine and the daemon's trigger policy.
type Sync struct {
	// Interval is the daemon's periodic trigger.
	Interval time.Duration `mapstructure:"interval" validate:"min=10s"`
	// PollInterval is how often the daemon probes connectivity.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	// Debounce is the minimum gap between automatic rounds.
	Debounce time.Duration `mapstructure:"debounce" validate:"min=1s"`
	// PageSize is how many remote changes one pull request fetches.
	PageSize int `mapstructure:"page_size" validate:"min=1,max=500"`
	// PushBatch is how many queue entries one drain pass loads.
	PushBatch int `mapstructure:"push_batch" validate:"min=1,max=500"`
	// MaxAttempts is the retry ceiling before an entry parks as failed.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1,max=20"`
}

// Status configures the local progress feed. An empty Addr disables it.
type Status struct {
	Addr string `mapstructure:"addr"`
}

// Log configures logging; File and the rotation knobs only apply to the
// daemon, interactive commands log to the terminal.
type Log struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

// Dir returns the glide home directory: $GLIDE_HOME when set, ~/.glide
// otherwise.
func Dir() (string, error) {
	if dir := os.Getenv("GLIDE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".glide"), nil
}

// DefaultPath returns where Load looks for the config file by default.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Default returns the configuration used when no file exists.
func Default() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	return defaultsFor(dir), nil
}

func defaultsFor(dir string) Config {
	return Config{
		API: API{
			BaseURL: "https://api.glideapp.io",
			Timeout: 30 * time.Second,
		},
		Database: Database{
			Path: filepath.Join(dir, "glide.db"),
		},
		Spool: Spool{
			Dir:      filepath.Join(dir, "spool"),
			Debounce: 2 * time.Second,
		},
		Sync: Sync{
			Interval:     5 * time.Minute,
			PollInterval: 30 * time.Second,
			Debounce:     10 * time.Second,
			PageSize:     100,
			PushBatch:    50,
			MaxAttempts:  5,
		},
		Status: Status{
			Addr: "127.0.0.1:7331",
		},
		Log: Log{
			Level:      "info",
			File:       filepath.Join(dir, "logs", "glide.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the configuration. An explicit path must exist; with an empty
// path the default location is used and a missing file just means defaults.
// Environment variables win over the file either way.
func Load(path string) (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, defaultsFor(dir))

	v.SetEnvPrefix("GLIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout", def.API.Timeout)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("spool.dir", def.Spool.Dir)
	v.SetDefault("spool.debounce", def.Spool.Debounce)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("sync.poll_interval", def.Sync.PollInterval)
	v.SetDefault("sync.debounce", def.Sync.Debounce)
	v.SetDefault("sync.page_size", def.Sync.PageSize)
	v.SetDefault("sync.push_batch", def.Sync.PushBatch)
	v.SetDefault("sync.max_attempts", def.Sync.MaxAttempts)
	v.SetDefault("status.addr", def.Status.Addr)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}

// validate reports field paths in config-key form (api.base_url), so error
// messages match what the user actually wrote.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}()

// Validate checks the decoded configuration.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		key := strings.TrimPrefix(f.Namespace(), "Config.")
		if f.Param() != "" {
			return fmt.Errorf("config: %s = %v fails %s=%s", key, f.Value(), f.Tag(), f.Param())
		}
		return fmt.Errorf("config: %s = %v fails %s", key, f.Value(), f.Tag())
	}
	return fmt.Errorf("config: %w", err)
}
