package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteDefault writes a fully commented config file with every knob at its
// default value. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	doc, err := defaultDocument()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// defaultDocument builds the commented YAML tree by hand; marshaling the
// struct directly would lose the comments.
func defaultDocument() (*yaml.Node, error) {
	def, err := Default()
	if err != nil {
		return nil, err
	}

	b := &docBuilder{root: &yaml.Node{Kind: yaml.MappingNode}}

	api := b.section("api", "Remote service the engine syncs against.")
	b.entry(api, "base_url", def.API.BaseURL, "")
	b.entry(api, "timeout", def.API.Timeout.String(), "Per-request timeout.")

	db := b.section("database", "Embedded SQLite store.")
	b.entry(db, "path", def.Database.Path, "")

	spool := b.section("spool", "Directory watched for finished recordings. Empty disables the watcher.")
	b.entry(spool, "dir", def.Spool.Dir, "")
	b.entry(spool, "debounce", def.Spool.Debounce.String(), "Quiet period after the last file event before a round fires.")

	syn := b.section("sync", "Engine tuning and daemon trigger policy.")
	b.entry(syn, "interval", def.Sync.Interval.String(), "Periodic round while the daemon runs.")
	b.entry(syn, "poll_interval", def.Sync.PollInterval.String(), "Connectivity probe cadence.")
	b.entry(syn, "debounce", def.Sync.Debounce.String(), "Minimum gap between automatic rounds.")
	b.entry(syn, "page_size", def.Sync.PageSize, "Remote changes fetched per pull request.")
	b.entry(syn, "push_batch", def.Sync.PushBatch, "Queue entries loaded per drain pass.")
	b.entry(syn, "max_attempts", def.Sync.MaxAttempts, "Retry ceiling before an entry parks as failed.")

	st := b.section("status", "Local WebSocket progress feed. Empty addr disables it.")
	b.entry(st, "addr", def.Status.Addr, "")

	lg := b.section("log", "File and rotation apply to the daemon only.")
	b.entry(lg, "level", def.Log.Level, "trace, debug, info, warn, or error.")
	b.entry(lg, "file", def.Log.File, "")
	b.entry(lg, "max_size_mb", def.Log.MaxSizeMB, "")
	b.entry(lg, "max_backups", def.Log.MaxBackups, "")
	b.entry(lg, "max_age_days", def.Log.MaxAgeDays, "")

	if b.err != nil {
		return nil, b.err
	}
	return &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "glide configuration. Every value shown is the default;\nGLIDE_* environment variables override the file (GLIDE_API_BASE_URL, ...).",
		Content:     []*yaml.Node{b.root},
	}, nil
}

type docBuilder struct {
	root *yaml.Node
	err  error
}

func (b *docBuilder) section(name, comment string) *yaml.Node {
	key := &yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: comment}
	val := &yaml.Node{Kind: yaml.MappingNode}
	b.root.Content = append(b.root.Content, key, val)
	return val
}

func (b *docBuilder) entry(section *yaml.Node, key string, value any, comment string) {
	k := &yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment}
	v := &yaml.Node{}
	if err := v.Encode(value); err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to encode %s: %w", key, err)
	}
	section.Content = append(section.Content, k, v)
}
