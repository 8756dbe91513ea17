// Package state owns the two on-disk JSON documents: the tunable config and
// the pipeline checkpoint. Both are read wholesale on load and rewritten
// wholesale on save; a missing file means "use defaults", never an error.
package state

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var configSchema string

const (
	ConfigFile     = "config.json"
	CheckpointFile = "state.json"
	JournalFile    = "journal.db"
)

// Config is the operator-tunable document.
type Config struct {
	WebhookDelayMS        int    `json:"webhook_delay_ms"`
	ProcessDelayMS        int    `json:"process_delay_ms"`
	AdminUserID           string `json:"admin_user_id,omitempty"`
	SourceGuildID         string `json:"source_guild_id,omitempty"`
	TargetGuildID         string `json:"target_guild_id,omitempty"`
	CloneIcons            bool   `json:"clone_icons"`
	CloneMessages         bool   `json:"clone_messages"`
	LiveForwarding        bool   `json:"live_forwarding"`
	BulkQueueSize         int    `json:"bulk_queue_size"`
	LiveQueueSize         int    `json:"live_queue_size"`
	CheckpointIntervalSec int    `json:"checkpoint_interval_sec"`
}

// DefaultConfig mirrors the original deployment defaults: 200ms pacing on
// both routes, message cloning on, five-minute checkpoints.
func DefaultConfig() Config {
	return Config{
		WebhookDelayMS:        200,
		ProcessDelayMS:        200,
		CloneIcons:            true,
		CloneMessages:         true,
		LiveForwarding:        true,
		BulkQueueSize:         10000,
		LiveQueueSize:         1000,
		CheckpointIntervalSec: 300,
	}
}

// WebhookDelay returns the webhook pacing as a duration.
func (c Config) WebhookDelay() time.Duration {
	return time.Duration(c.WebhookDelayMS) * time.Millisecond
}

// ProcessDelay returns the mutation pacing as a duration.
func (c Config) ProcessDelay() time.Duration {
	return time.Duration(c.ProcessDelayMS) * time.Millisecond
}

// CheckpointInterval returns the background checkpoint cadence.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}

// Store reads and writes the documents under a working directory.
type Store struct {
	dir string
}

// NewStore creates the working directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the working directory path.
func (s *Store) Dir() string { return s.dir }

// JournalPath returns the delivery journal's database path.
func (s *Store) JournalPath() string { return filepath.Join(s.dir, JournalFile) }

// LoadConfig reads and validates the config document. A missing file yields
// the defaults. A present but invalid file is an error: silently ignoring a
// typo'd delay would defeat the point of having bounds.
func (s *Store) LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(s.dir, ConfigFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := validateConfig(path, raw); err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig rewrites the whole config document atomically.
func (s *Store) SaveConfig(cfg Config) error {
	return writeDocument(filepath.Join(s.dir, ConfigFile), cfg)
}

// validateConfig checks the raw JSON against the embedded CUE schema before
// it is decoded, so range violations and unknown fields fail loudly.
func validateConfig(path string, raw []byte) error {
	cctx := cuecontext.New()

	schema := cctx.CompileString(configSchema).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	expr, err := cuejson.Extract(path, raw)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	doc := cctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build config value: %w", err)
	}

	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config does not satisfy schema: %w", err)
	}
	return nil
}

// writeDocument marshals v and replaces path via temp file + rename, so a
// crash mid-write never leaves a truncated document behind.
func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".replica-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
