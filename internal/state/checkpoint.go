package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dyadbot/replica/internal/mapping"
)

// PendingMessage references a queued-but-undelivered source message so a
// resumed run can re-enqueue it.
type PendingMessage struct {
	SourceChannelID string `json:"source_channel_id"`
	SourceMessageID string `json:"source_message_id"`
	DestChannelID   string `json:"dest_channel_id"`
}

// Checkpoint is the durable record of pipeline progress.
type Checkpoint struct {
	RunToken          string                                 `json:"run_token"`
	LastCompletedStep string                                 `json:"last_completed_step"`
	Mapping           map[mapping.Kind]map[string]mapping.Entity `json:"mapping"`
	Pending           []PendingMessage                       `json:"pending_messages,omitempty"`
	SavedAt           time.Time                              `json:"saved_at"`
}

// LoadCheckpoint reads the checkpoint document. A missing file yields an
// empty checkpoint and ok=false.
func (s *Store) LoadCheckpoint() (Checkpoint, bool, error) {
	var cp Checkpoint

	raw, err := os.ReadFile(filepath.Join(s.dir, CheckpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cp, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

// SaveCheckpoint rewrites the whole checkpoint document atomically.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	cp.SavedAt = time.Now().UTC()
	return writeDocument(filepath.Join(s.dir, CheckpointFile), cp)
}

// ResetCheckpoint discards the checkpoint unconditionally.
func (s *Store) ResetCheckpoint() error {
	err := os.Remove(filepath.Join(s.dir, CheckpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
