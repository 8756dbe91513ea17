// Package testutil holds helpers shared by the package tests: a governor
// that never sleeps, a discarding logger, and a deterministic id sequence
// for fake platform objects.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyadbot/replica/internal/governor"
)

// Logger returns a logger that drops everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Governor returns a governor with all waiting stubbed out, so retry and
// pacing paths execute without wall-clock delays.
func Governor() *governor.Governor {
	return governor.New(governor.Options{
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
		Logger: Logger(),
	})
}

// IDSequence hands out deterministic identifiers for fake platform
// entities. Thread-safe; resettable so a scenario can run twice with
// identical ids.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewIDSequence creates a sequence whose ids carry the given prefix.
func NewIDSequence(prefix string) *IDSequence {
	return &IDSequence{prefix: prefix}
}

// Next returns the next id, starting at <prefix>-1.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s-%d", s.prefix, s.seq)
}

// Current returns the latest issued sequence number.
func (s *IDSequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset restarts the sequence.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}
