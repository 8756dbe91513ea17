package state

import (
	"context"
	"log/slog"
	"time"
)

// Snapshot produces the current checkpoint contents. Called from the writer
// goroutine; implementations must be safe against a concurrently running
// pipeline (the mapping table copies under its own lock).
type Snapshot func() Checkpoint

// CheckpointSaver persists one checkpoint document. *Store implements it.
type CheckpointSaver interface {
	SaveCheckpoint(cp Checkpoint) error
}

// Writer persists the checkpoint on a fixed interval, so a crash mid-step
// loses at most one interval of progress rather than the whole step. It is
// owned by the pipeline run: on cancellation it performs one final
// synchronous write before returning.
type Writer struct {
	store    CheckpointSaver
	interval time.Duration
	snapshot Snapshot
	log      *slog.Logger
}

// NewWriter builds a periodic checkpoint writer.
func NewWriter(store CheckpointSaver, interval time.Duration, snapshot Snapshot, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{store: store, interval: interval, snapshot: snapshot, log: log}
}

// Run blocks until ctx is cancelled, checkpointing every interval. The final
// flush happens after cancellation, synchronously, before Run returns.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.store.SaveCheckpoint(w.snapshot()); err != nil {
				w.log.Error("periodic checkpoint failed", "error", err)
			} else {
				w.log.Debug("periodic checkpoint written")
			}
		case <-ctx.Done():
			if err := w.store.SaveCheckpoint(w.snapshot()); err != nil {
				w.log.Error("final checkpoint failed", "error", err)
			} else {
				w.log.Debug("final checkpoint written")
			}
			return
		}
	}
}
