// Package journal records every message delivery durably, so a resumed run
// can skip messages that already reached the target. Checkpoints cover step
// granularity; the journal covers message granularity within the
// clone_messages step and ad-hoc migrations.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal is a SQLite-backed delivery log. WAL mode allows the command
// surface to read status while the engine writes.
type Journal struct {
	db *sql.DB
}

// Delivery is one replayed message.
type Delivery struct {
	SourceMessageID string
	DestChannelID   string
	TargetMessageID string
	ThreadID        string
	RunToken        string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite supports a single writer; serialize through one connection to
	// avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores a delivery. Recording the same (source, destination) pair
// again is a no-op, tolerating retried sends.
func (j *Journal) Record(ctx context.Context, d Delivery) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deliveries (source_message_id, dest_channel_id, target_message_id, thread_id, run_token)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_message_id, dest_channel_id) DO NOTHING`,
		d.SourceMessageID, d.DestChannelID, d.TargetMessageID, d.ThreadID, d.RunToken)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Delivered reports whether a source message already reached a destination
// channel in any run.
func (j *Journal) Delivered(ctx context.Context, sourceMessageID, destChannelID string) (bool, error) {
	var one int
	err := j.db.QueryRowContext(ctx, `
		SELECT 1 FROM deliveries
		WHERE source_message_id = ? AND dest_channel_id = ?`,
		sourceMessageID, destChannelID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query delivery: %w", err)
	}
	return true, nil
}

// ThreadFor returns the target thread a source message landed in, if any.
// Thread migration uses it to resume into an existing thread instead of
// starting a second one.
func (j *Journal) ThreadFor(ctx context.Context, sourceMessageID, destChannelID string) (string, bool, error) {
	var threadID string
	err := j.db.QueryRowContext(ctx, `
		SELECT thread_id FROM deliveries
		WHERE source_message_id = ? AND dest_channel_id = ?`,
		sourceMessageID, destChannelID).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query thread: %w", err)
	}
	return threadID, threadID != "", nil
}

// SetThread attaches a target thread to an existing delivery. Thread
// creation happens after the starter message is sent, so the thread id
// arrives as a second write.
func (j *Journal) SetThread(ctx context.Context, sourceMessageID, destChannelID, threadID string) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE deliveries SET thread_id = ?
		WHERE source_message_id = ? AND dest_channel_id = ?`,
		threadID, sourceMessageID, destChannelID)
	if err != nil {
		return fmt.Errorf("set thread: %w", err)
	}
	return nil
}

// Count reports the number of deliveries recorded for a run.
func (j *Journal) Count(ctx context.Context, runToken string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE run_token = ?`, runToken).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// Purge removes every delivery. Part of the explicit reset path.
func (j *Journal) Purge(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM deliveries`); err != nil {
		return fmt.Errorf("purge journal: %w", err)
	}
	return nil
}
