// Package ledger tracks which messages currently exist in each
// channel. The gateway records every visible message it observes and
// removes entries when the platform reports a deletion, so the ledger
// can answer "which message ids are still live" after a process
// restart — the live-message oracle the activation reconstructor
// consults when rebuilding a channel. It is intentionally a mirror of
// the remote message graph, not a message archive: only ids and
// light metadata are kept.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wrenbot/wren/internal/activation"
)

// Store is a per-channel message existence ledger backed by SQLite.
// All public methods are safe for concurrent use (SQLite serializes
// writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a message ledger at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_messages (
		channel_id  TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		author_id   TEXT NOT NULL DEFAULT '',
		observed_at TEXT NOT NULL,
		PRIMARY KEY (channel_id, message_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record upserts a message sighting. Re-observing a known message
// refreshes its metadata rather than erroring, so gateway replays are
// harmless.
func (s *Store) Record(channelID, messageID, authorID string) error {
	_, err := s.db.Exec(
		`INSERT INTO channel_messages (channel_id, message_id, author_id, observed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (channel_id, message_id) DO UPDATE
		 SET author_id = excluded.author_id, observed_at = excluded.observed_at`,
		channelID, messageID, authorID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record message %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

// Remove drops a message from the ledger. No error is returned if the
// message was never recorded — deletion events can arrive for messages
// observed before the ledger existed.
func (s *Store) Remove(channelID, messageID string) error {
	_, err := s.db.Exec(
		`DELETE FROM channel_messages WHERE channel_id = ? AND message_id = ?`,
		channelID, messageID,
	)
	if err != nil {
		return fmt.Errorf("remove message %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

// RemoveChannel drops every entry for a channel, for when the bot is
// removed from a channel or the channel itself is deleted.
func (s *Store) RemoveChannel(channelID string) error {
	_, err := s.db.Exec(
		`DELETE FROM channel_messages WHERE channel_id = ?`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("remove channel %s: %w", channelID, err)
	}
	return nil
}

// Live returns the set of message ids currently recorded for a
// channel, in the shape the activation reconstructor consumes. An
// unknown channel yields an empty (non-nil) set.
func (s *Store) Live(channelID string) (activation.LiveMessages, error) {
	rows, err := s.db.Query(
		`SELECT message_id FROM channel_messages WHERE channel_id = ?`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("live messages %s: %w", channelID, err)
	}
	defer rows.Close()

	live := activation.NewLiveMessages()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		live.Add(id)
	}
	return live, rows.Err()
}

// Count returns the number of messages recorded for a channel.
func (s *Store) Count(channelID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM channel_messages WHERE channel_id = ?`,
		channelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages %s: %w", channelID, err)
	}
	return n, nil
}
