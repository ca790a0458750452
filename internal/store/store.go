// Package store persists shared per-channel conversation history in SQLite.
// Every agent reads the same channel transcript, so rows carry the speaking
// persona rather than belonging to one agent.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Message is one row of channel history.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	UserID      string
	Content     string
	IsAssistant bool
	PersonaName string
	Emotion     string
	Timestamp   time.Time
}

// SystemUserID marks rows injected by the bot itself (summaries, notices)
// rather than by a human or an assistant persona.
const SystemUserID = "SYSTEM"

// SummaryPrefix tags condensed-history rows so prompt building can map
// them to the system role.
const SummaryPrefix = "[SUMMARY] "

// ContextStore is the SQLite-backed history store. A single mutex guards
// the consecutive-duplicate tracking; SQLite serializes writes itself.
type ContextStore struct {
	db            *sql.DB
	defaultWindow int
	maxWindow     int

	mu sync.Mutex
	// last stored content per channel and role class, to drop the
	// gateway's duplicate deliveries of the same event
	last map[string]string
}

// OpenDB opens (creating if needed) the SQLite database at path with the
// pragmas the store relies on. No migrations are applied.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite is not safe for concurrent writers on one handle
	db.SetMaxOpenConns(1)
	return db, nil
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string, defaultWindow, maxWindow int) (*ContextStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewContextStore(db, defaultWindow, maxWindow), nil
}

// NewContextStore wraps an already-migrated database handle.
func NewContextStore(db *sql.DB, defaultWindow, maxWindow int) *ContextStore {
	return &ContextStore{
		db:            db,
		defaultWindow: defaultWindow,
		maxWindow:     maxWindow,
		last:          make(map[string]string),
	}
}

func (s *ContextStore) Close() error { return s.db.Close() }

func dupKey(channelID string, isAssistant bool) string {
	if isAssistant {
		return channelID + "/assistant"
	}
	return channelID + "/user"
}

// Append stores one message. It reports whether the row was written:
// empty content, command invocations, and a repeat of the channel's
// previous message in the same role class are silently dropped.
// Re-storing the same message ID replaces the row instead of duplicating it.
func (s *ContextStore) Append(ctx context.Context, msg Message) (bool, error) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return false, nil
	}
	if strings.HasPrefix(content, "!") {
		return false, nil
	}

	key := dupKey(msg.ChannelID, msg.IsAssistant)
	s.mu.Lock()
	if s.last[key] == content {
		s.mu.Unlock()
		return false, nil
	}
	s.last[key] = content
	s.mu.Unlock()

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (id, channel_id, guild_id, user_id, content, is_assistant, persona_name, emotion, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.GuildID, msg.UserID, msg.Content,
		msg.IsAssistant, msg.PersonaName, msg.Emotion, ts.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

const queryCeiling = 50

// Recent returns up to limit distinct messages for the channel in
// chronological order. excludeID (usually the message being responded to)
// is never included. Exact repeats of already-accepted content are dropped,
// as are near-duplicates of any of the three most recently accepted rows.
func (s *ContextStore) Recent(ctx context.Context, channelID string, limit int, excludeID string) ([]Message, error) {
	if limit <= 0 {
		limit = s.defaultWindow
	}
	if limit > queryCeiling {
		limit = queryCeiling
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, guild_id, user_id, content, is_assistant, persona_name, emotion, timestamp
		 FROM messages
		 WHERE channel_id = ? AND id != ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		channelID, excludeID, queryCeiling,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var window []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.GuildID, &m.UserID, &m.Content,
			&m.IsAssistant, &m.PersonaName, &m.Emotion, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		window = append(window, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// rows came back newest-first; filtering runs oldest-first so a later
	// repeat is the one suppressed, never the row it echoes
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}

	var accepted []Message
	seen := make(map[string]bool)
	for _, m := range window {
		content := strings.TrimSpace(m.Content)
		if seen[content] {
			continue
		}
		if nearDuplicateOfAny(content, accepted, 3) {
			continue
		}
		seen[content] = true
		accepted = append(accepted, m)
	}

	if len(accepted) > limit {
		accepted = accepted[len(accepted)-limit:]
	}
	return accepted, nil
}

func nearDuplicateOfAny(content string, accepted []Message, window int) bool {
	start := len(accepted) - window
	if start < 0 {
		start = 0
	}
	for _, m := range accepted[start:] {
		if nearDuplicate(content, strings.TrimSpace(m.Content)) {
			return true
		}
	}
	return false
}

// WindowSize returns the channel's configured history window, falling back
// to the store default when none has been set.
func (s *ContextStore) WindowSize(ctx context.Context, channelID string) int {
	var size int
	err := s.db.QueryRowContext(ctx,
		`SELECT window_size FROM context_windows WHERE channel_id = ?`, channelID,
	).Scan(&size)
	if err != nil || size <= 0 {
		return s.defaultWindow
	}
	if size > s.maxWindow {
		return s.maxWindow
	}
	return size
}

// SetWindowSize persists a per-channel window override, clamped to
// [1, maxWindow]. It survives restarts.
func (s *ContextStore) SetWindowSize(ctx context.Context, channelID string, size int) (int, error) {
	if size < 1 {
		size = 1
	}
	if size > s.maxWindow {
		size = s.maxWindow
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_windows (channel_id, window_size) VALUES (?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET window_size = excluded.window_size`,
		channelID, size,
	)
	if err != nil {
		return 0, fmt.Errorf("set window size: %w", err)
	}
	return size, nil
}

// ResetWindowSize removes the channel's override so the default applies again.
func (s *ContextStore) ResetWindowSize(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM context_windows WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("reset window size: %w", err)
	}
	return nil
}

// Clear deletes the channel's history older than the given age. A zero age
// deletes everything for the channel. Returns the number of rows removed.
func (s *ContextStore) Clear(ctx context.Context, channelID string, olderThan time.Duration) (int64, error) {
	var res sql.Result
	var err error
	if olderThan <= 0 {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE channel_id = ?`, channelID)
	} else {
		cutoff := time.Now().UTC().Add(-olderThan)
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE channel_id = ? AND timestamp < ?`, channelID, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}

	s.mu.Lock()
	delete(s.last, dupKey(channelID, false))
	delete(s.last, dupKey(channelID, true))
	s.mu.Unlock()

	n, _ := res.RowsAffected()
	return n, nil
}

// ChannelsBefore lists channels that still hold non-summary rows older
// than cutoff. Used by the background summarizer.
func (s *ContextStore) ChannelsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT channel_id FROM messages
		 WHERE timestamp < ? AND user_id != ?`,
		cutoff.UTC(), SystemUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale channels: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, id)
	}
	return channels, rows.Err()
}

// MessagesBefore returns the channel's non-summary rows older than cutoff,
// oldest first.
func (s *ContextStore) MessagesBefore(ctx context.Context, channelID string, cutoff time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, guild_id, user_id, content, is_assistant, persona_name, emotion, timestamp
		 FROM messages
		 WHERE channel_id = ? AND timestamp < ? AND user_id != ?
		 ORDER BY timestamp ASC, id ASC`,
		channelID, cutoff.UTC(), SystemUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.GuildID, &m.UserID, &m.Content,
			&m.IsAssistant, &m.PersonaName, &m.Emotion, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReplaceWithSummary atomically swaps the channel's rows older than cutoff
// for a single summary row attributed to the system user.
func (s *ContextStore) ReplaceWithSummary(ctx context.Context, channelID, summaryID, summary string, cutoff time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE channel_id = ? AND timestamp < ? AND user_id != ?`,
		channelID, cutoff.UTC(), SystemUserID,
	); err != nil {
		return fmt.Errorf("delete summarized rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (id, channel_id, guild_id, user_id, content, is_assistant, persona_name, emotion, timestamp)
		 VALUES (?, ?, '', ?, ?, 0, '', '', ?)`,
		summaryID, channelID, SystemUserID, SummaryPrefix+summary, cutoff.UTC(),
	); err != nil {
		return fmt.Errorf("insert summary row: %w", err)
	}

	return tx.Commit()
}
