// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation state, references and transcript with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer, and each pooled ":memory:" connection
	// would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_state (
			state_key  TEXT PRIMARY KEY,
			state      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_references (
			channel_id      TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			reference_json  TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			PRIMARY KEY (channel_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_references_channel
			ON conversation_references(channel_id, updated_at);

		CREATE TABLE IF NOT EXISTS activity_log (
			activity_id      TEXT PRIMARY KEY,
			conversation_key TEXT NOT NULL,
			direction        TEXT NOT NULL,
			channel_id       TEXT NOT NULL,
			type             TEXT NOT NULL,
			author           TEXT NOT NULL,
			text             TEXT,
			timestamp        TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_activity_conversation
			ON activity_log(conversation_key, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('activity_log') WHERE name = 'payload'`,
			apply:  `ALTER TABLE activity_log ADD COLUMN payload TEXT`,
			column: "payload",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to activity_log: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "activity_log")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetState retrieves the state stored under key.
// Returns ErrNotFound if nothing has been saved yet.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (*ConversationState, error) {
	query := `SELECT state_key, state, updated_at FROM conversation_state WHERE state_key = ?`

	var st ConversationState
	var updatedAtStr string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&st.Key, &st.State, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying state: %w", err)
	}

	st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &st, nil
}

// SaveState upserts the state for key. Concurrent writers race; the last
// write wins.
func (s *SQLiteStore) SaveState(ctx context.Context, key string, state []byte) error {
	query := `
		INSERT INTO conversation_state (state_key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(state_key) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, state, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	s.logger.Debug("saved state", "key", key, "bytes", len(state))
	return nil
}

// DeleteState removes the state for key. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE state_key = ?`, key); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

// SaveReference upserts the reference for its channel and user.
func (s *SQLiteStore) SaveReference(ctx context.Context, ref *Reference) error {
	query := `
		INSERT INTO conversation_references (channel_id, user_id, conversation_id, reference_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			reference_json = excluded.reference_json,
			updated_at = excluded.updated_at
	`

	updatedAt := ref.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		ref.ChannelID,
		ref.UserID,
		ref.ConversationID,
		string(ref.Data),
		updatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving reference: %w", err)
	}
	return nil
}

// GetReference retrieves the reference saved for a channel and user.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetReference(ctx context.Context, channelID, userID string) (*Reference, error) {
	query := `
		SELECT channel_id, user_id, conversation_id, reference_json, updated_at
		FROM conversation_references
		WHERE channel_id = ? AND user_id = ?
	`

	ref, err := scanReference(s.db.QueryRowContext(ctx, query, channelID, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reference: %w", err)
	}
	return ref, nil
}

// ListReferences returns references for a channel, most recently updated first.
func (s *SQLiteStore) ListReferences(ctx context.Context, channelID string, limit int) ([]*Reference, error) {
	query := `
		SELECT channel_id, user_id, conversation_id, reference_json, updated_at
		FROM conversation_references
		WHERE channel_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, channelID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	var refs []*Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating references: %w", err)
	}
	return refs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReference(row rowScanner) (*Reference, error) {
	var ref Reference
	var data, updatedAtStr string
	if err := row.Scan(&ref.ChannelID, &ref.UserID, &ref.ConversationID, &data, &updatedAtStr); err != nil {
		return nil, err
	}
	ref.Data = []byte(data)

	var err error
	ref.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &ref, nil
}

// SaveActivity appends a transcript entry.
func (s *SQLiteStore) SaveActivity(ctx context.Context, rec *ActivityRecord) error {
	query := `
		INSERT INTO activity_log (activity_id, conversation_key, direction, channel_id, type, author, text, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConversationKey,
		rec.Direction,
		rec.ChannelID,
		rec.Type,
		rec.Author,
		nullString(rec.Text),
		nullString(string(rec.Payload)),
		rec.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// nullString returns nil for empty strings so the column stores NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListActivities returns the most recent transcript entries for a
// conversation in chronological order.
func (s *SQLiteStore) ListActivities(ctx context.Context, conversationKey string, limit int) ([]*ActivityRecord, error) {
	query := `
		SELECT activity_id, conversation_key, direction, channel_id, type, author, text, payload, timestamp
		FROM (
			SELECT *, rowid AS seq FROM activity_log
			WHERE conversation_key = ?
			ORDER BY timestamp DESC, seq DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationKey, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var records []*ActivityRecord
	for rows.Next() {
		var rec ActivityRecord
		var text, payload sql.NullString
		var tsStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.ConversationKey,
			&rec.Direction,
			&rec.ChannelID,
			&rec.Type,
			&rec.Author,
			&text,
			&payload,
			&tsStr,
		); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		rec.Text = text.String
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}
	return records, nil
}
