// internal/state/session.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/kasuwabot/internal/types"
)

// SessionStore is a SQLite-backed session store. Sessions and their
// append-only history live in one database file per tenant.
type SessionStore struct {
	db *sql.DB

	// Serializes read-modify-write operations (history append, welcome
	// transition) to avoid SQLITE_BUSY under concurrent lanes.
	mu sync.Mutex
}

// NewSessionStore opens (or creates) the session database at dbPath.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the writer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SessionStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SessionStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		phone TEXT PRIMARY KEY,
		has_received_welcome INTEGER NOT NULL DEFAULT 0,
		ad_source_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_reengaged_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS history (
		phone TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sender TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (phone, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_history_phone_ts ON history(phone, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Get returns the session for phone, or nil if none exists.
func (s *SessionStore) Get(ctx context.Context, phone string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT phone, has_received_welcome, ad_source_json, created_at, updated_at, last_reengaged_at
		FROM sessions WHERE phone = ?`, phone)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var welcomed int
	var adJSON sql.NullString
	var createdAt, updatedAt int64
	var reengagedAt sql.NullInt64

	if err := row.Scan(&sess.Phone, &welcomed, &adJSON, &createdAt, &updatedAt, &reengagedAt); err != nil {
		return nil, err
	}
	sess.HasReceivedWelcome = welcomed != 0
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if reengagedAt.Valid {
		t := time.Unix(reengagedAt.Int64, 0).UTC()
		sess.LastReengagedAt = &t
	}
	if adJSON.Valid && adJSON.String != "" {
		var ad types.AdSource
		if err := json.Unmarshal([]byte(adJSON.String), &ad); err == nil {
			sess.AdSource = &ad
		}
	}
	return &sess, nil
}

// CreateIfAbsent returns the session for phone, creating it atomically on
// first contact. INSERT OR IGNORE makes concurrent first contacts safe.
func (s *SessionStore) CreateIfAbsent(ctx context.Context, phone string, ad *types.AdSource) (*types.Session, bool, error) {
	var adJSON any
	if ad != nil {
		data, err := json.Marshal(ad)
		if err != nil {
			return nil, false, fmt.Errorf("marshal ad source: %w", err)
		}
		adJSON = string(data)
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (phone, has_received_welcome, ad_source_json, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?)`, phone, adJSON, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	sess, err := s.Get(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, fmt.Errorf("session %s missing after create", phone)
	}
	return sess, rows > 0, nil
}

// AppendHistory appends one entry to the session's ordered history,
// assigning the next per-phone sequence number.
func (s *SessionStore) AppendHistory(ctx context.Context, phone string, entry *types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM history WHERE phone = ?`, phone).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (phone, seq, sender, type, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		phone, seq, string(entry.Sender), string(entry.Type), entry.Content, ts.Unix()); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE phone = ?`, time.Now().Unix(), phone); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	entry.Seq = seq
	return nil
}

// History returns up to limit most recent entries in chronological order.
// limit <= 0 means no limit.
func (s *SessionStore) History(ctx context.Context, phone string, limit int) ([]*types.HistoryEntry, error) {
	query := `
		SELECT seq, sender, type, content, timestamp
		FROM history WHERE phone = ? ORDER BY seq DESC`
	args := []any{phone}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		var ts int64
		if err := rows.Scan(&e.Seq, &e.Sender, &e.Type, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LastEntryAt returns the timestamp of the most recent history entry, or
// the zero time if the history is empty.
func (s *SessionStore) LastEntryAt(ctx context.Context, phone string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM history WHERE phone = ?`, phone).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last entry: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// SetWelcomeSent transitions HasReceivedWelcome false->true. The returned
// bool reports whether this call performed the transition; a concurrent
// duplicate sees false and must not resend the welcome sequence.
func (s *SessionStore) SetWelcomeSent(ctx context.Context, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET has_received_welcome = 1, updated_at = ?
		WHERE phone = ? AND has_received_welcome = 0`, time.Now().Unix(), phone)
	if err != nil {
		return false, fmt.Errorf("set welcome sent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkReengaged records that a reengagement template was sent now.
func (s *SessionStore) MarkReengaged(ctx context.Context, phone string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_reengaged_at = ?, updated_at = ? WHERE phone = ?`,
		now, now, phone)
	if err != nil {
		return fmt.Errorf("mark reengaged: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", phone)
	}
	return nil
}

// List returns all sessions ordered by creation time.
func (s *SessionStore) List(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phone, has_received_welcome, ad_source_json, created_at, updated_at, last_reengaged_at
		FROM sessions ORDER BY created_at, phone`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Dormant returns phones of welcomed sessions whose last history entry
// predates cutoff and that were not already re-engaged since then.
func (s *SessionStore) Dormant(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.phone FROM sessions s
		JOIN history h ON h.phone = s.phone
		WHERE s.has_received_welcome = 1
		GROUP BY s.phone
		HAVING MAX(h.timestamp) < ?
		   AND (s.last_reengaged_at IS NULL OR s.last_reengaged_at < ?)
		ORDER BY s.phone`, cutoff.Unix(), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query dormant sessions: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("scan dormant row: %w", err)
		}
		phones = append(phones, phone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dormant sessions: %w", err)
	}
	return phones, nil
}

// DeleteSession removes a session and its history. Used by management
// tooling only; the core never deletes sessions.
func (s *SessionStore) DeleteSession(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}
