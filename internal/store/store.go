// Package store persists bot state in SQLite: enabled communities with
// their rule documents and per-queue watermarks, shared standard condition
// definitions, the per-item action log, and miscellaneous key/value state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"automod/internal/engine"
	"automod/internal/site"
)

// Community is one row of the communities table.
type Community struct {
	Name                  string
	Enabled               bool
	ExcludeBannedModqueue bool
	ConditionsYAML        string
	LastSubmission        time.Time
	LastSpam              time.Time
	LastComment           time.Time
}

// LastSeen returns the community's watermark for a queue. The report queue
// has no watermark; it is bounded by the backlog window instead.
func (c *Community) LastSeen(queue site.Queue) time.Time {
	switch queue {
	case site.QueueSubmission:
		return c.LastSubmission
	case site.QueueSpam:
		return c.LastSpam
	case site.QueueComment:
		return c.LastComment
	default:
		return time.Time{}
	}
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the database at path, creating the schema if needed.
// Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS communities (
		name TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		exclude_banned_modqueue INTEGER NOT NULL DEFAULT 0,
		conditions_yaml TEXT NOT NULL DEFAULT '',
		last_submission DATETIME,
		last_spam DATETIME,
		last_comment DATETIME
	);

	CREATE TABLE IF NOT EXISTS standard_conditions (
		name TEXT PRIMARY KEY COLLATE NOCASE,
		yaml TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_fullname TEXT NOT NULL,
		condition_yaml TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_action_log_item ON action_log(item_fullname);

	CREATE TABLE IF NOT EXISTS bot_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnabledCommunities returns every enabled community row.
func (s *Store) EnabledCommunities() ([]*Community, error) {
	rows, err := s.db.Query(`
		SELECT name, enabled, exclude_banned_modqueue, conditions_yaml,
		       last_submission, last_spam, last_comment
		FROM communities WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query communities: %w", err)
	}
	defer rows.Close()

	var out []*Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Community returns one community row by name, or nil when absent.
func (s *Store) Community(name string) (*Community, error) {
	row := s.db.QueryRow(`
		SELECT name, enabled, exclude_banned_modqueue, conditions_yaml,
		       last_submission, last_spam, last_comment
		FROM communities WHERE name = ?`, name)
	c, err := scanCommunity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommunity(row rowScanner) (*Community, error) {
	var c Community
	var lastSubmission, lastSpam, lastComment sql.NullTime
	err := row.Scan(&c.Name, &c.Enabled, &c.ExcludeBannedModqueue, &c.ConditionsYAML,
		&lastSubmission, &lastSpam, &lastComment)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan community: %w", err)
	}
	c.LastSubmission = lastSubmission.Time
	c.LastSpam = lastSpam.Time
	c.LastComment = lastComment.Time
	return &c, nil
}

// UpsertCommunity inserts or replaces a community row.
func (s *Store) UpsertCommunity(c *Community) error {
	_, err := s.db.Exec(`
		INSERT INTO communities
			(name, enabled, exclude_banned_modqueue, conditions_yaml,
			 last_submission, last_spam, last_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			exclude_banned_modqueue = excluded.exclude_banned_modqueue,
			conditions_yaml = excluded.conditions_yaml,
			last_submission = excluded.last_submission,
			last_spam = excluded.last_spam,
			last_comment = excluded.last_comment`,
		c.Name, c.Enabled, c.ExcludeBannedModqueue, c.ConditionsYAML,
		nullTime(c.LastSubmission), nullTime(c.LastSpam), nullTime(c.LastComment))
	if err != nil {
		return fmt.Errorf("failed to upsert community %s: %w", c.Name, err)
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// SetLastSeen advances one queue watermark for a community.
func (s *Store) SetLastSeen(community string, queue site.Queue, t time.Time) error {
	var column string
	switch queue {
	case site.QueueSubmission:
		column = "last_submission"
	case site.QueueSpam:
		column = "last_spam"
	case site.QueueComment:
		column = "last_comment"
	default:
		return fmt.Errorf("queue %q has no watermark", queue)
	}
	_, err := s.db.Exec(
		fmt.Sprintf("UPDATE communities SET %s = ? WHERE name = ?", column),
		t, community)
	if err != nil {
		return fmt.Errorf("failed to update %s for %s: %w", column, community, err)
	}
	return nil
}

// ListStandardConditions returns every standard condition fragment keyed by
// name. Names collate case-insensitively.
func (s *Store) ListStandardConditions() (map[string]string, error) {
	rows, err := s.db.Query("SELECT name, yaml FROM standard_conditions")
	if err != nil {
		return nil, fmt.Errorf("failed to query standard conditions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, yaml string
		if err := rows.Scan(&name, &yaml); err != nil {
			return nil, fmt.Errorf("failed to scan standard condition: %w", err)
		}
		out[name] = yaml
	}
	return out, rows.Err()
}

// UpsertStandardCondition inserts or replaces one standard condition.
func (s *Store) UpsertStandardCondition(name, yaml string) error {
	_, err := s.db.Exec(`
		INSERT INTO standard_conditions (name, yaml) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET yaml = excluded.yaml`, name, yaml)
	if err != nil {
		return fmt.Errorf("failed to upsert standard condition %s: %w", name, err)
	}
	return nil
}

// ActionsForItem returns the logged rows for one item.
func (s *Store) ActionsForItem(fullname string) ([]engine.LoggedAction, error) {
	rows, err := s.db.Query(
		"SELECT condition_yaml, action FROM action_log WHERE item_fullname = ?",
		fullname)
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}
	defer rows.Close()

	var out []engine.LoggedAction
	for rows.Next() {
		var e engine.LoggedAction
		if err := rows.Scan(&e.ConditionYAML, &e.Action); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendAction records one performed action. action may be empty for
// conditions that only send messages.
func (s *Store) AppendAction(itemFullname, conditionYAML, action string) error {
	_, err := s.db.Exec(`
		INSERT INTO action_log (item_fullname, condition_yaml, action, created_at)
		VALUES (?, ?, ?, ?)`,
		itemFullname, conditionYAML, action, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}
	return nil
}

// GetState returns a bot_state value, or "" when the key is absent.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM bot_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a bot_state value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}
