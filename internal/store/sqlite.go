package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/amp.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/amp.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		alias TEXT NOT NULL UNIQUE COLLATE NOCASE,
		display_name TEXT DEFAULT '',
		session_name TEXT DEFAULT '',
		public_key TEXT DEFAULT '',
		webhook_url TEXT DEFAULT '',
		pickup_key_hash TEXT DEFAULT '',
		external INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		owner TEXT NOT NULL,
		id TEXT NOT NULL,
		box TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		from_alias TEXT DEFAULT '',
		to_alias TEXT DEFAULT '',
		from_label TEXT DEFAULT '',
		to_label TEXT DEFAULT '',
		from_session TEXT DEFAULT '',
		to_session TEXT DEFAULT '',
		from_host TEXT DEFAULT '',
		to_host TEXT DEFAULT '',
		from_verified INTEGER DEFAULT 0,
		ts DATETIME NOT NULL,
		subject TEXT DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		content TEXT NOT NULL,
		in_reply_to TEXT DEFAULT '',
		forwarded_from TEXT,
		amp TEXT,
		PRIMARY KEY (owner, id)
	);

	CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_name);
	CREATE INDEX IF NOT EXISTS idx_messages_owner_box ON messages(owner, box);
	CREATE INDEX IF NOT EXISTS idx_messages_owner_status ON messages(owner, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAgent creates a new agent record.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID.String(), agent.Alias, agent.DisplayName, agent.SessionName, agent.PublicKey,
		agent.WebhookURL, agent.PickupKeyHash, boolToInt(agent.External), now, now)
	if err != nil {
		return nil, err
	}

	return s.GetAgentByID(ctx, agent.ID)
}

// GetAgentByID retrieves an agent by ID.
func (s *SQLiteStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE id = ?`, id.String())
}

// GetAgentByAlias retrieves an agent by alias, case-insensitively.
func (s *SQLiteStore) GetAgentByAlias(ctx context.Context, alias string) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE alias = ? COLLATE NOCASE`, alias)
}

// GetAgentBySession retrieves an agent by its live session name.
func (s *SQLiteStore) GetAgentBySession(ctx context.Context, session string) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE session_name = ?`, session)
}

func (s *SQLiteStore) getAgent(ctx context.Context, where string, arg any) (*models.Agent, error) {
	agent := &models.Agent{}
	var idStr string
	var externalInt int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external, created_at, updated_at
		FROM agents `+where,
		arg).Scan(
		&idStr,
		&agent.Alias,
		&agent.DisplayName,
		&agent.SessionName,
		&agent.PublicKey,
		&agent.WebhookURL,
		&agent.PickupKeyHash,
		&externalInt,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.ID = uuid.MustParse(idStr)
	agent.External = externalInt == 1
	return agent, nil
}

// UpdateAgent rewrites the mutable fields of an agent record.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET display_name = ?, session_name = ?, public_key = ?, webhook_url = ?, pickup_key_hash = ?, external = ?, updated_at = ?
		WHERE id = ?
	`, agent.DisplayName, agent.SessionName, agent.PublicKey, agent.WebhookURL,
		agent.PickupKeyHash, boolToInt(agent.External), time.Now().UTC(), agent.ID.String())
	return err
}

// ListAgents returns all registered agents ordered by alias.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external, created_at, updated_at
		FROM agents ORDER BY alias
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var agent models.Agent
		var idStr string
		var externalInt int
		err := rows.Scan(
			&idStr,
			&agent.Alias,
			&agent.DisplayName,
			&agent.SessionName,
			&agent.PublicKey,
			&agent.WebhookURL,
			&agent.PickupKeyHash,
			&externalInt,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		agent.ID = uuid.MustParse(idStr)
		agent.External = externalInt == 1
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CountAgents returns the total number of registered agents.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// PutInbox writes a message into the owner's inbox.
func (s *SQLiteStore) PutInbox(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxInbox, msg)
}

// PutSent writes a message into the owner's sent folder.
func (s *SQLiteStore) PutSent(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxSent, msg)
}

// PutArchived writes a message directly into the owner's archive.
func (s *SQLiteStore) PutArchived(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxArchived, msg)
}

func (s *SQLiteStore) put(ctx context.Context, owner, box string, msg *models.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return err
	}
	forwarded, err := marshalNullable(msg.ForwardedFrom)
	if err != nil {
		return err
	}
	amp, err := marshalNullable(msg.AMP)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (owner, id, box, from_id, to_id, from_alias, to_alias, from_label, to_label,
			from_session, to_session, from_host, to_host, from_verified, ts, subject, priority, status,
			content, in_reply_to, forwarded_from, amp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, owner, msg.ID, box, msg.From, msg.To, msg.FromAlias, msg.ToAlias, msg.FromLabel, msg.ToLabel,
		msg.FromSession, msg.ToSession, msg.FromHost, msg.ToHost, boolToInt(msg.FromVerified),
		msg.Timestamp.UTC(), msg.Subject, msg.Priority, msg.Status, string(content), msg.InReplyTo,
		forwarded, amp)
	return err
}

const messageColumns = `id, box, from_id, to_id, from_alias, to_alias, from_label, to_label,
	from_session, to_session, from_host, to_host, from_verified, ts, subject, priority, status,
	content, in_reply_to, forwarded_from, amp`

// Get retrieves a message from any of the owner's boxes.
func (s *SQLiteStore) Get(ctx context.Context, owner, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE owner = ? AND id = ?
	`, owner, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// List retrieves messages from one of the owner's boxes, newest first.
func (s *SQLiteStore) List(ctx context.Context, owner string, f ListFilter) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE owner = ?`
	args := []any{owner}

	if f.Box != "" {
		query += ` AND box = ?`
		args = append(args, f.Box)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	if f.From != "" {
		query += ` AND from_id = ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND to_id = ?`
		args = append(args, f.To)
	}
	query += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// MarkRead marks an unread message read. Already-read and archived messages
// are left untouched.
func (s *SQLiteStore) MarkRead(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ? WHERE owner = ? AND id = ? AND status = ?
	`, models.StatusRead, owner, id, models.StatusUnread)
	return err
}

// Archive moves a message to the archive box. Archiving implies read;
// archiving an already-archived message is a no-op.
func (s *SQLiteStore) Archive(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET box = ?, status = ? WHERE owner = ? AND id = ? AND box != ?
	`, models.BoxArchived, models.StatusArchived, owner, id, models.BoxArchived)
	return err
}

// Delete permanently removes a message from the owner's mailbox.
func (s *SQLiteStore) Delete(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE owner = ? AND id = ?
	`, owner, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var box string
	var verifiedInt int
	var content string
	var forwarded, amp sql.NullString

	err := row.Scan(
		&msg.ID,
		&box,
		&msg.From,
		&msg.To,
		&msg.FromAlias,
		&msg.ToAlias,
		&msg.FromLabel,
		&msg.ToLabel,
		&msg.FromSession,
		&msg.ToSession,
		&msg.FromHost,
		&msg.ToHost,
		&verifiedInt,
		&msg.Timestamp,
		&msg.Subject,
		&msg.Priority,
		&msg.Status,
		&content,
		&msg.InReplyTo,
		&forwarded,
		&amp,
	)
	if err != nil {
		return nil, err
	}

	msg.FromVerified = verifiedInt == 1
	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, err
	}
	if forwarded.Valid && forwarded.String != "" {
		msg.ForwardedFrom = &models.ForwardedFrom{}
		if err := json.Unmarshal([]byte(forwarded.String), msg.ForwardedFrom); err != nil {
			return nil, err
		}
	}
	if amp.Valid && amp.String != "" {
		msg.AMP = &models.AMPMeta{}
		if err := json.Unmarshal([]byte(amp.String), msg.AMP); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func marshalNullable(v any) (*string, error) {
	switch x := v.(type) {
	case *models.ForwardedFrom:
		if x == nil {
			return nil, nil
		}
	case *models.AMPMeta:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
