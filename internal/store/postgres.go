package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id UUID PRIMARY KEY,
		alias TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		session_name TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		pickup_key_hash TEXT NOT NULL DEFAULT '',
		external BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_alias ON agents(LOWER(alias));
	CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_name);

	CREATE TABLE IF NOT EXISTS messages (
		owner TEXT NOT NULL,
		id TEXT NOT NULL,
		box TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		from_alias TEXT NOT NULL DEFAULT '',
		to_alias TEXT NOT NULL DEFAULT '',
		from_label TEXT NOT NULL DEFAULT '',
		to_label TEXT NOT NULL DEFAULT '',
		from_session TEXT NOT NULL DEFAULT '',
		to_session TEXT NOT NULL DEFAULT '',
		from_host TEXT NOT NULL DEFAULT '',
		to_host TEXT NOT NULL DEFAULT '',
		from_verified BOOLEAN NOT NULL DEFAULT FALSE,
		ts TIMESTAMPTZ NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		content JSONB NOT NULL,
		in_reply_to TEXT NOT NULL DEFAULT '',
		forwarded_from JSONB,
		amp JSONB,
		PRIMARY KEY (owner, id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_owner_box ON messages(owner, box);
	CREATE INDEX IF NOT EXISTS idx_messages_owner_status ON messages(owner, status);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAgent creates a new agent record.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}

	created := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external, created_at, updated_at
	`, agent.ID, agent.Alias, agent.DisplayName, agent.SessionName, agent.PublicKey,
		agent.WebhookURL, agent.PickupKeyHash, agent.External).Scan(
		&created.ID,
		&created.Alias,
		&created.DisplayName,
		&created.SessionName,
		&created.PublicKey,
		&created.WebhookURL,
		&created.PickupKeyHash,
		&created.External,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return created, nil
}

const agentColumnsPG = `id, alias, display_name, session_name, public_key, webhook_url, pickup_key_hash, external, created_at, updated_at`

// GetAgentByID retrieves an agent by ID.
func (s *PostgresStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE id = $1`, id)
}

// GetAgentByAlias retrieves an agent by alias, case-insensitively.
func (s *PostgresStore) GetAgentByAlias(ctx context.Context, alias string) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE LOWER(alias) = LOWER($1)`, alias)
}

// GetAgentBySession retrieves an agent by its live session name.
func (s *PostgresStore) GetAgentBySession(ctx context.Context, session string) (*models.Agent, error) {
	return s.getAgent(ctx, `WHERE session_name = $1`, session)
}

func (s *PostgresStore) getAgent(ctx context.Context, where string, arg any) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `SELECT `+agentColumnsPG+` FROM agents `+where, arg).Scan(
		&agent.ID,
		&agent.Alias,
		&agent.DisplayName,
		&agent.SessionName,
		&agent.PublicKey,
		&agent.WebhookURL,
		&agent.PickupKeyHash,
		&agent.External,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// UpdateAgent rewrites the mutable fields of an agent record.
func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET display_name = $1, session_name = $2, public_key = $3, webhook_url = $4, pickup_key_hash = $5, external = $6, updated_at = NOW()
		WHERE id = $7
	`, agent.DisplayName, agent.SessionName, agent.PublicKey, agent.WebhookURL,
		agent.PickupKeyHash, agent.External, agent.ID)
	return err
}

// ListAgents returns all registered agents ordered by alias.
func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumnsPG+` FROM agents ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var agent models.Agent
		err := rows.Scan(
			&agent.ID,
			&agent.Alias,
			&agent.DisplayName,
			&agent.SessionName,
			&agent.PublicKey,
			&agent.WebhookURL,
			&agent.PickupKeyHash,
			&agent.External,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CountAgents returns the total number of registered agents.
func (s *PostgresStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// PutInbox writes a message into the owner's inbox.
func (s *PostgresStore) PutInbox(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxInbox, msg)
}

// PutSent writes a message into the owner's sent folder.
func (s *PostgresStore) PutSent(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxSent, msg)
}

// PutArchived writes a message directly into the owner's archive.
func (s *PostgresStore) PutArchived(ctx context.Context, owner string, msg *models.Message) error {
	return s.put(ctx, owner, models.BoxArchived, msg)
}

func (s *PostgresStore) put(ctx context.Context, owner, box string, msg *models.Message) error {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (owner, id, box, from_id, to_id, from_alias, to_alias, from_label, to_label,
			from_session, to_session, from_host, to_host, from_verified, ts, subject, priority, status,
			content, in_reply_to, forwarded_from, amp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, owner, msg.ID, box, msg.From, msg.To, msg.FromAlias, msg.ToAlias, msg.FromLabel, msg.ToLabel,
		msg.FromSession, msg.ToSession, msg.FromHost, msg.ToHost, msg.FromVerified,
		msg.Timestamp.UTC(), msg.Subject, msg.Priority, msg.Status, string(content), msg.InReplyTo,
		forwarded, amp)
	return err
}

const messageColumnsPG = `id, box, from_id, to_id, from_alias, to_alias, from_label, to_label,
	from_session, to_session, from_host, to_host, from_verified, ts, subject, priority, status,
	content::TEXT, in_reply_to, forwarded_from::TEXT, amp::TEXT`

// Get retrieves a message from any of the owner's boxes.
func (s *PostgresStore) Get(ctx context.Context, owner, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumnsPG+` FROM messages WHERE owner = $1 AND id = $2
	`, owner, id)
	msg, err := scanMessagePG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// List retrieves messages from one of the owner's boxes, newest first.
func (s *PostgresStore) List(ctx context.Context, owner string, f ListFilter) ([]models.Message, error) {
	query := `SELECT ` + messageColumnsPG + ` FROM messages WHERE owner = $1`
	args := []any{owner}

	n := 1
	add := func(clause string, arg any) {
		n++
		query += clause + `$` + strconv.Itoa(n)
		args = append(args, arg)
	}
	if f.Box != "" {
		add(` AND box = `, f.Box)
	}
	if f.Status != "" {
		add(` AND status = `, f.Status)
	}
	if f.Priority != "" {
		add(` AND priority = `, f.Priority)
	}
	if f.From != "" {
		add(` AND from_id = `, f.From)
	}
	if f.To != "" {
		add(` AND to_id = `, f.To)
	}
	query += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		add(` LIMIT `, f.Limit)
		add(` OFFSET `, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessagePG(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// MarkRead marks an unread message read. Already-read and archived messages
// are left untouched.
func (s *PostgresStore) MarkRead(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $1 WHERE owner = $2 AND id = $3 AND status = $4
	`, models.StatusRead, owner, id, models.StatusUnread)
	return err
}

// Archive moves a message to the archive box. Archiving implies read;
// archiving an already-archived message is a no-op.
func (s *PostgresStore) Archive(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET box = $1, status = $2 WHERE owner = $3 AND id = $4 AND box != $1
	`, models.BoxArchived, models.StatusArchived, owner, id)
	return err
}

// Delete permanently removes a message from the owner's mailbox.
func (s *PostgresStore) Delete(ctx context.Context, owner, id string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE owner = $1 AND id = $2
	`, owner, id)
	return err
}

func scanMessagePG(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var box string
	var content string
	var forwarded, amp *string

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
		&msg.FromVerified,
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

	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, err
	}
	if forwarded != nil && *forwarded != "" {
		msg.ForwardedFrom = &models.ForwardedFrom{}
		if err := json.Unmarshal([]byte(*forwarded), msg.ForwardedFrom); err != nil {
			return nil, err
		}
	}
	if amp != nil && *amp != "" {
		msg.AMP = &models.AMPMeta{}
		if err := json.Unmarshal([]byte(*amp), msg.AMP); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
