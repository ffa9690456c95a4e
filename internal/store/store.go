package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// AgentStore is the agent directory contract backing address resolution and
// registration. Lookup methods return (nil, nil) when no record matches.
type AgentStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error)
	GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByAlias(ctx context.Context, alias string) (*models.Agent, error)
	GetAgentBySession(ctx context.Context, session string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	ListAgents(ctx context.Context) ([]models.Agent, error)
	CountAgents(ctx context.Context) (int64, error)
}

// ListFilter narrows a mailbox listing. Zero values mean "any".
type ListFilter struct {
	Box      string // inbox, sent, archived
	Status   string
	Priority string
	From     string // sender agent id
	To       string // recipient agent id
	Limit    int
	Offset   int
}

// MailboxStore is the durable mailbox contract. Owners are agent ids; a
// message row is keyed by (owner, message id), so the sender's sent copy and
// the recipient's inbox copy are independent rows. Get is box-agnostic:
// archiving moves a message between boxes without changing its key.
type MailboxStore interface {
	PutInbox(ctx context.Context, owner string, msg *models.Message) error
	PutSent(ctx context.Context, owner string, msg *models.Message) error
	PutArchived(ctx context.Context, owner string, msg *models.Message) error
	Get(ctx context.Context, owner, id string) (*models.Message, error)
	List(ctx context.Context, owner string, f ListFilter) ([]models.Message, error)
	MarkRead(ctx context.Context, owner, id string) error
	Archive(ctx context.Context, owner, id string) error
	Delete(ctx context.Context, owner, id string) error
}

// DataStore is the combined persistence contract. Both PostgresStore and
// SQLiteStore implement it.
type DataStore interface {
	AgentStore
	MailboxStore
}
