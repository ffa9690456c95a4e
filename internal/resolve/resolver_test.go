package resolve

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// fakeDirectory is an in-memory AgentStore with just enough behavior for
// resolution tests.
type fakeDirectory struct {
	agents []models.Agent
}

func (f *fakeDirectory) Close()                           {}
func (f *fakeDirectory) Ping(ctx context.Context) error   { return nil }
func (f *fakeDirectory) CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error) {
	f.agents = append(f.agents, *a)
	return a, nil
}
func (f *fakeDirectory) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	for i := range f.agents {
		if f.agents[i].ID == id {
			return &f.agents[i], nil
		}
	}
	return nil, nil
}
func (f *fakeDirectory) GetAgentByAlias(ctx context.Context, alias string) (*models.Agent, error) {
	for i := range f.agents {
		if strings.EqualFold(f.agents[i].Alias, alias) {
			return &f.agents[i], nil
		}
	}
	return nil, nil
}
func (f *fakeDirectory) GetAgentBySession(ctx context.Context, session string) (*models.Agent, error) {
	for i := range f.agents {
		if f.agents[i].SessionName == session {
			return &f.agents[i], nil
		}
	}
	return nil, nil
}
func (f *fakeDirectory) UpdateAgent(ctx context.Context, a *models.Agent) error { return nil }
func (f *fakeDirectory) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return f.agents, nil
}
func (f *fakeDirectory) CountAgents(ctx context.Context) (int64, error) {
	return int64(len(f.agents)), nil
}

func testResolver() (*Resolver, uuid.UUID) {
	crmID := uuid.New()
	// Fixture is pre-sorted by alias; ListAgents promises that order.
	dir := &fakeDirectory{agents: []models.Agent{
		{ID: uuid.New(), Alias: "billing", SessionName: "23blocks-api-billing"},
		{ID: crmID, Alias: "crm", DisplayName: "CRM Agent", SessionName: "23blocks-api-crm"},
		{ID: uuid.New(), Alias: "scout", SessionName: ""},
	}}
	return New(dir), crmID
}

func TestResolveByID(t *testing.T) {
	r, crmID := testResolver()
	got, err := r.Resolve(context.Background(), crmID.String())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Alias != "crm" {
		t.Fatalf("id resolution failed: %+v", got)
	}
}

func TestResolveByAliasCaseInsensitive(t *testing.T) {
	r, _ := testResolver()
	got, err := r.Resolve(context.Background(), "CRM")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Alias != "crm" {
		t.Fatalf("alias resolution failed: %+v", got)
	}
}

func TestResolveBySessionName(t *testing.T) {
	r, _ := testResolver()
	got, err := r.Resolve(context.Background(), "23blocks-api-billing")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Alias != "billing" {
		t.Fatalf("session resolution failed: %+v", got)
	}
}

func TestResolveBySessionSegment(t *testing.T) {
	r, _ := testResolver()

	// "api" is a segment of both session names; alias order makes billing win.
	got, err := r.Resolve(context.Background(), "api")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Alias != "billing" {
		t.Fatalf("segment resolution should be stable by alias order: %+v", got)
	}
}

func TestResolveSegmentIsWholeSegment(t *testing.T) {
	r, _ := testResolver()

	// "cr" is a prefix of the "crm" segment but not a whole segment.
	got, err := r.Resolve(context.Background(), "cr")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("substring should not match: %+v", got)
	}
}

func TestResolveUnknown(t *testing.T) {
	r, _ := testResolver()
	got, err := r.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestResolveOrderPrefersAlias(t *testing.T) {
	// An agent whose alias collides with another's session segment: the
	// alias lookup runs first.
	dir := &fakeDirectory{agents: []models.Agent{
		{ID: uuid.New(), Alias: "worker", SessionName: "infra-core"},
		{ID: uuid.New(), Alias: "core", SessionName: "misc"},
	}}
	r := New(dir)

	got, err := r.Resolve(context.Background(), "core")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Alias != "core" {
		t.Fatalf("alias should win over session segment: %+v", got)
	}
}

func TestParseQualifiedAddress(t *testing.T) {
	cases := []struct {
		in     string
		ident  string
		hostID string
	}{
		{"crm", "crm", ""},
		{"crm@mainframe", "crm", "mainframe"},
		{" crm@mainframe ", "crm", "mainframe"},
		{"crm@", "crm", ""},
		{"@mainframe", "", "mainframe"},
	}
	for _, tc := range cases {
		ident, hostID := ParseQualifiedAddress(tc.in)
		if ident != tc.ident || hostID != tc.hostID {
			t.Errorf("ParseQualifiedAddress(%q) = (%q, %q), want (%q, %q)",
				tc.in, ident, hostID, tc.ident, tc.hostID)
		}
	}
}
