package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/novadesk-api/internal/models"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

type mockTicketRepo struct {
	tickets map[string]*models.Ticket
	nextSeq int64
	deleted []string
}

func newMockTicketRepo(tickets ...*models.Ticket) *mockTicketRepo {
	m := &mockTicketRepo{tickets: map[string]*models.Ticket{}, nextSeq: 41}
	for _, tk := range tickets {
		m.tickets[tk.ID] = tk
	}
	return m
}

func (m *mockTicketRepo) List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error) {
	out := make([]models.Ticket, 0, len(m.tickets))
	for _, tk := range m.tickets {
		out = append(out, *tk)
	}
	return out, len(out), nil
}

func (m *mockTicketRepo) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	if tk, ok := m.tickets[id]; ok {
		return tk, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTicketRepo) Create(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = "t-" + ticket.Reference
	}
	m.tickets[ticket.ID] = ticket
	return nil
}

func (m *mockTicketRepo) Update(ctx context.Context, ticket *models.Ticket) error {
	m.tickets[ticket.ID] = ticket
	return nil
}

func (m *mockTicketRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.tickets, id)
	return nil
}

func (m *mockTicketRepo) NextReference(ctx context.Context) (int64, error) {
	m.nextSeq++
	return m.nextSeq, nil
}

func seedTicket(status models.TicketStatus) *models.Ticket {
	return &models.Ticket{
		ID:          "t1",
		Reference:   "INC-000001",
		Title:       "Printer offline",
		Description: "Third floor printer unreachable",
		Status:      status,
		Priority:    models.PriorityMedium,
		ReporterID:  "u1",
	}
}

func TestTicketCreateAllocatesReference(t *testing.T) {
	repo := newMockTicketRepo()
	svc := NewTicketService(repo, nil, nil, nil)

	ticket, err := svc.Create(context.Background(), "u1", CreateTicketRequest{
		Title:       "VPN drops",
		Description: "Disconnects every few minutes",
		Priority:    "HIGH",
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-000042", ticket.Reference)
	assert.Equal(t, models.TicketOpen, ticket.Status)
	assert.Equal(t, "u1", ticket.ReporterID)
	assert.Nil(t, ticket.CustomerID)
}

func TestTicketCreateRejectsUnknownPriority(t *testing.T) {
	svc := NewTicketService(newMockTicketRepo(), nil, nil, nil)

	_, err := svc.Create(context.Background(), "u1", CreateTicketRequest{
		Title:       "VPN drops",
		Description: "Disconnects every few minutes",
		Priority:    "URGENT",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTicketTransitionWorkflow(t *testing.T) {
	cases := []struct {
		from    models.TicketStatus
		to      string
		allowed bool
	}{
		{models.TicketOpen, "IN_PROGRESS", true},
		{models.TicketOpen, "RESOLVED", true},
		{models.TicketOpen, "CLOSED", false},
		{models.TicketInProgress, "OPEN", true},
		{models.TicketInProgress, "RESOLVED", true},
		{models.TicketInProgress, "CLOSED", false},
		{models.TicketResolved, "CLOSED", true},
		{models.TicketResolved, "IN_PROGRESS", true},
		{models.TicketResolved, "OPEN", false},
		{models.TicketClosed, "OPEN", false},
		{models.TicketClosed, "IN_PROGRESS", false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+tc.to, func(t *testing.T) {
			repo := newMockTicketRepo(seedTicket(tc.from))
			svc := NewTicketService(repo, nil, nil, nil)

			ticket, err := svc.Transition(context.Background(), "u1", "t1", TransitionTicketRequest{Status: tc.to})
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, models.TicketStatus(tc.to), ticket.Status)
			} else {
				require.Error(t, err)
				assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
			}
		})
	}
}

func TestTicketTransitionToResolvedStampsTimestamp(t *testing.T) {
	repo := newMockTicketRepo(seedTicket(models.TicketInProgress))
	svc := NewTicketService(repo, nil, nil, nil)

	ticket, err := svc.Transition(context.Background(), "u1", "t1", TransitionTicketRequest{Status: "RESOLVED"})
	require.NoError(t, err)
	require.NotNil(t, ticket.ResolvedAt)
	assert.WithinDuration(t, time.Now(), *ticket.ResolvedAt, 5*time.Second)
}

func TestTicketUpdateRejectsClosed(t *testing.T) {
	repo := newMockTicketRepo(seedTicket(models.TicketClosed))
	svc := NewTicketService(repo, nil, nil, nil)

	_, err := svc.Update(context.Background(), "u1", "t1", UpdateTicketRequest{
		Title:       "New title",
		Description: "New description",
		Priority:    "LOW",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestTicketAssignAndClear(t *testing.T) {
	repo := newMockTicketRepo(seedTicket(models.TicketOpen))
	svc := NewTicketService(repo, nil, nil, nil)

	ticket, err := svc.Assign(context.Background(), "u1", "t1", AssignTicketRequest{AssigneeID: "agent-7"})
	require.NoError(t, err)
	require.NotNil(t, ticket.AssigneeID)
	assert.Equal(t, "agent-7", *ticket.AssigneeID)

	ticket, err = svc.Assign(context.Background(), "u1", "t1", AssignTicketRequest{})
	require.NoError(t, err)
	assert.Nil(t, ticket.AssigneeID)
}

func TestTicketAssignRejectsClosed(t *testing.T) {
	repo := newMockTicketRepo(seedTicket(models.TicketClosed))
	svc := NewTicketService(repo, nil, nil, nil)

	_, err := svc.Assign(context.Background(), "u1", "t1", AssignTicketRequest{AssigneeID: "agent-7"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestTicketDeleteWritesAudit(t *testing.T) {
	repo := newMockTicketRepo(seedTicket(models.TicketOpen))
	audit := &mockAudit{}
	svc := NewTicketService(repo, audit, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "admin-1", "t1"))
	assert.Equal(t, []string{"t1"}, repo.deleted)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionTicketWrite, audit.entries[0].Action)
}

func TestTicketGetNotFound(t *testing.T) {
	svc := NewTicketService(newMockTicketRepo(), nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
