package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/novadesk/novadesk-api/internal/models"
	appErrors "github.com/novadesk/novadesk-api/pkg/errors"
)

type ticketRepository interface {
	List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error)
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	Create(ctx context.Context, ticket *models.Ticket) error
	Update(ctx context.Context, ticket *models.Ticket) error
	Delete(ctx context.Context, id string) error
	NextReference(ctx context.Context) (int64, error)
}

// CreateTicketRequest holds the payload for opening a ticket.
type CreateTicketRequest struct {
	CustomerID  string `json:"customer_id"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// UpdateTicketRequest holds the payload for editing ticket content.
type UpdateTicketRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	Priority    string `json:"priority" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// AssignTicketRequest sets or clears the assignee.
type AssignTicketRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// TransitionTicketRequest moves a ticket through its workflow.
type TransitionTicketRequest struct {
	Status string `json:"status" validate:"required,oneof=OPEN IN_PROGRESS RESOLVED CLOSED"`
}

// TicketService handles incident-ticket use cases.
type TicketService struct {
	repo      ticketRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTicketService constructs the ticket service.
func NewTicketService(repo ticketRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *TicketService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns tickets and pagination metadata.
func (s *TicketService) List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, *models.Pagination, error) {
	tickets, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tickets")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return tickets, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single ticket.
func (s *TicketService) Get(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "ticket not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}
	return ticket, nil
}

// Create opens a new ticket reported by the calling user.
func (s *TicketService) Create(ctx context.Context, reporterID string, req CreateTicketRequest) (*models.Ticket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ticket payload")
	}

	seq, err := s.repo.NextReference(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate ticket reference")
	}

	ticket := &models.Ticket{
		Reference:   fmt.Sprintf("INC-%06d", seq),
		ReporterID:  reporterID,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TicketOpen,
		Priority:    models.TicketPriority(req.Priority),
	}
	if req.CustomerID != "" {
		ticket.CustomerID = &req.CustomerID
	}

	if err := s.repo.Create(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create ticket")
	}

	s.writeAudit(ctx, reporterID, ticket.ID, `{"op":"create"}`)
	return ticket, nil
}

// Update edits ticket content. Closed tickets are immutable.
func (s *TicketService) Update(ctx context.Context, actorID, id string, req UpdateTicketRequest) (*models.Ticket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ticket payload")
	}

	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status == models.TicketClosed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "closed tickets cannot be edited")
	}

	ticket.Title = req.Title
	ticket.Description = req.Description
	ticket.Priority = models.TicketPriority(req.Priority)

	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update ticket")
	}

	s.writeAudit(ctx, actorID, ticket.ID, `{"op":"update"}`)
	return ticket, nil
}

// Assign sets or clears the assignee.
func (s *TicketService) Assign(ctx context.Context, actorID, id string, req AssignTicketRequest) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status == models.TicketClosed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "closed tickets cannot be reassigned")
	}

	if req.AssigneeID == "" {
		ticket.AssigneeID = nil
	} else {
		ticket.AssigneeID = &req.AssigneeID
	}

	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign ticket")
	}

	s.writeAudit(ctx, actorID, ticket.ID, `{"op":"assign"}`)
	return ticket, nil
}

// Transition moves the ticket to the requested status, enforcing the
// workflow guard. Entering RESOLVED stamps resolved_at.
func (s *TicketService) Transition(ctx context.Context, actorID, id string, req TransitionTicketRequest) (*models.Ticket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := models.TicketStatus(req.Status)
	if !ticket.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("cannot transition ticket from %s to %s", ticket.Status, next))
	}

	ticket.Status = next
	if next == models.TicketResolved {
		now := time.Now().UTC()
		ticket.ResolvedAt = &now
	}

	if err := s.repo.Update(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition ticket")
	}

	s.writeAudit(ctx, actorID, ticket.ID, fmt.Sprintf(`{"op":"transition","to":%q}`, next))
	return ticket, nil
}

// Delete removes a ticket. Admin-only at the routing layer.
func (s *TicketService) Delete(ctx context.Context, actorID, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete ticket")
	}
	s.writeAudit(ctx, actorID, id, `{"op":"delete"}`)
	return nil
}

func (s *TicketService) writeAudit(ctx context.Context, actorID, ticketID, details string) {
	if s.audit == nil {
		return
	}
	err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionTicketWrite,
		Resource:   "tickets",
		ResourceID: &ticketID,
		NewValues:  []byte(details),
	})
	if err != nil {
		s.logger.Warn("failed to record ticket audit log", zap.Error(err))
	}
}
