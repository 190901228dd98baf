package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novadesk/novadesk-api/internal/models"
)

const ticketColumns = `id, reference, title, description, status, priority, customer_id, reporter_id, assignee_id, resolved_at, created_at, updated_at`

// TicketRepository provides database access for incident tickets.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a new instance of TicketRepository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// NextReference returns the next value of the ticket reference sequence.
func (r *TicketRepository) NextReference(ctx context.Context) (int64, error) {
	var next int64
	if err := r.db.GetContext(ctx, &next, `SELECT nextval('ticket_reference_seq')`); err != nil {
		return 0, fmt.Errorf("next ticket reference: %w", err)
	}
	return next, nil
}

// FindByID returns a ticket by identifier.
func (r *TicketRepository) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id = $1 LIMIT 1`, ticketColumns)
	var ticket models.Ticket
	if err := r.db.GetContext(ctx, &ticket, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find ticket by id: %w", err)
	}
	return &ticket, nil
}

// Create inserts a new ticket.
func (r *TicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now

	const query = `INSERT INTO tickets (id, reference, title, description, status, priority, customer_id, reporter_id, assignee_id, created_at, updated_at) VALUES (:id, :reference, :title, :description, :status, :priority, :customer_id, :reporter_id, :assignee_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ticket); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// Update rewrites the mutable ticket fields.
func (r *TicketRepository) Update(ctx context.Context, ticket *models.Ticket) error {
	ticket.UpdatedAt = time.Now().UTC()

	const query = `UPDATE tickets SET title = :title, description = :description, status = :status, priority = :priority, customer_id = :customer_id, assignee_id = :assignee_id, resolved_at = :resolved_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, ticket); err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	return nil
}

// Delete removes a ticket row.
func (r *TicketRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM tickets WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

// List returns tickets based on filters with total count.
func (r *TicketRepository) List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error) {
	baseQuery := `FROM tickets WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.CustomerID != "" {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)+1))
		args = append(args, filter.CustomerID)
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", len(args)+1))
		args = append(args, filter.AssigneeID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR reference LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"reference":  true,
		"priority":   true,
		"status":     true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", ticketColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var tickets []models.Ticket
	if err := r.db.SelectContext(ctx, &tickets, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	return tickets, total, nil
}
