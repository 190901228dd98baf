package models

import "time"

// TicketStatus is the workflow state of an incident ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "OPEN"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketClosed     TicketStatus = "CLOSED"
)

// TicketPriority ranks the urgency of a ticket.
type TicketPriority string

const (
	PriorityLow      TicketPriority = "LOW"
	PriorityMedium   TicketPriority = "MEDIUM"
	PriorityHigh     TicketPriority = "HIGH"
	PriorityCritical TicketPriority = "CRITICAL"
)

// Ticket represents an incident ticket.
type Ticket struct {
	ID          string         `db:"id" json:"id"`
	Reference   string         `db:"reference" json:"reference"`
	CustomerID  *string        `db:"customer_id" json:"customer_id,omitempty"`
	ReporterID  string         `db:"reporter_id" json:"reporter_id"`
	AssigneeID  *string        `db:"assignee_id" json:"assignee_id,omitempty"`
	Title       string         `db:"title" json:"title"`
	Description string         `db:"description" json:"description"`
	Status      TicketStatus   `db:"status" json:"status"`
	Priority    TicketPriority `db:"priority" json:"priority"`
	ResolvedAt  *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// CanTransitionTo enforces the ticket workflow: tickets move forward through
// OPEN → IN_PROGRESS → RESOLVED → CLOSED, may be reopened from RESOLVED, and
// may only be closed from RESOLVED.
func (t *Ticket) CanTransitionTo(next TicketStatus) bool {
	switch t.Status {
	case TicketOpen:
		return next == TicketInProgress || next == TicketResolved
	case TicketInProgress:
		return next == TicketOpen || next == TicketResolved
	case TicketResolved:
		return next == TicketClosed || next == TicketInProgress
	case TicketClosed:
		return false
	}
	return false
}

// TicketFilter captures filtering criteria for listing tickets.
type TicketFilter struct {
	Status     *TicketStatus
	Priority   *TicketPriority
	AssigneeID string
	CustomerID string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
