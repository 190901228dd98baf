package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLoginFailed    = "LOGIN_FAILED"
	AuditActionLockout        = "ACCOUNT_LOCKOUT"
	AuditActionLogout         = "LOGOUT"
	AuditActionRegister       = "REGISTER"
	AuditActionTokenRefresh   = "TOKEN_REFRESH"
	AuditActionTokenRevoke    = "TOKEN_REVOKE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionPasswordReset  = "PASSWORD_RESET"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionCustomerWrite  = "CUSTOMER_WRITE"
	AuditActionTicketWrite    = "TICKET_WRITE"
)

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	UserID   string     `form:"user_id"`
	Action   string     `form:"action"`
	Resource string     `form:"resource"`
	From     *time.Time `form:"from"`
	To       *time.Time `form:"to"`
	Page     int        `form:"page"`
	PageSize int        `form:"page_size"`
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
