package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novadesk/novadesk-api/pkg/jobs"
	"github.com/novadesk/novadesk-api/pkg/mailer"
)

// Notifier sends security-event emails. Every method is best-effort and
// non-blocking: delivery runs on the background dispatcher, failures are
// logged there, and nothing ever reaches the calling flow. That contract is
// visible in the signatures, none of which can fail.
type Notifier struct {
	sender     mailer.Sender
	dispatcher *jobs.Dispatcher
	logger     *zap.Logger
}

// NewNotifier wires the sender behind the dispatcher.
func NewNotifier(sender mailer.Sender, dispatcher *jobs.Dispatcher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, dispatcher: dispatcher, logger: logger}
}

// SendWelcome greets a newly registered account.
func (n *Notifier) SendWelcome(email, username string) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account has been created. Welcome aboard!\r\n", username)
	n.deliver("welcome", email, "Welcome to NovaDesk", body)
}

// SendPasswordReset mails the single-use reset token.
func (n *Notifier) SendPasswordReset(email, username, token string) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nUse this token to reset your password within the next hour:\r\n\r\n%s\r\n\r\nIf you did not request a reset, ignore this message.\r\n", username, token)
	n.deliver("password_reset", email, "Password reset request", body)
}

// SendPasswordChanged confirms a successful password change.
func (n *Notifier) SendPasswordChanged(email, username string) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour password was just changed. If this wasn't you, reset it immediately.\r\n", username)
	n.deliver("password_changed", email, "Your password was changed", body)
}

// SendProfileUpdated confirms a profile update.
func (n *Notifier) SendProfileUpdated(email, username string) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour profile details were updated.\r\n", username)
	n.deliver("profile_updated", email, "Your profile was updated", body)
}

// SendAccountLocked warns about a lockout after repeated failed logins.
func (n *Notifier) SendAccountLocked(email, username string, until *time.Time) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account was locked after repeated failed sign-in attempts.\r\n", username)
	if until != nil {
		body = fmt.Sprintf("Hi %s,\r\n\r\nYour account was locked after repeated failed sign-in attempts. It unlocks at %s.\r\n", username, until.UTC().Format(time.RFC1123))
	}
	n.deliver("account_locked", email, "Your account has been locked", body)
}

// SendAccountDeleted confirms an account deletion.
func (n *Notifier) SendAccountDeleted(email, username string) {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour account and its data have been deleted.\r\n", username)
	n.deliver("account_deleted", email, "Your account was deleted", body)
}

func (n *Notifier) deliver(kind, to, subject, body string) {
	err := n.dispatcher.Enqueue(jobs.Task{
		ID:   uuid.NewString(),
		Kind: "email:" + kind,
		Run: func(ctx context.Context) error {
			return n.sender.Send(ctx, to, subject, body)
		},
	})
	if err != nil {
		n.logger.Warn("dropping notification email",
			zap.String("kind", kind), zap.String("to", to), zap.Error(err))
	}
}
