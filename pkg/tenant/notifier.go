package tenant

import (
	"context"

	"github.com/platinummonkey/flowguard/pkg/observability"
)

// Notifier delivers account links to users
type Notifier interface {
	SendInvite(ctx context.Context, email, link string) error
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogNotifier writes links to the debug log. Used when no mail transport is configured.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendInvite(_ context.Context, email, link string) error {
	n.logger.WithFields(map[string]interface{}{"email": email, "link": link}).Debug("Invite link issued")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	n.logger.WithFields(map[string]interface{}{"email": email, "link": link}).Debug("Password reset link issued")
	return nil
}
