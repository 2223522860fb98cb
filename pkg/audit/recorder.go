package audit

import (
	"context"

	"github.com/platinummonkey/flowguard/pkg/observability"
)

// Recorder writes login activity on behalf of the auth handlers. A failed write is
// logged and never fails the login itself. A nil Recorder records nothing.
type Recorder struct {
	store  *Store
	logger *observability.Logger
}

// NewRecorder creates a recorder backed by store
func NewRecorder(store *Store, logger *observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Recorder{store: store, logger: logger}
}

// Record stores one attempt for username
func (r *Recorder) Record(ctx context.Context, username string, code ActivityCode, mode, message string) {
	if r == nil || r.store == nil {
		return
	}
	if message == "" {
		message = code.String()
	}
	activity := &Activity{Username: username, ActivityCode: code, Message: message, LoginMode: mode}
	if err := r.store.Record(ctx, activity); err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"username": username,
			"code":     code.String(),
		}).Warn("Failed to record login activity")
	}
}

// Store exposes the backing store
func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}
