package authapi

import (
	"context"
	"log/slog"
)

// ResetMessage carries a freshly issued reset secret to its owner.
type ResetMessage struct {
	Identifier string
	Secret     string
}

// ResetNotifier delivers reset secrets out of band (email, chat, ...). The
// HTTP response never contains the secret.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, msg ResetMessage) error
}

// NoopResetNotifier drops messages. Used until a delivery channel is wired.
type NoopResetNotifier struct{}

// SendPasswordReset implements ResetNotifier.
func (NoopResetNotifier) SendPasswordReset(context.Context, ResetMessage) error { return nil }

// LogResetNotifier writes the secret to the log. Dev mode only.
type LogResetNotifier struct {
	Log *slog.Logger
}

// SendPasswordReset implements ResetNotifier.
func (n LogResetNotifier) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	if n.Log != nil {
		n.Log.Warn("auth.password.reset_issued.dev", "identifier", msg.Identifier, "token", msg.Secret)
	}
	return nil
}
