// Package notify delivers account messages (verification, password reset)
// to users.
//
// vidshare does not send email. The LogNotifier writes each message to the
// structured log so an operator, or a test, can pick the token up. A real
// mail transport only has to implement Notifier.
package notify

import (
	"context"
	"log/slog"

	"github.com/sakif/vidshare/internal/model"
)

// Notifier hands a freshly issued token to its owner.
type Notifier interface {
	SendVerification(ctx context.Context, user *model.User, token string) error
	SendPasswordReset(ctx context.Context, user *model.User, token string) error
}

// LogNotifier "delivers" messages by logging them at info level.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerification(ctx context.Context, user *model.User, token string) error {
	n.logger.InfoContext(ctx, "verification email",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
		slog.String("path", "/auth/verify/"+token),
	)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, user *model.User, token string) error {
	n.logger.InfoContext(ctx, "password reset email",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
		slog.String("token", token),
	)
	return nil
}
