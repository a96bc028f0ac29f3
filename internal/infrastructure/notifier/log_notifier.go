// Package notifier holds Notifier implementations that need no external service.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// LogNotifier writes notifications to the log; used when Lark is disabled
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, recipient *entity.User, msg port.Message) error {
	n.logger.Info("Notification",
		zap.Int64("user_id", recipient.ID),
		zap.String("user_name", recipient.Name),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.String("link", msg.Link))
	return nil
}

var _ port.Notifier = (*LogNotifier)(nil)
