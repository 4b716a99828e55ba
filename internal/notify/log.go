package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes messages to the log and reports them delivered. It is
// the default channel when no transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, destination string, msg Message) bool {
	zap.L().Info("notification",
		zap.String("component", "notify.log"),
		zap.String("notification_id", msg.NotificationID),
		zap.String("method", msg.Method),
		zap.String("destination", destination),
		zap.String("text", msg.Text),
	)
	return true
}
