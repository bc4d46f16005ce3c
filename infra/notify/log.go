package notify

import (
	"context"

	"github.com/kilianp07/smartdryer/core/notify"
	"github.com/kilianp07/smartdryer/infra/logger"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a LogNotifier for the "notify" component.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.New("notify")
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n notify.Notification) error {
	l.log.Debugw("notification", map[string]any{
		"user_id":  n.UserID,
		"device":   n.DeviceSerial,
		"type":     string(n.Kind),
		"priority": string(n.Priority),
		"data":     n.Data.ToAny(),
	})
	l.log.Infof("notify %s [%s] %s: %s", n.UserID, n.Kind, n.Title, n.Message)
	return nil
}
