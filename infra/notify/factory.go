package notify

import (
	"github.com/kilianp07/smartdryer/core/factory"
	"github.com/kilianp07/smartdryer/core/notify"
)

// init registers built-in notifiers.
func init() {
	_ = notify.RegisterNotifier("nop", func(map[string]any) (notify.Notifier, error) {
		return notify.Nop{}, nil
	})

	_ = notify.RegisterNotifier("log", func(map[string]any) (notify.Notifier, error) {
		return NewLogNotifier(nil), nil
	})

	_ = notify.RegisterNotifier("nats", func(conf map[string]any) (notify.Notifier, error) {
		var c NATSConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewNATSNotifier(c, nil)
	})
}
