package events

import "github.com/kilianp07/smartdryer/internal/eventbus"

// Scoped is implemented by events about a single device.
type Scoped interface {
	DeviceSerial() string
}

func (e MessageEvent) DeviceSerial() string       { return e.Serial }
func (e ReadingsEvent) DeviceSerial() string      { return e.Serial }
func (e DeviceOfflineEvent) DeviceSerial() string { return e.Serial }
func (e CommandEvent) DeviceSerial() string       { return e.Command.DeviceSerial }
func (e AutoTriggerEvent) DeviceSerial() string   { return e.Serial }

// ForDevice accepts events about serial.
func ForDevice(serial string) eventbus.Filter {
	return func(e eventbus.Event) bool {
		s, ok := e.(Scoped)
		return ok && s.DeviceSerial() == serial
	}
}

// CommandStages accepts command events at one of stages.
func CommandStages(stages ...CommandStage) eventbus.Filter {
	return func(e eventbus.Event) bool {
		ce, ok := e.(CommandEvent)
		if !ok {
			return false
		}
		for _, s := range stages {
			if ce.Stage == s {
				return true
			}
		}
		return false
	}
}
