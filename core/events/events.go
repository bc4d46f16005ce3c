package events

import (
	"time"

	"github.com/kilianp07/smartdryer/core/model"
)

// MessageEvent is published for each inbound message handled by the router.
// Reason is empty when the message was applied.
type MessageEvent struct {
	Serial   string
	Category string
	Reason   string
	Latency  time.Duration
}

// ReadingsEvent is published after sensor readings are persisted.
type ReadingsEvent struct {
	Serial   string
	Readings []model.SensorReading
}

// DeviceOfflineEvent is published when a device is marked offline.
type DeviceOfflineEvent struct {
	Serial string
	Reason string
	At     time.Time
}

// CommandStage identifies the lifecycle step reported by a CommandEvent.
type CommandStage string

const (
	StageIssued  CommandStage = "issued"
	StageResult  CommandStage = "result"
	StageExpired CommandStage = "expired"
)

// CommandEvent is published when a command is issued (Err set when the
// publish failed), when a result is applied, and when a command expires.
type CommandEvent struct {
	Command model.Command
	Stage   CommandStage
	Err     error
}

// AutoTriggerEvent is published when the auto-trigger policy fires.
type AutoTriggerEvent struct {
	Serial    string
	Reading   model.SensorReading
	CommandID string
	Err       error
}
