package model

import (
	"fmt"
	"time"
)

// Verb is a command understood by the dryer firmware.
type Verb string

const (
	VerbCollect   Verb = "collect"
	VerbRelease   Verb = "release"
	VerbStop      Verb = "stop"
	VerbCalibrate Verb = "calibrate"
)

// ParseVerb validates a command verb.
func ParseVerb(s string) (Verb, error) {
	switch Verb(s) {
	case VerbCollect, VerbRelease, VerbStop, VerbCalibrate:
		return Verb(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

// MotorState returns the motor state optimistically applied once the
// command has been handed to the broker.
func (v Verb) MotorState() MotorState {
	switch v {
	case VerbCollect:
		return MotorCollecting
	case VerbRelease:
		return MotorReleasing
	case VerbStop:
		return MotorStopped
	default:
		return MotorIdle
	}
}

// SettledState returns the motor state once the device reported a terminal
// result for the command.
func (v Verb) SettledState(status CommandStatus) MotorState {
	if v == VerbStop && status == CommandExecuted {
		return MotorStopped
	}
	return MotorIdle
}

// CommandStatus tracks the lifecycle of a command.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandSent     CommandStatus = "sent"
	CommandExecuted CommandStatus = "executed"
	CommandFailed   CommandStatus = "failed"
)

func (s CommandStatus) rank() int {
	switch s {
	case CommandPending:
		return 0
	case CommandSent:
		return 1
	case CommandExecuted, CommandFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s CommandStatus) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether no further transition is allowed.
func (s CommandStatus) Terminal() bool { return s.rank() == 2 }

// CanTransition reports whether moving from s to next is a forward step.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ParseResultStatus validates the status carried by a device result.
func ParseResultStatus(s string) (CommandStatus, error) {
	switch CommandStatus(s) {
	case CommandExecuted, CommandFailed:
		return CommandStatus(s), nil
	}
	return "", fmt.Errorf("%w: result status %q", ErrDecode, s)
}

// IssuerSystem identifies commands issued by the backend itself.
const IssuerSystem = "system"

// Command is a single instruction sent to a device.
type Command struct {
	ID           string        `json:"id"`
	DeviceSerial string        `json:"device_serial"`
	Issuer       string        `json:"issuer,omitempty"`
	Verb         Verb          `json:"command"`
	Params       Value         `json:"params"`
	Status       CommandStatus `json:"status"`
	Result       Value         `json:"result"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SystemIssued reports whether the command was triggered automatically.
func (c Command) SystemIssued() bool { return c.Issuer == IssuerSystem }
