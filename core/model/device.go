package model

import "time"

// ConnStatus is the connectivity status of a device as seen by the backend.
type ConnStatus string

const (
	StatusUnknown ConnStatus = "unknown"
	StatusOnline  ConnStatus = "online"
	StatusOffline ConnStatus = "offline"
)

// MotorState is the last known mechanical state of the dryer rack.
type MotorState string

const (
	MotorIdle       MotorState = "idle"
	MotorCollecting MotorState = "collecting"
	MotorReleasing  MotorState = "releasing"
	MotorStopped    MotorState = "stopped"
)

// ParseMotorState validates a motor state reported by a device.
func ParseMotorState(s string) (MotorState, bool) {
	switch MotorState(s) {
	case MotorIdle, MotorCollecting, MotorReleasing, MotorStopped:
		return MotorState(s), true
	}
	return "", false
}

// Quiescent reports whether no motor action is in progress.
func (m MotorState) Quiescent() bool { return m == MotorIdle }

// Device is the authoritative record of a dryer unit.
type Device struct {
	Serial     string     `json:"serial"`
	Name       string     `json:"name"`
	Owner      string     `json:"owner"`
	Location   string     `json:"location,omitempty"`
	Status     ConnStatus `json:"status"`
	MotorState MotorState `json:"motor_state"`
	LastSeen   time.Time  `json:"last_seen,omitempty"`
	Meta       Value      `json:"meta"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewDevice returns a freshly registered device: status unknown, motor idle.
func NewDevice(serial, name, owner string, now time.Time) Device {
	return Device{
		Serial:     serial,
		Name:       name,
		Owner:      owner,
		Status:     StatusUnknown,
		MotorState: MotorIdle,
		Meta:       Map(nil),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Online reports whether the device currently accepts commands.
func (d Device) Online() bool { return d.Status == StatusOnline }

// StaleSince reports whether the device was last seen before cutoff.
// A device that never reported has nothing to go stale from.
func (d Device) StaleSince(cutoff time.Time) bool {
	return !d.LastSeen.IsZero() && d.LastSeen.Before(cutoff)
}
