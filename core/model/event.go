package model

import "time"

// Severity of an audit event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ParseSeverity maps unknown or empty values to info.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityWarn, SeverityError:
		return Severity(s)
	}
	return SeverityInfo
}

// Event types emitted by the backend itself.
const (
	EventDeviceOffline   = "device_offline"
	EventAutoCollect     = "auto_collect"
	EventAutoCollectFail = "auto_collect_failed"
	EventCommandExpired  = "command_expired"
)

// Event is an append-only audit record.
type Event struct {
	ID           int64     `json:"id,omitempty"`
	DeviceSerial string    `json:"device_serial"`
	Type         string    `json:"event_type"`
	Message      string    `json:"message"`
	Payload      Value     `json:"payload"`
	Severity     Severity  `json:"severity"`
	Timestamp    time.Time `json:"timestamp"`
}
