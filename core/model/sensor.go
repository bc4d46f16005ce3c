package model

import (
	"fmt"
	"time"
)

// SensorType enumerates the sensors fitted to a dryer.
type SensorType string

const (
	SensorRain        SensorType = "rain"
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorLight       SensorType = "light"
	SensorOther       SensorType = "other"
)

// ParseSensorType validates a reported sensor type.
func ParseSensorType(s string) (SensorType, error) {
	switch SensorType(s) {
	case SensorRain, SensorTemperature, SensorHumidity, SensorLight, SensorOther:
		return SensorType(s), nil
	}
	return "", fmt.Errorf("%w: sensor type %q", ErrDecode, s)
}

// SensorReading is an append-only sample reported by a device.
type SensorReading struct {
	ID           int64      `json:"id,omitempty"`
	DeviceSerial string     `json:"device_serial"`
	Type         SensorType `json:"type"`
	Value        Value      `json:"value"`
	Unit         string     `json:"unit,omitempty"`
	Meta         Value      `json:"meta"`
	Timestamp    time.Time  `json:"timestamp"`
}
