// Package notify models user-facing notifications emitted by the backend.
// Delivery is fire-and-forget: callers hand a Notification to a Notifier
// and never wait on the outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/smartdryer/core/model"
)

// Kind is the notification template.
type Kind string

const (
	KindRainAlert     Kind = "rain_alert"
	KindDeviceOffline Kind = "device_offline"
	KindMotorComplete Kind = "motor_complete"
	KindSystemAlert   Kind = "system_alert"
	KindManual        Kind = "manual"
)

// Priority hints how urgently the notification should be delivered.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is addressed to the owner of a device.
type Notification struct {
	UserID       string      `json:"user_id"`
	DeviceSerial string      `json:"device_serial"`
	Kind         Kind        `json:"type"`
	Title        string      `json:"title"`
	Message      string      `json:"message"`
	Priority     Priority    `json:"priority"`
	Data         model.Value `json:"data"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to several notifiers and joins their errors.
type Multi struct {
	Notifiers []Notifier
}

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m.Notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func label(name, serial string) string {
	if name != "" {
		return name
	}
	return serial
}

// RainAlert announces that rain was detected and the rack is being collected.
func RainAlert(userID, serial string, reading model.Value, now time.Time) Notification {
	v, _ := reading.Float()
	return Notification{
		UserID:       userID,
		DeviceSerial: serial,
		Kind:         KindRainAlert,
		Title:        "Rain detected",
		Message:      fmt.Sprintf("Rain detected (%gmm). Collecting clothes.", v),
		Priority:     PriorityHigh,
		Data:         model.Map(map[string]model.Value{"rainValue": reading}),
		CreatedAt:    now,
	}
}

// DeviceOffline announces that a device stopped reporting.
func DeviceOffline(userID string, d model.Device, now time.Time) Notification {
	return Notification{
		UserID:       userID,
		DeviceSerial: d.Serial,
		Kind:         KindDeviceOffline,
		Title:        "Device offline",
		Message:      fmt.Sprintf("%s lost its connection. Please check it.", label(d.Name, d.Serial)),
		Priority:     PriorityNormal,
		Data:         model.Map(nil),
		CreatedAt:    now,
	}
}

// MotorComplete announces that a collect command finished.
func MotorComplete(userID string, d model.Device, now time.Time) Notification {
	return Notification{
		UserID:       userID,
		DeviceSerial: d.Serial,
		Kind:         KindMotorComplete,
		Title:        "Collection complete",
		Message:      fmt.Sprintf("%s finished collecting the clothes.", label(d.Name, d.Serial)),
		Priority:     PriorityNormal,
		Data:         model.Map(nil),
		CreatedAt:    now,
	}
}
