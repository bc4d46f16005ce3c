// Package store defines the persistence collaborator used by the ingestion
// pipeline and the command lifecycle, together with an in-memory
// implementation.
//
// Lookups of unknown keys return errors wrapping model.ErrNotFound; backend
// failures wrap model.ErrPersistence. UpdateDevice and UpdateCommand apply a
// read-modify-write atomically with respect to other updates of the same
// record, without serialising unrelated records.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/smartdryer/core/model"
)

// DeviceMutator edits a device in place. Returning ErrSkip aborts the update
// without error; any other error aborts and is returned to the caller.
type DeviceMutator func(d *model.Device) error

// CommandMutator edits a command in place, with the same contract as DeviceMutator.
type CommandMutator func(c *model.Command) error

// DeviceFilter restricts ListDevices. Zero fields match everything.
type DeviceFilter struct {
	Owner  string
	Status model.ConnStatus
}

// CommandFilter restricts ListCommands. Results are ordered newest first.
type CommandFilter struct {
	DeviceSerial  string
	Status        model.CommandStatus
	Verb          model.Verb
	CreatedBefore time.Time
	Limit         int
}

// ReadingFilter restricts ListReadings. Results are ordered newest first.
type ReadingFilter struct {
	DeviceSerial string
	Type         model.SensorType
	Since        time.Time
	Limit        int
}

// EventFilter restricts ListEvents. Results are ordered newest first.
type EventFilter struct {
	DeviceSerial string
	Type         string
	Since        time.Time
	Limit        int
}

// Store is the persistence interface for devices, commands, readings and events.
type Store interface {
	CreateDevice(ctx context.Context, d model.Device) error
	GetDevice(ctx context.Context, serial string) (model.Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]model.Device, error)
	UpdateDevice(ctx context.Context, serial string, fn DeviceMutator) (model.Device, error)
	// StaleDevices returns devices not seen since before and not already offline.
	StaleDevices(ctx context.Context, before time.Time) ([]model.Device, error)

	CreateCommand(ctx context.Context, c model.Command) error
	GetCommand(ctx context.Context, id string) (model.Command, error)
	UpdateCommand(ctx context.Context, id string, fn CommandMutator) (model.Command, error)
	ListCommands(ctx context.Context, f CommandFilter) ([]model.Command, error)

	AppendReadings(ctx context.Context, readings []model.SensorReading) error
	ListReadings(ctx context.Context, f ReadingFilter) ([]model.SensorReading, error)

	AppendEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)

	Close() error
}
