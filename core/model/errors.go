package model

import "errors"

var (
	// ErrNotFound is returned when a device serial or command id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidCommand is returned for unknown command verbs.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrDeviceUnavailable is returned when a command targets a device that is not online.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrTransport wraps broker connect, publish and subscribe failures.
	ErrTransport = errors.New("transport error")
	// ErrDecode is returned for malformed message payloads.
	ErrDecode = errors.New("decode error")
	// ErrConflict is returned when creating a record whose key already exists.
	ErrConflict = errors.New("already exists")
)
