// Package infra contains technical adapters: the MQTT transport, storage
// backends, metrics exporters, notifiers and error monitoring. These
// packages depend only on the interfaces defined in the core packages.
package infra
