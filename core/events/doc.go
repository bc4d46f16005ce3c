// Package events defines the events published on the internal event bus by
// the ingestion pipeline and the command lifecycle.
//
// Available event types:
//   - MessageEvent: an inbound MQTT message was routed or dropped
//   - ReadingsEvent: sensor readings were persisted for a device
//   - DeviceOfflineEvent: a device transitioned to offline
//   - CommandEvent: a command was issued or changed status
//   - AutoTriggerEvent: the auto-trigger policy issued a command
package events
