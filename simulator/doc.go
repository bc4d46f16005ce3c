// Package simulator emulates dryer firmware on an MQTT broker. Simulated
// dryers publish heartbeats and weather samples and answer commands so the
// backend can be exercised without hardware.
package simulator
