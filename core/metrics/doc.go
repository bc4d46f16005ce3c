// Package metrics defines the sinks that observe the ingestion and command
// pipeline. Every sink records inbound message outcomes; sinks may also
// implement the optional recorder interfaces (readings, commands, offline
// transitions, auto-trigger decisions). NewMultiSink fans records out to
// several sinks and NewMetricsSink builds one from configuration using the
// registered factories.
package metrics
