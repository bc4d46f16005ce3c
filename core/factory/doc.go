// Package factory builds pluggable modules (metrics sinks, notifiers) from
// configuration. Each module is selected by its type string and decodes its
// own settings with Decode:
//
//	sinks:
//	  - type: influx
//	    conf: {url: "http://influx:8086", org: dryer, bucket: telemetry}
package factory
