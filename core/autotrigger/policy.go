// Package autotrigger decides when the backend issues commands on its own,
// such as collecting the clothes when rain is detected.
package autotrigger

import (
	"fmt"

	"github.com/kilianp07/smartdryer/core/model"
)

// Reasons reported in the parameters of automatic commands.
const ReasonRainDetected = "rain_detected"

// Config tunes the policy. The rain policy is on unless Disabled is set.
type Config struct {
	Disabled bool `json:"disabled"`
	// RainThreshold is the rain value above which a reading counts as rain.
	RainThreshold float64 `json:"rain_threshold"`
}

// Validate checks the threshold.
func (c Config) Validate() error {
	if c.RainThreshold < 0 {
		return fmt.Errorf("autotrigger rain_threshold must not be negative")
	}
	return nil
}

// Decision is the outcome of the policy. A zero Verb means no action.
type Decision struct {
	Verb   model.Verb
	Params model.Value
}

// Fire reports whether the decision carries a command.
func (d Decision) Fire() bool { return d.Verb != "" }

// Policy is a pure function of the device motor state and a reading.
type Policy struct {
	RainThreshold float64
}

// Decide returns a collect decision for a rain reading above the threshold
// while the motor is idle, and no action otherwise.
func (p Policy) Decide(motor model.MotorState, r model.SensorReading) Decision {
	if !motor.Quiescent() || r.Type != model.SensorRain {
		return Decision{}
	}
	if !p.isRain(r.Value) {
		return Decision{}
	}
	return Decision{
		Verb:   model.VerbCollect,
		Params: model.Object("auto", true, "reason", ReasonRainDetected),
	}
}

func (p Policy) isRain(v model.Value) bool {
	if b, ok := v.Boolean(); ok {
		return b
	}
	f, ok := v.Float()
	return ok && f > p.RainThreshold
}
