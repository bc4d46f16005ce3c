package simulator

import (
	"math/rand/v2"

	"github.com/kilianp07/smartdryer/core/model"
)

// ResultStrategy decides how a dryer answers a command.
type ResultStrategy interface {
	// Outcome returns the status to report for verb. ok is false when the
	// dryer should stay silent.
	Outcome(verb model.Verb) (status model.CommandStatus, ok bool)
}

// AutoResult executes every command.
type AutoResult struct{}

// Outcome implements ResultStrategy.
func (AutoResult) Outcome(model.Verb) (model.CommandStatus, bool) {
	return model.CommandExecuted, true
}

// RandomResult drops results with probability DropRate and reports a
// failure with probability FailRate.
type RandomResult struct {
	DropRate float64
	FailRate float64
}

// Outcome implements ResultStrategy.
func (r RandomResult) Outcome(model.Verb) (model.CommandStatus, bool) {
	if r.DropRate > 0 && rand.Float64() < r.DropRate {
		return "", false
	}
	if r.FailRate > 0 && rand.Float64() < r.FailRate {
		return model.CommandFailed, true
	}
	return model.CommandExecuted, true
}
