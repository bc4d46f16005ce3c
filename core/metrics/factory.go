package metrics

import "github.com/kilianp07/smartdryer/core/factory"

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink builds the sinks described by cfgs. No config yields a
// NopSink and several configs are combined into a MultiSink.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	sinks, err := sinkRegistry.CreateAll(cfgs)
	if err != nil {
		return nil, err
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
