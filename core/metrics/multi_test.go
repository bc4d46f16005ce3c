package metrics

import (
	"errors"
	"testing"

	"github.com/kilianp07/smartdryer/core/model"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordMessage(MessageRecord) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordReadings([]model.SensorReading) error {
	r.count++
	return nil
}

// TestMultiSink ensures records reach every sink, including the ones
// after a failing sink, and optional recorders are only used when present.
func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2, NopSink{})
	if err := m.RecordMessage(MessageRecord{Serial: "D1"}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := m.RecordReadings(nil); err != nil {
		t.Fatalf("record readings: %v", err)
	}
	if err := m.RecordCommand(CommandRecord{}); err != nil {
		t.Fatalf("record command: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("records not forwarded: %d %d", s1.count, s2.count)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	if len(c.Sinks) != 1 || c.Sinks[0].Type != "prometheus" || c.PrometheusAddr != ":9100" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	c.Sinks[0].Type = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for sink without type")
	}
}
