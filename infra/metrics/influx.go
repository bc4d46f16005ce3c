package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/smartdryer/core/metrics"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/infra/logger"
)

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes sensor time series and command outcomes to InfluxDB
// using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordMessage is a no-op: message counts live in Prometheus.
func (s *InfluxSink) RecordMessage(coremetrics.MessageRecord) error { return nil }

// RecordReadings writes one sensor_reading point per reading. Numeric
// values go to the value field; anything else is kept as JSON in raw.
func (s *InfluxSink) RecordReadings(readings []model.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, readingPoint(r))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func readingPoint(r model.SensorReading) *write.Point {
	p := write.NewPointWithMeasurement("sensor_reading").
		AddTag("device_serial", r.DeviceSerial).
		AddTag("type", string(r.Type))
	if r.Unit != "" {
		p = p.AddTag("unit", r.Unit)
	}
	if f, ok := r.Value.Float(); ok {
		p = p.AddField("value", round3(f))
	} else {
		raw, _ := r.Value.MarshalJSON()
		p = p.AddField("raw", string(raw))
	}
	return p.SetTime(r.Timestamp)
}

// RecordCommand writes a command_event point.
func (s *InfluxSink) RecordCommand(rec coremetrics.CommandRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := rec.Command
	p := write.NewPointWithMeasurement("command_event").
		AddTag("device_serial", c.DeviceSerial).
		AddTag("command", string(c.Verb)).
		AddTag("stage", rec.Stage).
		AddTag("status", string(c.Status)).
		AddTag("issuer", issuerKind(c)).
		AddField("command_id", c.ID).
		AddField("error", rec.Error).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOffline writes a device_offline point.
func (s *InfluxSink) RecordOffline(rec coremetrics.OfflineRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("device_offline").
		AddTag("device_serial", rec.Serial).
		AddField("reason", rec.Reason).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
