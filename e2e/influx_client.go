package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxReader queries the points written by the influx metrics sink.
type InfluxReader struct {
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

// NewInfluxReader connects to a running InfluxDB instance.
func NewInfluxReader(url, org, bucket, token string) *InfluxReader {
	c := influxdb2.NewClient(url, token)
	return &InfluxReader{bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// Count returns the number of points of measurement tagged with serial in
// the last hour.
func (r *InfluxReader) Count(ctx context.Context, measurement, serial string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q)
  |> range(start: -1h)
  |> filter(fn: (r) => r._measurement == %q and r.device_serial == %q)`, r.bucket, measurement, serial)
	res, err := r.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

// Close releases the underlying client resources.
func (r *InfluxReader) Close() { r.client.Close() }
