package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/smartdryer/app"
	"github.com/kilianp07/smartdryer/config"
	"github.com/kilianp07/smartdryer/core/factory"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/internal/testutil"
)

const (
	influxOrg    = "dryer"
	influxBucket = "telemetry"
	influxToken  = "e2e-token"
)

// junitReport is a minimal JUnit XML report written when E2E_JUNIT names
// an output file, so CI systems can display the results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

func reportJUnit(t *testing.T, start time.Time) {
	path := os.Getenv("E2E_JUNIT")
	if path == "" {
		return
	}
	tcase := junitTestCase{Name: t.Name(), Time: time.Since(start).Seconds()}
	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{tcase}}
	if t.Failed() {
		msg := "failed"
		rep.Failures = 1
		rep.Cases[0].Failure = &msg
	}
	if err := writeJUnit(path, rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}

// startInflux starts an InfluxDB 2.7 container initialised with the e2e
// org, bucket and token, and returns its base URL.
func startInflux(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "dryer",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "dryer-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "8086")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// device simulates dryer firmware: it reports on its topics and answers
// every command with an executed result.
type device struct {
	serial string
	cli    paho.Client
	got    chan map[string]any
}

func connectDevice(t *testing.T, broker, serial string) *device {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("sim-" + serial)
	cli := paho.NewClient(opts)
	tok := cli.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	d := &device{serial: serial, cli: cli, got: make(chan map[string]any, 8)}
	sub := cli.Subscribe("device/"+serial+"/command", 1, func(_ paho.Client, m paho.Message) {
		var cmd map[string]any
		if err := json.Unmarshal(m.Payload(), &cmd); err != nil {
			return
		}
		d.got <- cmd
		res := fmt.Sprintf(`{"commandId":%q,"status":"executed","result":{"position":"in"}}`, cmd["commandId"])
		d.publish("command/result", res)
	})
	require.True(t, sub.WaitTimeout(5*time.Second))
	require.NoError(t, sub.Error())
	t.Cleanup(func() { cli.Disconnect(100) })
	return d
}

func (d *device) publish(category, payload string) {
	d.cli.Publish("device/"+d.serial+"/"+category, 1, false, payload).WaitTimeout(5 * time.Second)
}

func TestE2ERainCollectsAndSettles(t *testing.T) {
	start := time.Now()
	defer reportJUnit(t, start)

	broker := testutil.StartMosquitto(t)
	influxURL := startInflux(t)

	cfg := &config.Config{}
	cfg.MQTT.Broker = broker
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "dryer.db")
	cfg.Metrics.Sinks = []factory.ModuleConfig{{
		Type: "influx",
		Conf: map[string]any{"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket},
	}}
	cfg.Notify.Backends = []factory.ModuleConfig{{Type: "log"}}
	cfg.API.Disabled = true
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	svc, err := app.New(ctx, cfg)
	require.NoError(t, err)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()
	require.NoError(t, svc.WaitConnected(ctx, 10*time.Second))

	api := httptest.NewServer(svc.API.Routes())
	defer api.Close()
	resp, err := http.Post(api.URL+"/api/devices", "application/json",
		jsonBody(t, map[string]any{"serial": "SD-1", "name": "Balcony", "owner": "alice"}))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	dev := connectDevice(t, broker, "SD-1")
	require.Eventually(t, func() bool {
		return len(svc.Transport.Status().Subscriptions) == 4
	}, 10*time.Second, 100*time.Millisecond)

	dev.publish("heartbeat", `{"motorState":"idle"}`)
	require.Eventually(t, func() bool {
		d, err := svc.Store.GetDevice(ctx, "SD-1")
		return err == nil && d.Online()
	}, 10*time.Second, 100*time.Millisecond)

	dev.publish("sensor", `{"sensors":[{"type":"rain","value":1},{"type":"temperature","value":14.25,"unit":"C"}]}`)

	var cmd map[string]any
	select {
	case cmd = <-dev.got:
	case <-time.After(10 * time.Second):
		t.Fatal("device received no command")
	}
	assert.Equal(t, "collect", cmd["command"])
	id, _ := cmd["commandId"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		c, err := svc.Store.GetCommand(ctx, id)
		return err == nil && c.Status == model.CommandExecuted
	}, 10*time.Second, 100*time.Millisecond)
	d, err := svc.Store.GetDevice(ctx, "SD-1")
	require.NoError(t, err)
	assert.Equal(t, model.MotorIdle, d.MotorState)

	reader := NewInfluxReader(influxURL, influxOrg, influxBucket, influxToken)
	defer reader.Close()
	require.Eventually(t, func() bool {
		n, err := reader.Count(ctx, "sensor_reading", "SD-1")
		return err == nil && n >= 2
	}, 15*time.Second, 250*time.Millisecond)

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}
