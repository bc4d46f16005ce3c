// Package testutil starts disposable brokers and databases for integration
// tests. Helpers skip the calling test when docker is not available.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	MosquittoReadyTimeout = 10 * time.Second
	pollInterval          = 50 * time.Millisecond
)

// RequireDocker skips t unless DOCKER_AVAILABLE is set and -short is off.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("docker not available")
	}
}

// StartMosquitto launches a temporary Mosquitto broker and returns its URL.
// The container is terminated when the test ends.
func StartMosquitto(t *testing.T) string {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()
	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write mosquitto config: %v", err)
	}
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("start mosquitto: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := waitForMQTTReady(waitCtx, broker); err != nil {
		t.Fatalf("mosquitto not ready: %v", err)
	}
	return broker
}

func waitForMQTTReady(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// StartPostgres launches a temporary PostgreSQL server and returns a DSN.
func StartPostgres(t *testing.T) string {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dryer",
			"POSTGRES_PASSWORD": "dryer",
			"POSTGRES_DB":       "dryer",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://dryer:dryer@%s:%s/dryer?sslmode=disable", host, port.Port())
}
