package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/config"
	"github.com/dendo-systems/renkei-poe-ha/internal/infrastructure/influxdb"
)

// devConfig matches the InfluxDB instance from docker-compose.yml.
func devConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "renkei-dev-token",
		Org:           "renkei",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev InfluxDB or skips the test if it is
// not reachable. The returned client is closed automatically.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(devConfig())
	if err != nil {
		t.Skipf("influxdb not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// collectWriteErrors wires the async error callback into a slice the test
// can inspect after Flush.
func collectWriteErrors(t *testing.T, client *influxdb.Client) func() []error {
	t.Helper()
	var mu sync.Mutex
	var errs []error
	client.SetOnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	return func() []error {
		client.Flush()
		time.Sleep(100 * time.Millisecond) // let the callback fire
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), errs...)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := devConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := devConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); err == nil {
		t.Fatal("Connect() succeeded against a closed port")
	}
}

func TestConnectBatchDefaults(t *testing.T) {
	for _, tt := range []struct {
		name          string
		batchSize     int
		flushInterval int
	}{
		{"zero values", 0, 0},
		{"negative values", -5, -1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := devConfig()
			cfg.BatchSize = tt.batchSize
			cfg.FlushInterval = tt.flushInterval

			client, err := influxdb.Connect(cfg)
			if err != nil {
				t.Skipf("influxdb not available: %v", err)
			}
			defer client.Close()

			if !client.IsConnected() {
				t.Error("IsConnected() = false")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := client.HealthCheck(ctx); err == nil {
			t.Error("HealthCheck() = nil with cancelled context")
		}
	})
}

func TestTelemetryWrites(t *testing.T) {
	client := connectOrSkip(t)
	drain := collectWriteErrors(t, client)

	// One of each measurement the coordinator emits.
	client.WriteMotorPosition("bench-motor", 32768, 65536, 32768, 50.0)
	client.WriteMotorFlags("bench-motor", 1, 0)
	client.WriteLinkStats("bench-motor", 120, 118, 2, 0)

	if errs := drain(); len(errs) > 0 {
		t.Errorf("write errors = %v", errs)
	}
}

func TestWritePoint(t *testing.T) {
	client := connectOrSkip(t)
	drain := collectWriteErrors(t, client)

	client.WritePoint(
		"bench_custom",
		map[string]string{"source": "unit-test"},
		map[string]interface{}{"value": 99.9, "count": 5},
	)

	if errs := drain(); len(errs) > 0 {
		t.Errorf("write errors = %v", errs)
	}
}

func TestWritePointWithTime(t *testing.T) {
	client := connectOrSkip(t)
	drain := collectWriteErrors(t, client)

	client.WritePointWithTime(
		"bench_custom",
		map[string]string{"source": "unit-test-backdated"},
		map[string]interface{}{"value": 88.8},
		time.Now().Add(-time.Hour),
	)

	if errs := drain(); len(errs) > 0 {
		t.Errorf("write errors = %v", errs)
	}
}

func TestClose(t *testing.T) {
	client, err := influxdb.Connect(devConfig())
	if err != nil {
		t.Skipf("influxdb not available: %v", err)
	}

	client.WriteMotorPosition("close-test", 100, 65536, 100, 0.2)

	// Close flushes pending points before disconnecting.
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
