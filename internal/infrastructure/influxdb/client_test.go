package influxdb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/influxdb"
)

// newServer returns a stand-in InfluxDB that answers pings with ping and
// writes with writeStatus.
func newServer(t *testing.T, ping, writeStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(ping)
		case "/api/v2/write":
			if writeStatus >= 400 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(writeStatus)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"bucket rejected point"}`))
				return
			}
			w.WriteHeader(writeStatus)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "relay-dev-token",
		Org:           "relay",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestOpen_Failures(t *testing.T) {
	unhealthy := newServer(t, http.StatusServiceUnavailable, http.StatusNoContent)

	tests := []struct {
		name string
		cfg  func() config.InfluxDBConfig
		want error
	}{
		{"disabled", func() config.InfluxDBConfig {
			cfg := testConfig("http://127.0.0.1:8086")
			cfg.Enabled = false
			return cfg
		}, influxdb.ErrDisabled},
		{"unreachable", func() config.InfluxDBConfig { return testConfig("http://127.0.0.1:59999") }, influxdb.ErrConnectionFailed},
		{"unhealthy", func() config.InfluxDBConfig { return testConfig(unhealthy.URL) }, influxdb.ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := influxdb.Open(context.Background(), tt.cfg(), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
			if rec != nil {
				t.Error("Open() returned a recorder alongside an error")
			}
		})
	}
}

func TestOpen_HealthCheckAndClose(t *testing.T) {
	srv := newServer(t, http.StatusNoContent, http.StatusNoContent)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	rec, err := influxdb.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := rec.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	rec.WriteCommand("in", "lamp", "7", "switch", "json", 3)

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := rec.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpen_WriteFailureReachesCallback(t *testing.T) {
	srv := newServer(t, http.StatusNoContent, http.StatusBadRequest)

	errs := make(chan error, 4)
	rec, err := influxdb.Open(context.Background(), testConfig(srv.URL), func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rec.Close()

	rec.WriteEvent("plant-status", "status", "json", 42, 1, true)

	select {
	case err := <-errs:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write failure never reached the callback")
	}
}
