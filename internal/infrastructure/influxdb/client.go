package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

const (
	openTimeout = 10 * time.Second
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the part of the library's write API the recorder uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes relay activity to one InfluxDB bucket.
//
// Writes are batched by the client library and never block the caller.
// After Close every write is dropped and HealthCheck reports ErrClosed.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	closed atomic.Bool
	now    func() time.Time
}

// Open pings the server and returns a recorder writing to cfg.Bucket.
//
// onError receives asynchronous batch failures wrapped in ErrWriteFailed;
// it may be nil, in which case the library logs them.
//
// Returns:
//   - *Recorder: Ready for writes
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Open(ctx context.Context, cfg config.InfluxDBConfig, onError func(error)) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	if onError != nil {
		errs := writeAPI.Errors()
		go func() {
			for err := range errs {
				onError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
			}
		}()
	}

	return &Recorder{client: client, writer: writeAPI, now: time.Now}, nil
}

// clientOptions applies batching settings, falling back to defaults for
// unset values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("ping: server not healthy")
	}
	return nil
}

// HealthCheck pings the server. It reports ErrClosed after Close.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return ping(pingCtx, r.client)
}

// Close flushes buffered points and releases the client. It is safe to
// call more than once and on a nil recorder.
func (r *Recorder) Close() error {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}
