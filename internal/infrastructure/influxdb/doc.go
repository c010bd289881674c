// Package influxdb records relay activity as InfluxDB time series using the
// official influxdb-client-go v2 library.
//
// One point is written per routed command (measurement wiotp_commands) and
// per outbound send (measurement wiotp_events). Points carry sizes and
// outcomes only; payloads are never stored.
//
//	rec, err := influxdb.Open(ctx, cfg.InfluxDB, func(err error) {
//	    log.Error("influxdb write failed", "error", err)
//	})
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
// Writes are batched and asynchronous; batch failures go to the callback
// given to Open. Open and HealthCheck return errors directly.
package influxdb
