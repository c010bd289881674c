package influxdb

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCommands = "wiotp_commands"
	measurementEvents   = "wiotp_events"
)

// WriteCommand records one command delivered to an inbound endpoint.
// Device-scoped commands have no device type or ID and carry no device tags.
//
//	rec.WriteCommand("lamp-commands", "lamp", "7", "switch", "json", 12)
func (r *Recorder) WriteCommand(endpoint, deviceType, deviceID, command, format string, size int) {
	p := r.point(measurementCommands).
		AddTag("endpoint", endpoint).
		AddTag("command", command).
		AddTag("format", format).
		AddField("bytes", size)
	if deviceType != "" {
		p.AddTag("device_type", deviceType)
	}
	if deviceID != "" {
		p.AddTag("device_id", deviceID)
	}
	r.write(p)
}

// WriteEvent records one send by an outbound endpoint. ok is false when the
// send produced a warning.
//
//	rec.WriteEvent("plant-status", "status", "json", 42, 1, true)
func (r *Recorder) WriteEvent(endpoint, event, format string, size int, qos byte, ok bool) {
	r.write(r.point(measurementEvents).
		AddTag("endpoint", endpoint).
		AddTag("event", event).
		AddTag("format", format).
		AddField("bytes", size).
		AddField("qos", int(qos)).
		AddField("ok", ok))
}

func (r *Recorder) point(measurement string) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurement).SetTime(r.now())
}

func (r *Recorder) write(p *write.Point) {
	if r.closed.Load() {
		return
	}
	r.writer.WritePoint(p)
}
