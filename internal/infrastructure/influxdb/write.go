package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the device core.
const (
	MeasurementTemplateEvents = "template_events"
	MeasurementConfigCommits  = "config_commits"
	MeasurementLivenessStalls = "liveness_stalls"
)

// TemplateEvent is one template runtime event as stored in InfluxDB.
//
// Tags stay low-cardinality (device, template kind, event name); the topic
// and scenario travel as fields.
type TemplateEvent struct {
	DeviceID      string
	Kind          string
	Event         string
	Topic         string
	Scenario      string
	AccumulatedMS uint32
	At            time.Time
}

// WriteTemplateEvent records a UID verdict, signal hold transition or rule
// firing. The write is non-blocking; points are batched and sent
// asynchronously. A zero At is stamped with the current time.
//
// Example:
//
//	client.WriteTemplateEvent(influxdb.TemplateEvent{
//	    DeviceID: "pedal", Kind: "signal_hold", Event: "completed",
//	    AccumulatedMS: 5000,
//	})
func (c *Client) WriteTemplateEvent(ev TemplateEvent) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{
		"count":          1,
		"accumulated_ms": int64(ev.AccumulatedMS),
	}
	if ev.Topic != "" {
		fields["topic"] = ev.Topic
	}
	if ev.Scenario != "" {
		fields["scenario"] = ev.Scenario
	}

	at := ev.At
	if at.IsZero() {
		at = c.now()
	}

	point := write.NewPoint(
		MeasurementTemplateEvents,
		map[string]string{
			"device_id": ev.DeviceID,
			"kind":      ev.Kind,
			"event":     ev.Event,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteConfigCommit records a committed configuration generation.
//
// Parameters:
//   - generation: The generation number after the commit
//   - profile: The active profile id
//   - devices: Number of devices in the live table
func (c *Client) WriteConfigCommit(generation uint32, profile string, devices int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementConfigCommits,
		map[string]string{
			"profile": profile,
		},
		map[string]any{
			"generation": int64(generation),
			"devices":    devices,
		},
		c.now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLivenessStall records an operation that stopped feeding the
// liveness monitor.
func (c *Client) WriteLivenessStall(ops []string, since time.Duration) {
	if !c.IsConnected() {
		return
	}

	for _, op := range ops {
		point := write.NewPoint(
			MeasurementLivenessStalls,
			map[string]string{
				"operation": op,
			},
			map[string]any{
				"since_ms": since.Milliseconds(),
			},
			c.now(),
		)
		c.writeAPI.WritePoint(point)
	}
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("store_stats",
//	    map[string]string{"site": "site-001"},
//	    map[string]any{"scratch_bytes": 65536})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
