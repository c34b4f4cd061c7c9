package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementActuation is the measurement holding one point per finished execution.
const MeasurementActuation = "actuation"

// ActuationPoint describes a finished scheduler execution.
type ActuationPoint struct {
	Kind         string
	Outcome      string
	RequesterID  string
	Intensity    int
	Duration     time.Duration
	Elapsed      time.Duration
	Devices      int
	TickFailures int
	FinishedAt   time.Time
}

// WriteActuation records one execution outcome. Kind and outcome are tags;
// the requester is a field to keep tag cardinality low.
func (c *Client) WriteActuation(p ActuationPoint) {
	ts := p.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.WritePointWithTime(MeasurementActuation,
		map[string]string{
			"kind":    p.Kind,
			"outcome": p.Outcome,
		},
		map[string]interface{}{
			"requester_id":  p.RequesterID,
			"intensity":     p.Intensity,
			"duration_ms":   p.Duration.Milliseconds(),
			"elapsed_ms":    p.Elapsed.Milliseconds(),
			"devices":       p.Devices,
			"tick_failures": p.TickFailures,
		},
		ts,
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. Dropped
// silently when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
