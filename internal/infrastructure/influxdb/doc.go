// Package influxdb writes actuation telemetry to InfluxDB.
//
// Every finished scheduler execution becomes one point in the
// "actuation" measurement, tagged by command kind and outcome, so that
// device usage and failure rates can be charted over time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteActuation(influxdb.ActuationPoint{Kind: "pulse", Outcome: "success"})
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Batch failures are delivered to the SetOnError callback.
package influxdb
