// Package influxdb writes node readings to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The SQLite telemetry
// table keeps the raw documents; InfluxDB receives the numeric readings for
// charting and long-range queries.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time-series store is optional
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("climate_007", "climate", data, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures are delivered to the SetOnError callback. Connection and health
// check errors are returned directly.
package influxdb
