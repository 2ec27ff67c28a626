// Package influxdb records FleetWatch activity metrics in InfluxDB v2.
//
// Two measurements are written:
//
//	device_activity  tags device_id, kind
//	                 fields log_bytes, fragments, ip_observations
//	registry_stats   tags scope (fleet|kind), kind
//	                 fields devices, log_bytes, fragments, ip_observations
//
// The telemetry listener writes device_activity after each accepted message;
// the stats reporter writes registry_stats on its schedule.
//
// Writes are batched per influxdb.batch_size and influxdb.flush_interval and
// never block the caller. Batch failures arrive on the SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
package influxdb
