// Package influxdb provides InfluxDB connectivity for the device core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Template runtime events (UID verdicts, signal hold transitions, rule firings)
//   - Configuration commits (generation, active profile, device count)
//   - Liveness stalls reported by the store watchdog
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graylogic",
//	    Bucket: "devicecore",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a template event
//	client.WriteTemplateEvent(influxdb.TemplateEvent{
//	    DeviceID: "door", Kind: "uid", Event: "success",
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead when readers and pedals are busy.
package influxdb
