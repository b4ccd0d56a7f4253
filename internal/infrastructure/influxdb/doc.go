// Package influxdb provides the InfluxDB v2 connection used by influx
// interface bridges.
//
// It wraps influxdb-client-go v2 with connection verification, a
// non-blocking batched write API and health checks.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "home",
//	    Bucket: "gateway",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoint("pool_temps", nil, map[string]any{"air": 21.5})
//
// # Error Handling
//
// Writes are batched (batch_size, flush_interval from the bridge options).
// Batch failures are reported through SetOnError; connection and health
// check errors are returned directly.
package influxdb
