package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues a point stamped with the current time.
//
// Example:
//
//	client.WritePoint("pool_temps",
//	    map[string]string{"site": "home"},
//	    map[string]any{"air": 21.5, "water": 27.0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) error {
	return c.WritePointAt(measurement, tags, fields, time.Now())
}

// WritePointAt queues a point with an explicit timestamp.
//
// Writes are batched and sent asynchronously; transport failures surface
// through the SetOnError callback, not the return value.
func (c *Client) WritePointAt(measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if measurement == "" {
		return fmt.Errorf("%w: measurement is required", ErrWriteFailed)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrWriteFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	return nil
}
