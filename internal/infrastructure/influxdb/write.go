package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementActivity = "device_activity"
	MeasurementStats    = "registry_stats"
)

// Activity is one device's log and IP totals after a telemetry update.
type Activity struct {
	DeviceID       string
	Kind           string
	LogBytes       int
	Fragments      int
	IPObservations int
}

// RegistryStats is the aggregate written by the stats reporter.
type RegistryStats struct {
	Devices        int
	LogBytes       int
	Fragments      int
	IPObservations int
	ByKind         map[string]int
}

// WriteActivity records a device_activity point tagged with device id and kind.
//
//	client.WriteActivity(influxdb.Activity{DeviceID: "lt-0042", Kind: "laptop", LogBytes: 512})
func (c *Client) WriteActivity(a Activity) {
	c.write(activityPoint(a, time.Now()))
}

// WriteRegistryStats records one registry_stats point for the whole fleet
// plus one per device kind.
func (c *Client) WriteRegistryStats(s RegistryStats) {
	now := time.Now()
	for _, p := range statsPoints(s, now) {
		c.write(p)
	}
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func activityPoint(a Activity, at time.Time) *write.Point {
	return write.NewPoint(MeasurementActivity,
		map[string]string{
			"device_id": a.DeviceID,
			"kind":      a.Kind,
		},
		map[string]any{
			"log_bytes":       a.LogBytes,
			"fragments":       a.Fragments,
			"ip_observations": a.IPObservations,
		},
		at)
}

func statsPoints(s RegistryStats, at time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(s.ByKind)+1)
	points = append(points, write.NewPoint(MeasurementStats,
		map[string]string{"scope": "fleet"},
		map[string]any{
			"devices":         s.Devices,
			"log_bytes":       s.LogBytes,
			"fragments":       s.Fragments,
			"ip_observations": s.IPObservations,
		},
		at))

	for kind, n := range s.ByKind {
		points = append(points, write.NewPoint(MeasurementStats,
			map[string]string{"scope": "kind", "kind": kind},
			map[string]any{"devices": n},
			at))
	}
	return points
}
