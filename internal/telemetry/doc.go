// Package telemetry connects endpoints on the MQTT bus to the device registry.
//
// The Listener consumes what endpoints publish:
//
//	fleetwatch/telemetry/{device_id}/hello  {"name": "...", "kind": "laptop"}
//	fleetwatch/telemetry/{device_id}/log    {"fragment": "..."}
//	fleetwatch/telemetry/{device_id}/ip     {"ip": "..."}
//
// Messages for unknown devices are dropped unless telemetry.auto_register is
// set, in which case the device is registered on first contact (name = id
// unless a hello supplied one) and an audit entry is written.
//
// The EventPublisher goes the other way: it is a device.EventSink that
// republishes every registry event as JSON on fleetwatch/events/{device_id}.
package telemetry
