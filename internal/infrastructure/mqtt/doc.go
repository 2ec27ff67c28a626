// Package mqtt connects FleetWatch Core to the MQTT broker endpoints report
// through.
//
// Endpoints publish telemetry under
//
//	{prefix}/telemetry/{device_id}/{log|ip|hello}
//
// and core publishes registry events to {prefix}/events/{device_id}. A
// retained message on {prefix}/system/status says whether core is online;
// the broker flips it to offline through the Last Will if core dies.
//
// The client reconnects with backoff and re-subscribes everything it was
// subscribed to. Handlers run on paho goroutines and are wrapped with panic
// recovery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        id, channel, ok := client.Topics().ParseTelemetry(topic)
//	        ...
//	    })
package mqtt
