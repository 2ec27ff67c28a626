package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize bounds outgoing payloads; most brokers reject larger ones.
const maxPayloadSize = 1 << 20

func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to acknowledge it.
//
// Retained messages are replayed to new subscribers; use them for state
// (system status), not for events.
//
//	topic := client.Topics().Event("lt-0042")
//	err := client.Publish(topic, body, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it, non-retained, at the configured QoS.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, c.qos(), false)
}
