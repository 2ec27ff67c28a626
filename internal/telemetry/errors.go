package telemetry

import "errors"

// Errors returned by Listener.HandleMessage. Match with errors.Is.
var (
	// ErrUnknownTopic is returned for topics outside the telemetry tree.
	ErrUnknownTopic = errors.New("telemetry: unknown topic")

	// ErrUnknownChannel is returned for a channel other than log, ip or hello.
	ErrUnknownChannel = errors.New("telemetry: unknown channel")

	// ErrBadPayload is returned when a payload is not the expected JSON object.
	ErrBadPayload = errors.New("telemetry: malformed payload")

	// ErrUnknownDevice is returned when a message names an unregistered
	// device and auto-registration is off.
	ErrUnknownDevice = errors.New("telemetry: unknown device")
)
