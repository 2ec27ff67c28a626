package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // register the device first
//	}
var (
	// ErrDeviceNotFound is returned when an operation names an id that was
	// never registered or has been removed.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an id that is already present.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidID is returned when a device id is empty or malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidKind is returned when a kind is not recognised or its
	// details payload does not match.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidIP is returned when an IP observation is empty or too long.
	ErrInvalidIP = errors.New("device: invalid ip")

	// ErrFragmentTooLarge is returned when a single log fragment exceeds the limit.
	ErrFragmentTooLarge = errors.New("device: log fragment too large")
)
