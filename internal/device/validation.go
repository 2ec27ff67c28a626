package device

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxIDLength       = 64
	maxNameLength     = 100
	maxIPLength       = 64
	maxDetailsField   = 256
	maxFragmentLength = 64 << 10 // 64 KiB per fragment
	idPattern         = `^[A-Za-z0-9][A-Za-z0-9._:-]*$`
)

var idRegex = regexp.MustCompile(idPattern)

var validKinds map[Kind]struct{}

func init() {
	validKinds = make(map[Kind]struct{}, len(AllKinds()))
	for _, k := range AllKinds() {
		validKinds[k] = struct{}{}
	}
}

// ValidateID checks a device id.
// Ids are also MQTT topic segments, so wildcards and separators are rejected.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q must be alphanumeric with . _ : - separators", ErrInvalidID, id)
	}
	return nil
}

// ValidateName checks a device display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateKind checks that kind is known and that details carry at most the
// payload for that kind.
func ValidateKind(kind Kind, details Details) error {
	if _, ok := validKinds[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	populated := details.populated()
	if len(populated) > 1 {
		return fmt.Errorf("%w: details set for %d kinds", ErrInvalidKind, len(populated))
	}
	if len(populated) == 1 && populated[0] != kind {
		return fmt.Errorf("%w: %s details on %s device", ErrInvalidKind, populated[0], kind)
	}

	for _, v := range detailStrings(details) {
		if len(v) > maxDetailsField {
			return fmt.Errorf("%w: details value exceeds %d characters", ErrInvalidDevice, maxDetailsField)
		}
	}
	return nil
}

// ValidateIP checks an IP observation before it is recorded.
// The value is kept verbatim; only emptiness and length are enforced here.
func ValidateIP(ip string) error {
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidIP)
	}
	if len(ip) > maxIPLength {
		return fmt.Errorf("%w: ip exceeds %d characters", ErrInvalidIP, maxIPLength)
	}
	return nil
}

// ValidateFragment checks a log fragment before it is appended.
func ValidateFragment(fragment string) error {
	if len(fragment) > maxFragmentLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFragmentTooLarge, len(fragment), maxFragmentLength)
	}
	return nil
}

// ValidateDevice validates the registration fields of a device.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	return ValidateKind(d.Kind, d.Details)
}

func detailStrings(d Details) []string {
	var out []string
	if d.Laptop != nil {
		out = append(out, d.Laptop.Owner, d.Laptop.Hostname, d.Laptop.OS)
	}
	if d.Desktop != nil {
		out = append(out, d.Desktop.Hostname, d.Desktop.OS, d.Desktop.Location)
	}
	if d.Mobile != nil {
		out = append(out, d.Mobile.Owner, d.Mobile.Platform, d.Mobile.IMEI)
	}
	return out
}
