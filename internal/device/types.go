package device

import "time"

// Device is a read-only view of a registered endpoint.
//
// Views returned by the Store and Registry are independent copies; callers
// can modify them freely without affecting registry state.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Kind    Kind    `json:"kind"`
	Details Details `json:"details"`

	// Activity
	IPs       []IPObservation `json:"ips"`
	Log       string          `json:"log"`
	LogLength int             `json:"log_length"`
	Fragments int             `json:"fragments"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLog reports whether the device has accumulated any log content.
func (d *Device) HasLog() bool {
	return d.LogLength > 0
}

// DeepCopy creates a complete independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Details = d.Details.clone()

	if d.IPs != nil {
		cpy.IPs = make([]IPObservation, len(d.IPs))
		copy(cpy.IPs, d.IPs)
	}

	return &cpy
}

// IPObservation is a single recorded IP address event for a device.
type IPObservation struct {
	// IP is stored exactly as reported by the endpoint.
	IP string `json:"ip"`

	// Seq is the 1-based arrival order of the observation for its device.
	Seq int `json:"seq"`

	// ObservedAt is the UTC time the registry accepted the observation.
	ObservedAt time.Time `json:"observed_at"`
}

// Kind identifies the class of endpoint a device represents.
type Kind string

// Kind constants.
const (
	KindLaptop  Kind = "laptop"
	KindDesktop Kind = "desktop"
	KindMobile  Kind = "mobile"
)

// DefaultKind is assigned when a device registers without a kind.
const DefaultKind = KindLaptop

// AllKinds returns all valid device kinds.
func AllKinds() []Kind {
	return []Kind{KindLaptop, KindDesktop, KindMobile}
}

// Details is the kind-specific payload of a Device.
//
// At most one field may be set and it must match the device Kind:
//
//	Device{Kind: KindLaptop, Details: Details{Laptop: &LaptopDetails{Owner: "alice"}}}
type Details struct {
	Laptop  *LaptopDetails  `json:"laptop,omitempty"`
	Desktop *DesktopDetails `json:"desktop,omitempty"`
	Mobile  *MobileDetails  `json:"mobile,omitempty"`
}

// LaptopDetails holds laptop-specific attributes.
type LaptopDetails struct {
	Owner    string `json:"owner,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os,omitempty"`
}

// DesktopDetails holds desktop-specific attributes.
type DesktopDetails struct {
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os,omitempty"`
	Location string `json:"location,omitempty"`
}

// MobileDetails holds phone and tablet attributes.
type MobileDetails struct {
	Owner    string `json:"owner,omitempty"`
	Platform string `json:"platform,omitempty"`
	IMEI     string `json:"imei,omitempty"`
}

// populated returns the kinds whose payload is set.
func (d Details) populated() []Kind {
	var kinds []Kind
	if d.Laptop != nil {
		kinds = append(kinds, KindLaptop)
	}
	if d.Desktop != nil {
		kinds = append(kinds, KindDesktop)
	}
	if d.Mobile != nil {
		kinds = append(kinds, KindMobile)
	}
	return kinds
}

// clone copies the pointed-to payload so views never share it with the store.
func (d Details) clone() Details {
	var cpy Details
	if d.Laptop != nil {
		v := *d.Laptop
		cpy.Laptop = &v
	}
	if d.Desktop != nil {
		v := *d.Desktop
		cpy.Desktop = &v
	}
	if d.Mobile != nil {
		v := *d.Mobile
		cpy.Mobile = &v
	}
	return cpy
}

// Stats summarises registry contents for monitoring.
type Stats struct {
	TotalDevices        int          `json:"total_devices"`
	TotalLogBytes       int          `json:"total_log_bytes"`
	TotalFragments      int          `json:"total_fragments"`
	TotalIPObservations int          `json:"total_ip_observations"`
	ByKind              map[Kind]int `json:"by_kind"`
}
