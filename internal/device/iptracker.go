package device

// RecordIP appends an IP observation to the device's history and returns it.
// The value is stored as given; duplicates are kept.
// Returns ErrInvalidIP for an empty value and ErrDeviceNotFound if the device
// does not exist.
func (s *Store) RecordIP(id, ip string) (IPObservation, error) {
	var obs IPObservation
	err := s.withRecord(id, func(r *record) error {
		if err := ValidateIP(ip); err != nil {
			return err
		}
		obs = r.recordIP(ip, s.now())
		s.emit(Entry{Kind: EntryAppendIP, DeviceID: id, IP: obs, At: obs.ObservedAt})
		return nil
	})
	return obs, err
}

// ListIPs returns every recorded IP concatenated in arrival order with no
// delimiter, so "192.168.1.1" followed by "10.0.0.2" reads
// "192.168.1.110.0.0.2". Existing consumers parse this form; use
// ListIPsDelimited or IPObservations for anything new.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) ListIPs(id string) (string, error) {
	return s.ListIPsDelimited(id, "")
}

// ListIPsDelimited returns recorded IPs in arrival order joined by sep.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) ListIPsDelimited(id, sep string) (string, error) {
	var joined string
	err := s.withRecord(id, func(r *record) error {
		joined = r.joinIPs(sep)
		return nil
	})
	return joined, err
}

// IPObservations returns a copy of the device's IP history in arrival order.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) IPObservations(id string) ([]IPObservation, error) {
	var out []IPObservation
	err := s.withRecord(id, func(r *record) error {
		out = make([]IPObservation, len(r.ips))
		copy(out, r.ips)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
