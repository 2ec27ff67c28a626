package device

// AppendLog appends fragment to the device's log and returns the full
// accumulated log. An empty fragment is accepted and leaves the log unchanged.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) AppendLog(id, fragment string) (string, error) {
	var full string
	err := s.withRecord(id, func(r *record) error {
		if err := ValidateFragment(fragment); err != nil {
			return err
		}
		now := s.now()
		full = r.appendLog(fragment, now)
		if fragment != "" {
			s.emit(Entry{Kind: EntryAppendFragment, DeviceID: id, Fragment: fragment, At: now})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full, nil
}

// HasLog reports whether the device's log is non-empty.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) HasLog(id string) (bool, error) {
	var has bool
	err := s.withRecord(id, func(r *record) error {
		has = r.log.Len() > 0
		return nil
	})
	return has, err
}

// ReadLog returns the full accumulated log for the device.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) ReadLog(id string) (string, error) {
	var log string
	err := s.withRecord(id, func(r *record) error {
		log = r.log.String()
		return nil
	})
	return log, err
}

// LogLength returns the byte length of the device's log.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) LogLength(id string) (int, error) {
	var n int
	err := s.withRecord(id, func(r *record) error {
		n = r.log.Len()
		return nil
	})
	return n, err
}
