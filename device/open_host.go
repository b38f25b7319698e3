//go:build !cuda

package device

// Count returns the number of selectable devices. Without CUDA support only
// the host device exists.
func Count() (int, error) {
	return 1, nil
}

// Open selects the device at index.
func Open(index int) (Device, error) {
	if index != 0 {
		return nil, &DeviceError{Op: "select device", Index: index, Err: ErrNoDevice}
	}

	return NewHost(), nil
}
