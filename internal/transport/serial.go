package transport

import (
	goserial "go.bug.st/serial"
)

// NewSerialOpener returns an Opener backed by the OS serial stack.
// The display link is always 8-N-1; only device and speed vary.
func NewSerialOpener() Opener {
	return func(device string, baudRate int) (Port, error) {
		mode := &goserial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   goserial.NoParity,
			StopBits: goserial.OneStopBit,
		}

		port, err := goserial.Open(device, mode)
		if err != nil {
			return nil, wrapSerialError(device, err)
		}

		return port, nil
	}
}

// NewSerialLister returns a Lister over the OS device table
func NewSerialLister() Lister {
	return goserial.GetPortsList
}

// wrapSerialError maps library error codes onto transport error codes
// so callers can react without importing the serial package
func wrapSerialError(device string, err error) error {
	portErr, ok := err.(*goserial.PortError)
	if !ok {
		return errFactory.Wrap(ErrConfigurationRejected, err)
	}

	switch portErr.Code() {
	case goserial.PortNotFound:
		return errFactory.WithData(ErrPortNotFound, device)
	case goserial.PortBusy, goserial.PermissionDenied:
		return errFactory.WithData(ErrPortBusy, device)
	default:
		return errFactory.Wrap(ErrConfigurationRejected, err)
	}
}
