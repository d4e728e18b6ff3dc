package transport

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrPortNotFound          = errors.ErrorCode("transport_port_not_found")
	ErrPortBusy              = errors.ErrorCode("transport_port_busy")
	ErrConfigurationRejected = errors.ErrorCode("transport_configuration_rejected")
	ErrNotConnected          = errors.ErrorCode("transport_not_connected")
	ErrAlreadyConnected      = errors.ErrorCode("transport_already_connected")
	ErrWriteTimeout          = errors.ErrorCode("transport_write_timeout")
	ErrWriteFailed           = errors.ErrorCode("transport_write_failed")
	ErrReadFailed            = errors.ErrorCode("transport_read_failed")
	ErrListPortsFailed       = errors.ErrorCode("transport_list_ports_failed")
)

var errFactory = errors.New()
