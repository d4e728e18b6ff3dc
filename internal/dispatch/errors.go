package dispatch

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrAlreadyRunning = errors.ErrorCode("dispatch_already_running")
	ErrNotRunning     = errors.ErrorCode("dispatch_not_running")
	ErrCycleBusy      = errors.ErrorCode("dispatch_cycle_busy")
	ErrInvalidConfig  = errors.ErrorCode("dispatch_invalid_config")
)

var errFactory = errors.New()
