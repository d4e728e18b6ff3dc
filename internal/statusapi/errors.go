package statusapi

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrInvalidRequest = errors.ErrorCode("statusapi_invalid_request")
	ErrServerFailed   = errors.ErrorCode("statusapi_server_failed")
)

var errFactory = errors.New()
