package source

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrSourceUnavailable = errors.ErrorCode("source_unavailable")
	ErrSourceTimeout     = errors.ErrorCode("source_timeout")
	ErrAPIRequestFailed  = errors.ErrorCode("source_api_request_failed")
	ErrAPIResponse       = errors.ErrorCode("source_api_response_invalid")
	ErrCityUnknown       = errors.ErrorCode("source_city_unknown")
	ErrIndexUnknown      = errors.ErrorCode("source_index_unknown")
)

var errFactory = errors.New()
