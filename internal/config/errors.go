package config

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrReadFailed       = errors.ErrorCode("config_read_failed")
	ErrUnmarshalFailed  = errors.ErrorCode("config_unmarshal_failed")
	ErrInvalidBaudRate  = errors.ErrorCode("config_invalid_baud_rate")
	ErrInvalidInterval  = errors.ErrorCode("config_invalid_interval")
	ErrInvalidTimeout   = errors.ErrorCode("config_invalid_timeout")
	ErrInvalidRetries   = errors.ErrorCode("config_invalid_retries")
	ErrMissingDevice    = errors.ErrorCode("config_missing_device")
	ErrMissingDBPath    = errors.ErrorCode("config_missing_db_path")
	ErrInvalidFlagUsage = errors.ErrorCode("config_invalid_flag_usage")
)

var errFactory = errors.New()
