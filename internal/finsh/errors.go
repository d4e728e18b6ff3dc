package finsh

import "codeberg.org/mutker/finshlink/internal/errors"

const (
	ErrPayloadInvalid = errors.ErrorCode("finsh_payload_invalid")
	ErrFrameTooLarge  = errors.ErrorCode("finsh_frame_too_large")
	ErrHexInput       = errors.ErrorCode("finsh_hex_input_invalid")
)

var errFactory = errors.New()
