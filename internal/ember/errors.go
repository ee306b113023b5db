package ember

import "errors"

// Wire-level errors returned by the S101 framing and BER decoding layers.
var (
	// ErrTruncated is returned when a BER value ends before its declared length.
	ErrTruncated = errors.New("ember: truncated data")

	// ErrMalformed is returned when BER data cannot be parsed.
	ErrMalformed = errors.New("ember: malformed BER data")

	// ErrFrame is returned when an S101 frame is structurally invalid.
	ErrFrame = errors.New("ember: invalid S101 frame")

	// ErrCRC is returned when an S101 frame fails its checksum.
	ErrCRC = errors.New("ember: S101 checksum mismatch")

	// ErrUnexpectedElement is returned when a Glow message does not have the
	// expected structure (wrong application tag, missing mandatory field).
	ErrUnexpectedElement = errors.New("ember: unexpected glow element")
)
