package wire

import "errors"

var (
	// ErrMalformedFrame is returned when input is truncated or garbled.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownMessageType is returned for a kind byte with no registered decoder.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrUnsupportedField is returned when a value cannot be represented on the wire.
	ErrUnsupportedField = errors.New("unsupported field")
)
