package homebridge

import "errors"

var (
	// ErrUnexpectedStatus wraps a non-2xx response from the accessory
	// API.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrMalformedResponse means the accessory API answered with a
	// body the client could not interpret.
	ErrMalformedResponse = errors.New("malformed characteristics response")
)
