package connmgr

import "errors"

var (
	// ErrInvalidCredentials is returned for a submission with an empty network name
	ErrInvalidCredentials = errors.New("network name must not be empty")

	// ErrAttemptsExhausted marks the fallback to Portal after the retry policy ran out
	ErrAttemptsExhausted = errors.New("association attempts exhausted")
)
