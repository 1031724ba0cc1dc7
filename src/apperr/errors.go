package apperr

import "errors"

// Application-level errors. Components wrap the underlying cause with one of these
// so callers can classify failures with errors.Is.
var (
	// FatalConfig
	ErrMissingCredentials = errors.New("missing session or stream token")
	ErrConfiguration      = errors.New("invalid or missing configuration")

	// TransientConnection
	ErrConnect      = errors.New("failed to connect to the venue")
	ErrNotConnected = errors.New("channel is not connected")

	// MalformedMessage
	ErrMalformedMessage = errors.New("malformed venue message")

	// UnknownInstrument
	ErrUnknownInstrument = errors.New("no trade tracked for instrument")

	// OrderSubmissionFailure
	ErrOrderSubmission = errors.New("failed to place order")

	// InvalidRequest
	ErrInvalidRequest = errors.New("invalid request parameters or format")

	// Auth collaborator
	ErrAuthenticationFailed = errors.New("venue authentication failed")
)

// IsFatal reports whether err must abort startup of the core.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrConfiguration)
}
