package errors

import "errors"

// Remote errors.
var (
	ErrRemoteNotFound     = errors.New("remote file not found")
	ErrUploadPrecondition = errors.New("remote file changed since last sync")
	ErrAPIRequest         = errors.New("API request failed")
	ErrAPIResponse        = errors.New("unexpected API response")
)

// Local errors.
var (
	ErrFileNotFound    = errors.New("file not found in local store")
	ErrInvalidMode     = errors.New("invalid synchronization mode")
	ErrInvalidDecision = errors.New("invalid conflict decision")
	ErrNoLocalBytes    = errors.New("file has no local bytes")
)
