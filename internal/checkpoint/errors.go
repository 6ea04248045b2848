// internal/checkpoint/errors.go
package checkpoint

import "errors"

var (
	// ErrSessionNotInitialized is returned for a session id the registry has not seen
	ErrSessionNotInitialized = errors.New("session not initialized")

	// ErrDuplicateMessageIndex is returned under the reject policy when the session
	// already has a checkpoint at the requested message index
	ErrDuplicateMessageIndex = errors.New("message index already has a checkpoint")

	ErrInvalidMessageIndex = errors.New("message index must not be negative")

	// ErrRegistryClosed is returned by GetOrCreate once the registry is closed
	ErrRegistryClosed = errors.New("checkpoint registry closed")
)

// StoreError wraps a failure of the underlying checkpoint store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
