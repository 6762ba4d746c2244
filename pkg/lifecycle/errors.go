package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrBusy           = errors.New("session is not idle")
	ErrConnectTimeout = errors.New("timed out waiting for the session to become ready")
	ErrStopped        = errors.New("session was stopped while connecting")

	// ErrPermissionDenied matches every *PermissionError.
	ErrPermissionDenied = errors.New("audio permission denied")
)

// PermissionError means the microphone could not be opened.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("audio permission denied: %v", e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// CredentialError means no session credential could be obtained.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("session credential unavailable: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}
