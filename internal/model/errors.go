package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session record is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRunning is returned when an operation needs a finished session.
	ErrSessionRunning = errors.New("session is still running")

	// ErrInvalidStatus is returned when storing an unknown session status.
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrRecordingNotFound is returned when a session has no recording on disk.
	ErrRecordingNotFound = errors.New("recording not found")
)
