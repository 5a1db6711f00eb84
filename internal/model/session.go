package model

import (
	"time"
)

// SessionStatus represents the status of a terminal session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusClosed  SessionStatus = "closed"
	SessionStatusFailed  SessionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusRunning, SessionStatusExited, SessionStatusClosed, SessionStatusFailed:
		return true
	}
	return false
}

// Finished reports whether the session can no longer change.
func (s SessionStatus) Finished() bool {
	return s != SessionStatusRunning
}

// TerminalSession is the audit record of one bridged shell. Terminal output
// is not stored; PreviewLine holds the last visible line at close.
type TerminalSession struct {
	ID            string        `json:"id"`
	Shell         string        `json:"shell"`
	PID           *int          `json:"pid,omitempty"`
	WorkspaceRoot string        `json:"workspaceRoot"`
	Cwd           string        `json:"cwd,omitempty"`
	Status        SessionStatus `json:"status"`
	ExitCode      *int          `json:"exitCode,omitempty"`
	RecordingPath string        `json:"-"`
	HasRecording  bool          `json:"hasRecording"`
	PreviewLine   string        `json:"previewLine,omitempty"`
	RemoteAddr    string        `json:"remoteAddr,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Duration returns how long the session ran, or has been running.
func (s *TerminalSession) Duration() time.Duration {
	if s.Status.Finished() {
		return s.UpdatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}
