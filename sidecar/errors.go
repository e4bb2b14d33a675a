package sidecar

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller misuse. They are returned synchronously and
// never change the connection state.
var (
	ErrNotConnected   = errors.New("agent is not connected")
	ErrTurnInProgress = errors.New("a reply is still in progress")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSessionClosed  = errors.New("session is closed")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// ProcessError is a transport failure: spawn, write or unexpected exit.
// It puts the session in the error state; Reconnect recovers.
type ProcessError struct {
	Cause    error
	Message  string
	ExitCode int
	Exited   bool
}

func (e *ProcessError) Error() string {
	msg := "process error: " + e.Message
	if e.Exited {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// CommandNotFoundError indicates the agent executable could not be found.
type CommandNotFoundError struct {
	Cause error
	Path  string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("agent command not found at %q: %v", e.Path, e.Cause)
}

func (e *CommandNotFoundError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether a Reconnect can be expected to clear err.
// A missing executable or a closed session cannot be fixed by retrying.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var notFound *CommandNotFoundError
	if errors.As(err, &notFound) {
		return false
	}

	if errors.Is(err, ErrSessionClosed) {
		return false
	}

	return true
}
