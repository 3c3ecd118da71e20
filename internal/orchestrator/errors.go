package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionActive is returned when Run is called while a session is running.
var ErrSessionActive = errors.New("a session is already running")

// ErrInterrupted is returned when the active session is cancelled via
// Interrupt or caller context cancellation.
var ErrInterrupted = errors.New("session interrupted")

// SpawnError reports that the toolchain executable could not be started.
// Fatal, never retried.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to execute %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is checks against the SpawnError type.
func (e *SpawnError) Is(target error) bool {
	_, ok := target.(*SpawnError)
	return ok
}

// TimeoutError reports that the deadline expired while the session was
// non-interactive. The child has been killed as a side effect.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Elapsed.Round(time.Millisecond))
}

// Is enables errors.Is checks against the TimeoutError type.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// CommandError reports a non-zero child exit while non-interactive. The full
// transcript is carried as context.
type CommandError struct {
	Command    string
	ExitCode   int
	Transcript string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Transcript)
}

// Is enables errors.Is checks against the CommandError type.
func (e *CommandError) Is(target error) bool {
	_, ok := target.(*CommandError)
	return ok
}

// ArgumentError reports an invocation rejected before spawn because a
// required argument is missing.
type ArgumentError struct {
	Command string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: project name is required", e.Command)
}

// Is enables errors.Is checks against the ArgumentError type.
func (e *ArgumentError) Is(target error) bool {
	_, ok := target.(*ArgumentError)
	return ok
}

// PreflightError reports that an extension subcommand was invoked but the
// extension is not installed.
type PreflightError struct {
	Extension string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf(
		"cargo-%s is not installed. Please install it with 'cargo install cargo-%s'",
		e.Extension,
		e.Extension,
	)
}

// Is enables errors.Is checks against the PreflightError type.
func (e *PreflightError) Is(target error) bool {
	_, ok := target.(*PreflightError)
	return ok
}
