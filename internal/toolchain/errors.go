package toolchain

import (
	"fmt"
	"strings"
)

// InvocationError means a command could not run or exited non-zero without
// producing any output. It is never retried.
type InvocationError struct {
	Tool     string
	Args     []string
	ExitCode int
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s %s: invocation failed", e.Tool, strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ReportedFailure means a command ran and printed a failure message, either
// one the output classifiers recognise or any output with a non-zero exit.
// Only the install path retries it.
type ReportedFailure struct {
	Tool    string
	Message string
	Output  string
	// ExitCode is zero when the failure was recognised in the output of a
	// command that exited cleanly.
	ExitCode int
}

func (e *ReportedFailure) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s reported failure (exit %d): %s", e.Tool, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("%s reported failure: %s", e.Tool, e.Message)
}
