// Package errors defines the sentinel error taxonomy used throughout the
// reflection sidecar. Every error carries a machine-readable Code that
// callers can inspect without string matching, and optionally wraps an
// underlying cause so errors.Is / errors.As chains work correctly.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// SidecarError is the single concrete error type used throughout the core.
// Code is a stable, machine-readable identifier; Message is a human-readable
// description. Cause, when non-nil, is the underlying error that triggered
// this one.
type SidecarError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SidecarError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.Is and errors.As can
// traverse the chain.
func (e *SidecarError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is work correctly for SidecarError sentinels. Two
// SidecarErrors are considered equal when their Code fields match,
// regardless of Message or Cause.
func (e *SidecarError) Is(target error) bool {
	var t *SidecarError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Wrap returns a new SidecarError that shares the code and message of base
// but records cause as its underlying error.
//
//	return errors.Wrap(errors.ErrTransport, err)
func Wrap(base *SidecarError, cause error) *SidecarError {
	return &SidecarError{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Sentinel errors corresponding to the taxonomy in spec §7.

// ErrTransport is returned when the host runtime is unreachable, a session
// was deleted out from under the core, or a prompt post failed.
var ErrTransport = &SidecarError{
	Code:    "transport",
	Message: "host runtime unreachable or request failed",
}

// ErrParse is returned when a self-assessment response could not be parsed
// as JSON.
var ErrParse = &SidecarError{
	Code:    "parse",
	Message: "self-assessment response was not valid JSON",
}

// ErrTimeout is returned when no completed assistant reply arrived within
// JUDGE_RESPONSE_TIMEOUT.
var ErrTimeout = &SidecarError{
	Code:    "timeout",
	Message: "judge response timed out",
}

// ErrConfiguration is returned when a model spec or other operator
// configuration value is missing or invalid. It never blocks reflection;
// callers fall back to host defaults.
var ErrConfiguration = &SidecarError{
	Code:    "configuration",
	Message: "invalid or missing configuration",
}

// ErrRace is returned when an abort or a newer user message is observed
// mid-reflection, forcing the orchestrator to suppress feedback injection.
var ErrRace = &SidecarError{
	Code:    "race",
	Message: "abort or newer user message observed during reflection",
}

// IsTransient reports whether err represents a condition a caller may
// reasonably retry against the next candidate model. Transport and timeout
// errors are transient; parse, configuration, and race errors are not, nor
// are the standard library context errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *SidecarError
	if !errors.As(err, &se) {
		return false
	}

	switch se.Code {
	case ErrTransport.Code, ErrTimeout.Code:
		return true
	default:
		return false
	}
}
