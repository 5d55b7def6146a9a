package playout

import (
	"errors"
	"fmt"
	"strings"
)

// FailureType classifies pipeline failures for recovery routing.
type FailureType int

const (
	// FailureCrash indicates the transcoder process died unexpectedly
	FailureCrash FailureType = iota
	// FailureSourceLost indicates the input source became unreachable
	FailureSourceLost
	// FailureDecode indicates the input could not be decoded
	FailureDecode
	// FailureTimeout indicates pipeline startup or I/O timed out
	FailureTimeout
)

// String returns the string representation of FailureType
func (t FailureType) String() string {
	switch t {
	case FailureCrash:
		return "crash"
	case FailureSourceLost:
		return "source_lost"
	case FailureDecode:
		return "decode"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PipelineError is a classified pipeline failure.
type PipelineError struct {
	Type    FailureType
	Message string
	Cause   error
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(failureType FailureType, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    failureType,
		Message: message,
		Cause:   cause,
	}
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type.String(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type.String(), e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyPipelineError classifies a raw pipeline error, using any stderr
// tail the transcoder captured before dying.
func ClassifyPipelineError(err error, stderrTail string) *PipelineError {
	if err == nil {
		return nil
	}

	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr
	}

	text := strings.ToLower(err.Error() + " " + stderrTail)

	switch {
	case strings.Contains(text, "connection refused"),
		strings.Contains(text, "connection reset"),
		strings.Contains(text, "no such file or directory"),
		strings.Contains(text, "server returned 4"),
		strings.Contains(text, "input/output error"):
		return NewPipelineError(FailureSourceLost, "input source unreachable", err)
	case strings.Contains(text, "invalid data found"),
		strings.Contains(text, "could not find codec"),
		strings.Contains(text, "decoder"):
		return NewPipelineError(FailureDecode, "input could not be decoded", err)
	case strings.Contains(text, "timeout"),
		strings.Contains(text, "timed out"),
		strings.Contains(text, "deadline exceeded"):
		return NewPipelineError(FailureTimeout, "pipeline operation timed out", err)
	default:
		return NewPipelineError(FailureCrash, "transcoder process failed", err)
	}
}
