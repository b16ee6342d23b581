package model

import "fmt"

// Error kinds for the submission pipeline. Callers branch on Kind to
// decide retryability; message text is for humans only.
const (
	KindFormat              = "FORMAT"
	KindMissingCredential   = "MISSING_CREDENTIAL"
	KindInvalidArchive      = "INVALID_ARCHIVE"
	KindSigning             = "SIGNING"
	KindStructuralInvariant = "STRUCTURAL_INVARIANT"
	KindPackaging           = "PACKAGING"
	KindPreflight           = "PREFLIGHT"
	KindTransport           = "TRANSPORT"
	KindBusinessRejection   = "BUSINESS_REJECTION"
)

// PipelineError is the error type for every fatal condition in the
// submission pipeline. Kind is stable, Field narrows the offending
// element when one exists, Artifact points at a persisted diagnostic
// file when one was written.
type PipelineError struct {
	Kind      string
	Field     string
	Message   string
	Artifact  string
	Retryable bool
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Kind, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a pipeline error with an explicit kind
func NewPipelineError(kind, field, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// ErrFormat returns an error for malformed identifiers or control codes
func ErrFormat(field, message string) *PipelineError {
	return NewPipelineError(KindFormat, field, message, nil)
}

// ErrMissingCredential returns an error when the credential path or
// passphrase was never supplied
func ErrMissingCredential(message string) *PipelineError {
	return NewPipelineError(KindMissingCredential, "credential", message, nil)
}

// ErrInvalidArchive returns an error for an unreadable credential archive
// (wrong passphrase or corrupt file, after every decode path is exhausted)
func ErrInvalidArchive(cause error) *PipelineError {
	return NewPipelineError(KindInvalidArchive, "credential", "cannot decode credential archive", cause)
}

// ErrSigning returns an error for a crypto or key failure while signing
func ErrSigning(cause error) *PipelineError {
	return NewPipelineError(KindSigning, "signature", "signing failed", cause)
}

// ErrStructuralInvariant returns an error when a signed document violates
// its own post-conditions
func ErrStructuralInvariant(field, message string) *PipelineError {
	return NewPipelineError(KindStructuralInvariant, field, message, nil)
}

// ErrPackaging returns an error when batch assembly refuses its input
func ErrPackaging(field, message string, cause error) *PipelineError {
	return NewPipelineError(KindPackaging, field, message, cause)
}

// ErrPreflight returns an error for a local pre-transmission check failure
func ErrPreflight(field, message, artifact string) *PipelineError {
	return &PipelineError{
		Kind:     KindPreflight,
		Field:    field,
		Message:  message,
		Artifact: artifact,
	}
}

// ErrTransport returns a network or HTTP-level error. retryable marks
// connection-class failures eligible for the bounded retry budget.
func ErrTransport(message string, retryable bool, cause error) *PipelineError {
	return &PipelineError{
		Kind:      KindTransport,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ErrBusinessRejection returns an error for a response that arrived over
// a healthy wire but was rejected by the platform. Never retryable:
// resubmitting the same control code fails identically, recovery needs a
// regenerated CDC.
func ErrBusinessRejection(code, message string) *PipelineError {
	return &PipelineError{
		Kind:    KindBusinessRejection,
		Field:   code,
		Message: message,
	}
}

// IsRetryable reports whether err is a transport error inside the
// bounded retry budget. Everything else, business rejections included,
// is terminal for the attempt.
func IsRetryable(err error) bool {
	pe, ok := err.(*PipelineError)
	return ok && pe.Retryable
}
