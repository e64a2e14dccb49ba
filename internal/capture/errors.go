package capture

import (
	"errors"
	"fmt"
)

// ValidationReason identifies why a capture request was rejected.
type ValidationReason string

// Validation reasons.
const (
	ReasonEmptyInput        ValidationReason = "empty_input"
	ReasonMalformedURL      ValidationReason = "malformed_url"
	ReasonUnsupportedScheme ValidationReason = "unsupported_scheme"
	ReasonMissingHost       ValidationReason = "missing_host"
	ReasonInvalidOptions    ValidationReason = "invalid_options"
)

// ValidationError reports bad client input. It is never retried.
type ValidationError struct {
	Reason  ValidationReason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// EngineReason identifies why an engine failed.
type EngineReason string

// Headless engine reasons.
const (
	ReasonLaunchFailed      EngineReason = "launch_failed"
	ReasonNavigationTimeout EngineReason = "navigation_timeout"
	ReasonNavigationError   EngineReason = "navigation_error"
	ReasonCaptureFailed     EngineReason = "capture_failed"
)

// Rendering API engine reasons.
const (
	ReasonMissingCredential       EngineReason = "missing_credential"
	ReasonServiceError            EngineReason = "service_error"
	ReasonMissingContentReference EngineReason = "missing_content_reference"
	ReasonDownloadFailed          EngineReason = "download_failed"
)

// EngineError is returned by an Engine when it could not produce an image.
type EngineError struct {
	Engine string
	Reason EngineReason
	Err    error
}

// NewEngineError builds an EngineError.
func NewEngineError(engine string, reason EngineReason, err error) *EngineError {
	return &EngineError{Engine: engine, Reason: reason, Err: err}
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Engine, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Reason, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ErrCaptureFailed matches any CaptureFailedError via errors.Is.
var ErrCaptureFailed = errors.New("capture failed")

// CaptureFailedError is the terminal failure when both engines failed.
// Fallback is nil when no fallback engine is configured.
type CaptureFailedError struct {
	Primary  error
	Fallback error
}

func (e *CaptureFailedError) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("capture failed: primary: %v; no fallback configured", e.Primary)
	}
	return fmt.Sprintf("capture failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// Is reports whether target is ErrCaptureFailed.
func (e *CaptureFailedError) Is(target error) bool {
	return target == ErrCaptureFailed
}

func (e *CaptureFailedError) Unwrap() []error {
	errs := []error{e.Primary}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// EngineReasonOf extracts the engine reason from err, if any.
func EngineReasonOf(err error) (EngineReason, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Reason, true
	}
	return "", false
}
