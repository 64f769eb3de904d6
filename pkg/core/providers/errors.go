// Package providers holds the error shape shared by all external
// provider adapters (STT, translation, TTS).
package providers

import "fmt"

// Error is a normalized provider failure. Adapters fill in what the
// vendor gave them; everything downstream depends only on the
// transient/permanent verdict computed from these fields.
type Error struct {
	Provider string // adapter identifier, e.g. "stt", "translate"
	Code     string // vendor error code name, e.g. "RESOURCE_EXHAUSTED"
	Status   int    // HTTP-style status, 0 if not applicable
	Message  string
	Err      error // underlying transport error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Status > 0:
		return fmt.Sprintf("%s: %s (code: %s, status: %d)", e.Provider, e.Message, e.Code, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s: %s (code: %s)", e.Provider, e.Message, e.Code)
	case e.Status > 0:
		return fmt.Sprintf("%s: %s (status: %d)", e.Provider, e.Message, e.Status)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a provider error without an underlying cause.
func New(provider, code string, status int, message string) *Error {
	return &Error{Provider: provider, Code: code, Status: status, Message: message}
}

// Wrap creates a provider error around an underlying transport error.
func Wrap(provider string, err error) *Error {
	return &Error{Provider: provider, Message: err.Error(), Err: err}
}
