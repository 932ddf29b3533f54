// Package docerr defines the failure taxonomy shared by every pipeline stage.
package docerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The string values are part of the
// result envelope wire contract.
type Kind string

const (
	KindEncoding     Kind = "encoding_error"
	KindFileSize     Kind = "file_size_error"
	KindFormat       Kind = "format_error"
	KindEmptyContent Kind = "empty_content_error"
	KindCorruption   Kind = "corruption_error"
	KindAITimeout    Kind = "ai_service_timeout"
	KindAIQuota      Kind = "ai_service_quota"
	KindAIAuth       Kind = "ai_service_auth"
	KindAIService    Kind = "ai_service_error"
	KindMemory       Kind = "memory_error"
	KindDisk         Kind = "disk_error"
	KindTimeout      Kind = "timeout_error"
	KindPermission   Kind = "permission_error"
	KindUnknown      Kind = "unknown_error"
)

// Kinds lists every kind in envelope order.
var Kinds = []Kind{
	KindEncoding, KindFileSize, KindFormat, KindEmptyContent, KindCorruption,
	KindAITimeout, KindAIQuota, KindAIAuth, KindAIService,
	KindMemory, KindDisk, KindTimeout, KindPermission, KindUnknown,
}

// Error is a classified failure. Details and Suggestions are optional extra
// bullets that the envelope appends to the kind's defaults.
type Error struct {
	Kind        Kind
	Message     string
	Details     []string
	Suggestions []string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New returns a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails appends detail bullets and returns e.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// WithSuggestions appends remediation bullets and returns e.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = append(e.Suggestions, s...)
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
