package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder accumulates context on an error before it is marked.
//
//	ierr.NewError("invoice not found").
//		WithHint("The invoice may have been deleted").
//		WithReportableDetails(map[string]interface{}{"invoice_id": id}).
//		Mark(ierr.ErrNotFound)
type ErrorBuilder struct {
	err error
}

// NewError starts a builder from a fresh error carrying a stack trace.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepth(1, msg)}
}

// NewErrorf is NewError with formatting.
func NewErrorf(format string, args ...interface{}) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepthf(1, format, args...)}
}

// WithError starts a builder that wraps an existing error.
func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.NewWithDepth(1, "unknown error")
	}
	return &ErrorBuilder{err: err}
}

// WithMessage prefixes the error message.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint attaches a message that is safe to show to API callers.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf is WithHint with formatting.
func (b *ErrorBuilder) WithHintf(format string, args ...interface{}) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches structured details that are returned in API
// error responses and logged alongside the error.
func (b *ErrorBuilder) WithReportableDetails(details map[string]interface{}) *ErrorBuilder {
	if len(details) == 0 {
		return b
	}
	b.err = &reportableError{cause: b.err, details: details}
	return b
}

// Mark classifies the error with one of the package markers and returns it.
func (b *ErrorBuilder) Mark(reference error) error {
	return errors.Mark(b.err, reference)
}

// Err returns the built error without a classification.
func (b *ErrorBuilder) Err() error {
	return b.err
}

type reportableError struct {
	cause   error
	details map[string]interface{}
}

func (e *reportableError) Error() string { return e.cause.Error() }

func (e *reportableError) Unwrap() error { return e.cause }

func (e *reportableError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// GetReportableDetails merges every details map found in the error chain.
// Outer details win on key collisions.
func GetReportableDetails(err error) map[string]interface{} {
	details := make(map[string]interface{})
	for err != nil {
		if re, ok := err.(*reportableError); ok {
			for k, v := range re.details {
				if _, exists := details[k]; !exists {
					details[k] = v
				}
			}
		}
		err = errors.UnwrapOnce(err)
	}
	return details
}
