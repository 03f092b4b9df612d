package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine errors by how they propagate.
type ErrorCode string

const (
	// CodeConfiguration aborts the run before any processing starts.
	CodeConfiguration ErrorCode = "configuration"
	// CodeStoreUnavailable aborts the whole run; never degrades to skip-all.
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	// CodeStorageTransaction fails a batch commit; retried, then fails the document.
	CodeStorageTransaction ErrorCode = "storage_transaction"
	// CodeTransientExtraction fails a single page; never escalates further.
	CodeTransientExtraction ErrorCode = "transient_extraction"
	// CodeValidation rejects a malformed input document.
	CodeValidation ErrorCode = "validation"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ConfigurationError creates a fatal pre-run configuration error.
func ConfigurationError(message string, cause error) error {
	return &Error{Code: CodeConfiguration, Message: message, Cause: cause}
}

// StoreUnavailableError creates a run-fatal store connectivity error.
func StoreUnavailableError(message string, cause error) error {
	return &Error{Code: CodeStoreUnavailable, Message: message, Cause: cause}
}

// StorageTransactionError creates a batch-level commit error.
func StorageTransactionError(message string, cause error) error {
	return &Error{Code: CodeStorageTransaction, Message: message, Cause: cause}
}

// TransientExtractionError creates a page-level extraction error.
func TransientExtractionError(message string, cause error) error {
	return &Error{Code: CodeTransientExtraction, Message: message, Cause: cause}
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) error {
	return &Error{Code: CodeValidation, Message: message, Cause: cause}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// IsStoreUnavailable reports whether err is fatal store unavailability.
func IsStoreUnavailable(err error) bool {
	return HasCode(err, CodeStoreUnavailable)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return HasCode(err, CodeConfiguration)
}

// IsStorageTransaction reports whether err is a batch commit failure.
func IsStorageTransaction(err error) bool {
	return HasCode(err, CodeStorageTransaction)
}

// IsTransientExtraction reports whether err is an isolated page failure.
func IsTransientExtraction(err error) bool {
	return HasCode(err, CodeTransientExtraction)
}

// IsValidation reports whether err marks a document the engine refused.
func IsValidation(err error) bool {
	return HasCode(err, CodeValidation)
}

// Sentinel errors shared by the extraction backends.
var (
	// ErrNotDigital signals a page with no extractable text layer.
	ErrNotDigital = errors.New("page has no digital text layer")
	// ErrOCRTimeout signals an OCR invocation exceeding its per-image timeout.
	ErrOCRTimeout = errors.New("ocr timed out")
)
