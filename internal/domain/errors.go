package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeInput             = "INPUT_ERROR"
	ErrCodeProvider          = "PROVIDER_ERROR"
	ErrCodeDimensionMismatch = "DIMENSION_MISMATCH"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Input errors: the caller's document cannot be ingested as given.
// Returned synchronously, affect only the offending document.
var (
	ErrEmptyContent = NewDomainError(ErrCodeInput, "document content is empty")
	ErrNoChunks     = NewDomainError(ErrCodeInput, "chunking produced no chunks")
)

// Provider errors wrap embedding/generation failures after retries are
// exhausted. They are retryable from the caller's perspective.
var (
	ErrProviderUnavailable = NewDomainError(ErrCodeProvider, "embedding provider unavailable")
	ErrEmbeddingTimeout    = NewDomainError(ErrCodeTimeout, "embedding call exceeded deadline")
)

// ErrDimensionMismatch is a configuration-class fatal error. It is never
// retried and never causes a partial index mutation.
var ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "vector dimension does not match index dimension")

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrAccountNotFound  = NewDomainError(ErrCodeNotFound, "account not found")
)

// Authorization errors
var ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")

// NewProviderError wraps a provider failure that survived the retry policy
func NewProviderError(err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProvider, "embedding provider failed", err)
}

// IsCode reports whether err is a DomainError carrying the given code
func IsCode(err error, code string) bool {
	domainErr, ok := err.(*DomainError)
	return ok && domainErr.Code == code
}
