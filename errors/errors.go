package errors

import (
	"errors"
	"fmt"
)

// Common error types for categorization and handling

var (
	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates a request was rejected before any work started
	ErrValidation = errors.New("validation failed")

	// ErrEmptySubmission indicates a submission with neither text nor image
	ErrEmptySubmission = fmt.Errorf("%w: empty submission", ErrValidation)

	// ErrBusy indicates a generation is already in flight
	ErrBusy = fmt.Errorf("%w: generation already in progress", ErrValidation)

	// ErrForbidden indicates the principal may not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrMaintenance indicates generation is disabled for non-administrators
	ErrMaintenance = errors.New("site is under maintenance")

	// ErrInsufficientTokens indicates the user has no tokens left for a turn
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrAuthDisabled indicates an authentication capability that is stubbed out
	ErrAuthDisabled = errors.New("authentication is disabled")

	// ErrStorageQuota indicates a store write exceeded the available space
	ErrStorageQuota = errors.New("storage quota exceeded")

	// ErrDatabaseOperation indicates a database operation failed
	ErrDatabaseOperation = errors.New("database operation failed")

	// ErrLLMCommunication indicates LLM communication failed
	ErrLLMCommunication = errors.New("llm communication failed")
)

// GenerationError reports a failed call into the generation client.
type GenerationError struct {
	Op  string // "stream" or "image"
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation %s failed", e.Op)
	}
	return fmt.Sprintf("generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrLLMCommunication) match any generation failure.
func (e *GenerationError) Is(target error) bool {
	return target == ErrLLMCommunication
}

// NewGenerationError wraps err as a generation failure for op.
func NewGenerationError(op string, err error) error {
	return &GenerationError{Op: op, Err: err}
}

// Reason returns the message a user should see for a failed generation.
func Reason(err error) string {
	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Err != nil {
		return genErr.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// WrapError wraps an error with context message and stack
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStorageQuota checks if error is a storage quota error
func IsStorageQuota(err error) bool {
	return errors.Is(err, ErrStorageQuota)
}

// IsGeneration checks if error came from the generation client
func IsGeneration(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}
