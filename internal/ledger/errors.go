package ledger

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid contract: %s %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type DuplicatePolicyError struct {
	PolicyNumber string
}

func (e *DuplicatePolicyError) Error() string {
	return fmt.Sprintf("policy number %q already exists", e.PolicyNumber)
}

func IsDuplicatePolicyError(err error) bool {
	var de *DuplicatePolicyError
	return errors.As(err, &de)
}

// CorruptFileError reports a ledger document that could not be parsed.
type CorruptFileError struct {
	Path string
	Err  error
}

func (e *CorruptFileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corrupt ledger document: %v", e.Err)
	}
	return fmt.Sprintf("corrupt ledger file %s: %v", e.Path, e.Err)
}

func (e *CorruptFileError) Unwrap() error {
	return e.Err
}

func IsCorruptFileError(err error) bool {
	var ce *CorruptFileError
	return errors.As(err, &ce)
}

// IOError wraps a failed read or write of a ledger file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
