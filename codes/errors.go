/*
errors.go - Error types for the code allocator

ERROR CATEGORIES:
  1. Client errors - malformed prefix, code or allocation
  2. Exhaustion - the collision guard tripped before a free code was found
  3. Storage errors - the persistence layer failed; never swallowed

USAGE:
  alloc, err := allocator.Preview(ctx, "C")
  var exhausted *codes.ExhaustedError
  if errors.As(err, &exhausted) {
      // every candidate within the guard window is taken
  }
*/
package codes

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPrefix is returned for prefixes that are not 1-2 uppercase letters.
	ErrInvalidPrefix = errors.New("invalid prefix")

	// ErrInvalidCode is returned when a string does not parse as PREFIX-NNNN.
	ErrInvalidCode = errors.New("invalid code")

	// ErrInvalidAllocation is returned by Commit when the tuple is inconsistent.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInvalidImport is returned for unreadable legacy CSV files.
	ErrInvalidImport = errors.New("invalid import file")

	// ErrExhausted is returned when more than the guard limit of consecutive
	// candidates are already used.
	ErrExhausted = errors.New("code space exhausted")

	// ErrStorage wraps any persistence failure.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ExhaustedError reports which prefix ran out of candidates.
type ExhaustedError struct {
	Prefix   Prefix
	From     Sequence // first candidate tried
	Attempts int
}

func (e *ExhaustedError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("code space exhausted for prefix %s: no sequence above %s", e.Prefix, Format(e.Prefix, e.From))
	}
	return fmt.Sprintf("code space exhausted for prefix %s: %d candidates from %s all in use",
		e.Prefix, e.Attempts, Format(e.Prefix, e.From))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// StorageError wraps a failure from the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Is lets errors.Is(err, ErrStorage) match while Unwrap exposes the cause.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err unless it is already a domain error.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || errors.Is(err, ErrExhausted) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPrefix) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInvalidImport)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
