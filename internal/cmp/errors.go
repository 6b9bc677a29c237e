package cmp

import (
	"errors"
	"fmt"
)

// Error is a context operation error with structured context.
// It supports errors.Is() and errors.As() through Unwrap.
type Error struct {
	Op  string // Operation, e.g. "SetServerCert", "SetOption"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("cmp %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error with the given operation and error.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Sentinel errors for context operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrNullArgument indicates an absent context or mandatory argument.
	ErrNullArgument = errors.New("null argument")

	// ErrAllocation indicates that a value could not be duplicated.
	ErrAllocation = errors.New("cannot duplicate value")

	// ErrUnsupportedAlgorithm indicates the provider cannot resolve an algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrPotentiallyInvalidCertificate indicates a certificate failed the
	// sanity check performed before it is shared with the context.
	ErrPotentiallyInvalidCertificate = errors.New("potentially invalid certificate")

	// ErrInvalidOption indicates an unknown option identifier.
	ErrInvalidOption = errors.New("invalid option")

	// ErrValueOutOfRange indicates an option value outside its legal range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMultipleSANSources indicates subject alternative names were given
	// both explicitly and through the request extensions.
	ErrMultipleSANSources = errors.New("multiple SAN sources")

	// ErrChainBuild indicates the chain of the own certificate could not be built.
	ErrChainBuild = errors.New("failed building own chain")

	// ErrInvalidGeneralName indicates a malformed subject alternative name.
	ErrInvalidGeneralName = errors.New("invalid general name")

	// ErrMissingSecret indicates a PBM operation without a shared secret.
	ErrMissingSecret = errors.New("missing PBM secret")
)

// ErrValueTooSmall and ErrValueTooLarge refine ErrValueOutOfRange; both
// match it under errors.Is.
var (
	ErrValueTooSmall = &rangeError{msg: "value too small"}
	ErrValueTooLarge = &rangeError{msg: "value too large"}
)

type rangeError struct{ msg string }

func (e *rangeError) Error() string { return e.msg }

func (e *rangeError) Is(target error) bool { return target == ErrValueOutOfRange }

// nullArg is returned by methods called on a nil context. Nothing is
// recorded since there is no context to record it on.
func nullArg(op string) error {
	return &Error{Op: op, Err: ErrNullArgument}
}

// fail wraps err for op, records it in the context error accumulator and
// returns it. When detail is non-nil it is wrapped alongside kind.
func (c *Context) fail(op string, kind, detail error) error {
	err := kind
	if detail != nil {
		err = fmt.Errorf("%w: %w", kind, detail)
	}
	e := &Error{Op: op, Err: err}
	c.errs = appendError(c.errs, e)
	return e
}

func joinKind(kind, detail error) error {
	return fmt.Errorf("%w: %w", kind, detail)
}
