package qshard

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned by bounds-checked permutation lookups.
	ErrOutOfRange = errors.New("index out of range")
	// ErrInvalidQubit is returned when a gate names a qubit outside [0, N) or repeats one.
	ErrInvalidQubit = errors.New("invalid qubit")
	// ErrUnsupportedPageOperation is returned when a gate needs more simultaneously
	// paged operands than the paging policy supports, or a page range is requested
	// for a bit that is not a page bit.
	ErrUnsupportedPageOperation = errors.New("unsupported page gate operation")
	// ErrConfiguration covers layout, process-count and option mismatches.
	ErrConfiguration = errors.New("configuration error")
	// ErrCommunication is fatal to the whole distributed run.
	ErrCommunication = errors.New("communication error")
	// ErrWrongPauliString is returned for malformed Pauli-string keys.
	ErrWrongPauliString = errors.New("wrong pauli string")
)

/*
InvalidQubitError reports which qubit of which gate was rejected.
*/
type InvalidQubitError struct {
	Gate      string
	Qubit     Qubit
	NumQubits uint
	Reason    string
}

func (e *InvalidQubitError) Error() string {
	return fmt.Sprintf("%s: qubit %d in %s (register of %d qubits): %s", ErrInvalidQubit, e.Qubit, e.Gate, e.NumQubits, e.Reason)
}

func (e *InvalidQubitError) Unwrap() error {
	return ErrInvalidQubit
}

/*
UnsupportedOperationError reports a gate whose operand placement cannot be
served by the active paging policy.
*/
type UnsupportedOperationError struct {
	Gate          string
	Qubits        []Qubit
	Policy        Policy
	PagedOperands int
	Reason        string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf(
		"%s: %s on qubits %v with %d paged operands under policy %s (max %d): %s",
		ErrUnsupportedPageOperation, e.Gate, e.Qubits, e.PagedOperands, e.Policy, e.Policy.MaxPagedOperands(), e.Reason,
	)
}

func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedPageOperation
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// commError marks err as fatal to the run while keeping it inspectable.
func commError(err error, format string, args ...any) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrCommunication, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrCommunication, fmt.Sprintf(format, args...), err)
}
