// Package errs classifies failures of the coupling core.
//
// Three classes exist. Invalid errors are local validation failures (range sum
// mismatch, incompatible merge, missing field): the caller's data is left in its
// prior state and the caller decides whether to skip the iteration. Fatal errors
// are group-geometry failures that desynchronize every rank; the redistribution
// layer aborts the communicator before returning one. Resource errors report
// capacity problems that could not be absorbed by reallocation.
package errs

import (
	"errors"
	"fmt"
)

// Class represents the classification of errors for handling purposes
type Class int

const (
	// ClassInvalid represents a recoverable, local validation failure
	ClassInvalid Class = iota
	// ClassFatal represents a failure that must stop every rank of the job
	ClassFatal
	// ClassResource represents an allocation or capacity failure
	ClassResource
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	case ClassResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Standard error variables shared across packages
var (
	ErrGroupGeometry   = errors.New("process group geometry mismatch")
	ErrAborted         = errors.New("communicator aborted")
	ErrNotCountable    = errors.New("data is not countable")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Component == "" {
		return ce.Err.Error()
	}
	return fmt.Sprintf("%s.%s: %v", ce.Component, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap adds component and operation context to err, keeping its class when
// err is already classified.
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	class := ClassInvalid
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		class = ce.Class
	}
	return &ClassifiedError{
		Class:     class,
		Err:       fmt.Errorf("%s failed: %w", action, err),
		Component: component,
		Operation: operation,
	}
}

// Invalid classifies err as a recoverable validation failure
func Invalid(component, operation string, err error) error {
	return &ClassifiedError{Class: ClassInvalid, Err: err, Component: component, Operation: operation}
}

// Fatal classifies err as a job-wide failure
func Fatal(component, operation string, err error) error {
	return &ClassifiedError{Class: ClassFatal, Err: err, Component: component, Operation: operation}
}

// Resource classifies err as a capacity failure
func Resource(component, operation string, err error) error {
	return &ClassifiedError{Class: ClassResource, Err: err, Component: component, Operation: operation}
}

// ClassOf returns the class of err; unclassified errors count as invalid
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, ErrGroupGeometry) || errors.Is(err, ErrAborted) {
		return ClassFatal
	}
	return ClassInvalid
}

// IsFatal checks if an error must stop the whole job
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == ClassFatal
}

// IsInvalid checks if an error is a recoverable validation failure
func IsInvalid(err error) bool {
	return err != nil && ClassOf(err) == ClassInvalid
}
