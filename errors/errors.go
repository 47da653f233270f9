// Package errors classifies bridge failures so callers can tell a retryable
// condition from one that must tear something down.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors for the resource involved
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConnectionLost = errors.New("connection lost")
	ErrTimeout        = errors.New("timeout")
	ErrInvalidData    = errors.New("invalid data format")
	ErrShuttingDown   = errors.New("bridge is shutting down")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Component == "" {
		return ce.Err.Error()
	}
	return fmt.Sprintf("%s.%s: %v", ce.Component, ce.Operation, ce.Err)
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func wrap(class ErrorClass, err error, component, operation string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err, Component: component, Operation: operation}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, operation string) error {
	return wrap(ErrorTransient, err, component, operation)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, operation string) error {
	return wrap(ErrorInvalid, err, component, operation)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, operation string) error {
	return wrap(ErrorFatal, err, component, operation)
}

// IsTransient reports whether err is worth another attempt later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	// Resource exhaustion clears once something else lets go.
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) || errors.Is(err, syscall.ENOMEM) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsInvalid reports whether err comes from bad input or configuration.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrInvalidData) || errors.Is(err, syscall.EINVAL)
}

// IsFatal reports whether the resource that produced err is unusable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrShuttingDown) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// Classify returns the error class for an error. Unknown errors are fatal:
// a failure nobody recognises is not retried blindly.
func Classify(err error) ErrorClass {
	switch {
	case IsTransient(err):
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}
