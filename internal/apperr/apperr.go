package apperr

import (
	"errors"
	"fmt"
)

// Class partitions every failure the pipeline can produce. Propagation rules
// key off the class, never off concrete error values.
type Class int

const (
	ClassValidation Class = iota // schema violation, bad parameters, hash mismatch; never retried
	ClassNotFound                // unknown video, missing task
	ClassConflict                // duplicate video, duplicate task tuple, re-registered schema
	ClassTransient               // store deadlock, queue connection reset; retried with backoff
	ClassFatal                   // corrupt file, model load failure; fails the task
	ClassTimeout                 // cooperative cancellation on the per-task deadline
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type Error struct {
	Class Class
	Code  string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("pipeline error (%s)", e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

func New(class Class, code string, err error) *Error {
	return &Error{Class: class, Code: code, Err: err}
}

func Validation(code string, err error) *Error { return New(ClassValidation, code, err) }
func NotFound(code string, err error) *Error   { return New(ClassNotFound, code, err) }
func Conflict(code string, err error) *Error   { return New(ClassConflict, code, err) }
func Transient(code string, err error) *Error  { return New(ClassTransient, code, err) }
func Fatal(code string, err error) *Error      { return New(ClassFatal, code, err) }
func Timeout(code string, err error) *Error    { return New(ClassTimeout, code, err) }

func Validationf(code, format string, args ...interface{}) *Error {
	return Validation(code, fmt.Errorf(format, args...))
}
func NotFoundf(code, format string, args ...interface{}) *Error {
	return NotFound(code, fmt.Errorf(format, args...))
}
func Conflictf(code, format string, args ...interface{}) *Error {
	return Conflict(code, fmt.Errorf(format, args...))
}
func Transientf(code, format string, args ...interface{}) *Error {
	return Transient(code, fmt.Errorf(format, args...))
}
func Fatalf(code, format string, args ...interface{}) *Error {
	return Fatal(code, fmt.Errorf(format, args...))
}
func Timeoutf(code, format string, args ...interface{}) *Error {
	return Timeout(code, fmt.Errorf(format, args...))
}

// ClassOf walks the wrap chain and reports the outermost classified error.
// Unclassified errors are treated as Fatal so nothing retries forever by accident.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassFatal
}

func Is(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}
