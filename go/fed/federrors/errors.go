/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package federrors provides the error type used across the planner. Every
// error carries an ErrorCode and, where it helps callers branch on it, a
// State. Errors can be wrapped with additional context while keeping the
// code of the innermost error.
package federrors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies an error. The values follow the usual RPC code set.
type ErrorCode int

// All the error codes.
const (
	OK ErrorCode = iota
	Canceled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	FailedPrecondition
	Unimplemented
	Internal
)

var codeNames = map[ErrorCode]string{
	OK:                 "OK",
	Canceled:           "CANCELED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	FailedPrecondition: "FAILED_PRECONDITION",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

type fedError struct {
	msg   string
	code  ErrorCode
	state State
	cause error
}

// New returns an error with the supplied message and code.
func New(code ErrorCode, message string) error {
	return &fedError{
		msg:  message,
		code: code,
	}
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error.
func Errorf(code ErrorCode, format string, args ...any) error {
	return &fedError{
		msg:  fmt.Sprintf(format, args...),
		code: code,
	}
}

// NewErrorf formats according to a format specifier and returns the string
// as a value that satisfies error. It also records the State.
func NewErrorf(code ErrorCode, state State, format string, args ...any) error {
	return &fedError{
		msg:   fmt.Sprintf(format, args...),
		code:  code,
		state: state,
	}
}

func (f *fedError) Error() string {
	if f.cause == nil {
		return f.msg
	}
	return f.msg + ": " + f.cause.Error()
}

func (f *fedError) Unwrap() error {
	return f.cause
}

// Wrap returns an error annotating err with the supplied message. The code
// and state of err are kept. If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &fedError{
		msg:   message,
		code:  Code(err),
		state: ErrState(err),
		cause: err,
	}
}

// Wrapf is Wrap with a format specifier.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Code returns the error code if it's a fedError. Context errors map to
// their own codes and anything else is Unknown.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var fe *fedError
	if errors.As(err, &fe) {
		return fe.code
	}
	var ce *FedError
	if errors.As(err, &ce) {
		return Code(ce.Err)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	}
	return Unknown
}

// ErrState returns the State of the outermost error that has one, or
// Undefined.
func ErrState(err error) State {
	if err == nil {
		return Undefined
	}
	var fe *fedError
	if errors.As(err, &fe) {
		return fe.state
	}
	var ce *FedError
	if errors.As(err, &ce) {
		return ErrState(ce.Err)
	}
	return Undefined
}

// RootCause returns the innermost error of a chain of wrapped errors.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
