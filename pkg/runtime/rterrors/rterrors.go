// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rterrors defines the error taxonomy shared by every runtime
// component: a stable machine-readable Code, a Kind classifying how a
// caller should react, and optional provenance (device id, task id).
package rterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by how a caller is expected to react to it.
type Kind string

const (
	// InvalidInput is a malformed request, unknown model, or invalid options.
	InvalidInput Kind = "invalid_input"
	// NotInitialized means a component was used before initialization.
	NotInitialized Kind = "not_initialized"
	// QueueFull is backpressure; the caller should retry with its own policy.
	QueueFull Kind = "queue_full"
	// Timeout is backpressure; the caller should retry with its own policy.
	Timeout Kind = "timeout"
	// DeviceUnavailable means the selected device could not be used.
	DeviceUnavailable Kind = "device_unavailable"
	// AllDevicesFailed means every device in the fallback chain failed.
	AllDevicesFailed Kind = "all_devices_failed"
	// OutOfMemory means the pool could not satisfy an allocation after GC.
	OutOfMemory Kind = "out_of_memory"
	// PolicyDenied means resource access was refused by policy or TTL.
	PolicyDenied Kind = "policy_denied"
	// InferenceFailed wraps a provider-level error.
	InferenceFailed Kind = "inference_failed"
	// Cancelled means a task or operation was cancelled.
	Cancelled Kind = "cancelled"
)

// Error is the error type every runtime component surfaces to callers.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	DeviceID string
	TaskID   string
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
	if e.DeviceID != "" {
		msg += fmt.Sprintf(" (device=%s)", e.DeviceID)
	}
	if e.TaskID != "" {
		msg += fmt.Sprintf(" (task=%s)", e.TaskID)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any, for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Option customizes an Error at construction time.
type Option func(*Error)

// WithDevice attaches a device id to the error.
func WithDevice(id string) Option {
	return func(e *Error) { e.DeviceID = id }
}

// WithTask attaches a task id to the error.
func WithTask(id string) Option {
	return func(e *Error) { e.TaskID = id }
}

// WithCause attaches an underlying cause, preserved for errors.Is/As/Cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates a new Error of the given kind with a stable code and message.
func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error of the given kind wrapping cause.
func Wrap(cause error, kind Kind, code, format string, args ...interface{}) *Error {
	e := New(kind, code, format, args...)
	e.cause = errors.WithStack(cause)
	return e
}

// With applies options to e and returns it, for fluent construction.
func (e *Error) With(opts ...Option) *Error {
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}

// Convenience constructors for the taxonomy's most common members.

func InvalidInputf(code, format string, args ...interface{}) *Error {
	return New(InvalidInput, code, format, args...)
}

func NotInitializedf(code, format string, args ...interface{}) *Error {
	return New(NotInitialized, code, format, args...)
}

func QueueFullf(code, format string, args ...interface{}) *Error {
	return New(QueueFull, code, format, args...)
}

func Timeoutf(code, format string, args ...interface{}) *Error {
	return New(Timeout, code, format, args...)
}

func DeviceUnavailablef(code, format string, args ...interface{}) *Error {
	return New(DeviceUnavailable, code, format, args...)
}

func OutOfMemoryf(code, format string, args ...interface{}) *Error {
	return New(OutOfMemory, code, format, args...)
}

func PolicyDeniedf(code, format string, args ...interface{}) *Error {
	return New(PolicyDenied, code, format, args...)
}

func Cancelledf(code, format string, args ...interface{}) *Error {
	return New(Cancelled, code, format, args...)
}
