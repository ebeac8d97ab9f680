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

package rterrors_test

import (
	"errors"
	"testing"

	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

func TestNewAndIs(t *testing.T) {
	err := rterrors.New(rterrors.QueueFull, "sched-001", "queue is at capacity (%d)", 8)
	if !rterrors.Is(err, rterrors.QueueFull) {
		t.Errorf("expected Is(QueueFull) to be true")
	}
	if rterrors.Is(err, rterrors.Timeout) {
		t.Errorf("expected Is(Timeout) to be false")
	}
}

func TestWithOptions(t *testing.T) {
	err := rterrors.New(rterrors.DeviceUnavailable, "dev-001", "device offline").
		With(rterrors.WithDevice("gpu-0"), rterrors.WithTask("task-123"))

	if err.DeviceID != "gpu-0" {
		t.Errorf("expected DeviceID gpu-0, got %q", err.DeviceID)
	}
	if err.TaskID != "task-123" {
		t.Errorf("expected TaskID task-123, got %q", err.TaskID)
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("provider exploded")
	err := rterrors.Wrap(cause, rterrors.InferenceFailed, "inf-001", "inference failed")

	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped error to satisfy errors.Is against the cause")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if rterrors.Is(errors.New("plain"), rterrors.Timeout) {
		t.Errorf("expected Is to be false for a plain error")
	}
}
