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

package log

import (
	"fmt"
	"sync"
	"testing"
)

// recordingBackend is a Backend that records formatted messages instead of
// printing them, for test verification.
type recordingBackend struct {
	sync.Mutex
	recorded []string
}

const recordingBackendName = "recording"

var recorder *recordingBackend

func createRecordingBackend() Backend {
	recorder = &recordingBackend{}
	return recorder
}

func (r *recordingBackend) Name() string { return recordingBackendName }

func (r *recordingBackend) Log(level Level, source, format string, args ...interface{}) {
	r.Lock()
	defer r.Unlock()
	r.recorded = append(r.recorded, fmt.Sprintf("["+source+"] "+format, args...))
}

func (r *recordingBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	r.Log(level, source, prefix+format, args...)
}

func (r *recordingBackend) Flush()                 {}
func (r *recordingBackend) Sync()                  {}
func (r *recordingBackend) Stop()                  {}
func (r *recordingBackend) SetSourceAlignment(int) {}

func (r *recordingBackend) messages() []string {
	r.Lock()
	defer r.Unlock()
	out := make([]string, len(r.recorded))
	copy(out, r.recorded)
	return out
}

func init() {
	RegisterBackend(recordingBackendName, createRecordingBackend)
}

func TestNewLoggerReturnsSameInstanceForSameSource(t *testing.T) {
	a := NewLogger("test-source-a")
	b := NewLogger("test-source-a")
	if a != b {
		t.Errorf("expected NewLogger to return the same logger for the same source")
	}
}

func TestSeverityFiltering(t *testing.T) {
	if err := SetBackend(recordingBackendName); err != nil {
		t.Fatalf("failed to activate recording backend: %v", err)
	}

	SetLevel(LevelWarn)
	l := NewLogger("severity-test")

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warning message")
	l.Error("error message")

	got := recorder.messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages to pass the warn threshold, got %d: %v", len(got), got)
	}
	if got[0] != "[severity-test] warning message" || got[1] != "[severity-test] error message" {
		t.Errorf("unexpected recorded messages: %v", got)
	}

	SetLevel(LevelInfo)
}

func TestEnableDebug(t *testing.T) {
	if err := SetBackend(recordingBackendName); err != nil {
		t.Fatalf("failed to activate recording backend: %v", err)
	}
	SetLevel(LevelDebug)

	l := NewLogger("debug-test")

	l.Debug("should be suppressed")
	if len(recorder.messages()) != 0 {
		t.Fatalf("expected debugging to be disabled by default")
	}

	old := l.EnableDebug(true)
	if old {
		t.Errorf("expected debugging to have been disabled before EnableDebug(true)")
	}
	if !l.DebugEnabled() {
		t.Errorf("expected debugging to be enabled after EnableDebug(true)")
	}

	l.Debug("now visible")
	got := recorder.messages()
	if len(got) != 1 || got[0] != "[debug-test] now visible" {
		t.Errorf("unexpected recorded messages: %v", got)
	}

	l.EnableDebug(false)
}

func TestForceDebug(t *testing.T) {
	if err := SetBackend(recordingBackendName); err != nil {
		t.Fatalf("failed to activate recording backend: %v", err)
	}
	SetLevel(LevelDebug)

	l := NewLogger("forced-debug-test")
	l.EnableDebug(false)

	old := log.forceDebug(true)
	defer log.forceDebug(old)

	l.Debug("forced visible")
	got := recorder.messages()
	if len(got) != 1 {
		t.Errorf("expected forced debugging to bypass the per-source setting, got %v", got)
	}
}

func TestSourceSetMatches(t *testing.T) {
	var all, none, some sourceSet

	if err := all.Set("all"); err != nil {
		t.Fatal(err)
	}
	if err := none.Set("none"); err != nil {
		t.Fatal(err)
	}
	if err := some.Set("scheduler, cache"); err != nil {
		t.Fatal(err)
	}

	if !all.matches("anything") {
		t.Errorf("expected 'all' set to match any source")
	}
	if none.matches("anything") {
		t.Errorf("expected 'none' set to match nothing")
	}
	if !some.matches("scheduler") || !some.matches("cache") {
		t.Errorf("expected explicit set to match its listed sources")
	}
	if some.matches("fallback") {
		t.Errorf("expected explicit set to not match an unlisted source")
	}
}

func TestLevelSetString(t *testing.T) {
	var l Level
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for input, expected := range cases {
		if err := l.Set(input); err != nil {
			t.Errorf("unexpected error parsing level %q: %v", input, err)
		}
		if l != expected {
			t.Errorf("parsing %q: got %v, expected %v", input, l, expected)
		}
	}

	if err := l.Set("bogus"); err == nil {
		t.Errorf("expected an error parsing an invalid level")
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Errorf("expected a non-nil default logger")
	}
}
