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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/glasscore/infercore/pkg/runtime/devicetracker"
	"github.com/glasscore/infercore/pkg/runtime/fallback"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
	"github.com/glasscore/infercore/pkg/runtime/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }

func newTestScheduler(cfg Config) *Scheduler {
	inv := &hwprobe.Inventory{Devices: []*hwprobe.Device{
		{ID: "cpu-0", Kind: hwprobe.CPU, Status: hwprobe.Available, PerformanceScore: 100},
	}}
	coord := fallback.New(func() *hwprobe.Inventory { return inv }, devicetracker.NewRegistry(), fallback.Config{
		Order: []hwprobe.Kind{hwprobe.CPU}, MinSuccessRate: 0.8, MaxLatencyMS: 5000, MinSamples: 5, CooldownDuration: 30 * time.Second,
	})
	sessions := session.NewManager(func(model, device string) (session.Handle, error) { return fakeHandle{}, nil })
	exec := func(ctx context.Context, d *hwprobe.Device, h session.Handle, t *Task) (interface{}, error) {
		return "ok", nil
	}
	return New(coord, sessions, exec, cfg)
}

func TestSubmitAndAwaitInference(t *testing.T) {
	s := newTestScheduler(DefaultConfig())
	s.Start()
	defer s.Stop()

	id, err := s.SubmitInference("model.onnx", []float32{1, 2}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.AwaitInference(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outputs)
}

func TestQueueFullRejectsAfterCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 8
	cfg.MaxConcurrentInferences = 1
	s := newTestScheduler(cfg)
	// Do not Start(), so nothing drains the queue during this check.

	for i := 0; i < 8; i++ {
		_, err := s.SubmitInference("model.onnx", nil, Options{})
		require.NoError(t, err)
	}
	_, err := s.SubmitInference("model.onnx", nil, Options{})
	assert.Error(t, err)
}

func TestCancelRunningTaskUnblocksAwaitInference(t *testing.T) {
	inv := &hwprobe.Inventory{Devices: []*hwprobe.Device{
		{ID: "cpu-0", Kind: hwprobe.CPU, Status: hwprobe.Available, PerformanceScore: 100},
	}}
	coord := fallback.New(func() *hwprobe.Inventory { return inv }, devicetracker.NewRegistry(), fallback.Config{
		Order: []hwprobe.Kind{hwprobe.CPU}, MinSuccessRate: 0.8, MaxLatencyMS: 5000, MinSamples: 5, CooldownDuration: 30 * time.Second,
	})
	sessions := session.NewManager(func(model, device string) (session.Handle, error) { return fakeHandle{}, nil })
	exec := func(ctx context.Context, d *hwprobe.Device, h session.Handle, t *Task) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New(coord, sessions, exec, DefaultConfig())
	s.Start()
	defer s.Stop()

	id, err := s.SubmitInference("model.onnx", nil, Options{})
	require.NoError(t, err)

	started := false
	deadline := time.After(2 * time.Second)
waitForStart:
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == TaskStarted && ev.TaskID == id {
				started = true
				break waitForStart
			}
		case <-deadline:
			break waitForStart
		}
	}
	require.True(t, started, "task never reached running state")

	require.NoError(t, s.Cancel(id))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.AwaitInference(ctx, id)
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.Cancelled), "expected a cancelled error, got %v", err)
}
