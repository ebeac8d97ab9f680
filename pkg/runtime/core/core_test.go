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

package core

import (
	"context"
	"testing"
	"time"

	"github.com/glasscore/infercore/pkg/runtime/apiadapter"
	"github.com/glasscore/infercore/pkg/runtime/cache"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/scheduler"
	"github.com/glasscore/infercore/pkg/runtime/session"
	"github.com/glasscore/infercore/pkg/runtime/sharing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	opts := DefaultOptions()
	opts.EnableNPU = false
	opts.EnableGPU = false
	opts.EnableCPU = true
	opts.CacheSizes = CacheSizes{L1: 4, L2: 8, L3: 16}
	opts.MemoryPoolBytes = 1 << 20

	factory := func(model, device string) (session.Handle, error) { return fakeHandle{}, nil }
	executor := func(ctx context.Context, d *hwprobe.Device, h session.Handle, task *scheduler.Task) (interface{}, error) {
		return "ok", nil
	}

	rt, err := New(opts, factory, executor)
	require.NoError(t, err)
	return rt
}

func TestSubmitAndAwaitInferenceThroughRuntime(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Start()
	defer rt.Stop()

	id, err := rt.SubmitInference("model.onnx", []float32{1, 2}, scheduler.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := rt.AwaitInference(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outputs)
}

func TestCachePutThenGetRoundTrips(t *testing.T) {
	rt := newTestRuntime(t)

	require.NoError(t, rt.CachePut("doc1", "chunk1", []float32{1, 2, 3}, map[string]string{"lang": "en"}))

	vector, meta, hit, err := rt.CacheGet("doc1", "chunk1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []float32{1, 2, 3}, vector)
	assert.Equal(t, "en", meta["lang"])
}

func TestCacheGetMissDoesNotError(t *testing.T) {
	rt := newTestRuntime(t)

	_, _, hit, err := rt.CacheGet("missing", "missing")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestShareThenAccessResource(t *testing.T) {
	rt := newTestRuntime(t)

	policy := sharing.DefaultPolicies()[sharing.ReadOnly]
	require.NoError(t, rt.ShareResource("weights", []byte("abc"), policy, "plugin-a"))

	data, err := rt.AccessResource("weights", "plugin-a", sharing.Read)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestStatsAggregatesSubsystems(t *testing.T) {
	rt := newTestRuntime(t)
	stats := rt.Stats()

	assert.NotEmpty(t, stats.Devices)
	assert.Contains(t, stats.CacheTiers, cache.L1)
	assert.Contains(t, stats.Degradation, "embedding-cache")
}

func TestDispatchTranslatesLegacyRequest(t *testing.T) {
	rt := newTestRuntime(t)

	req, err := rt.Dispatch(apiadapter.V1_0, "submit_inference", map[string]interface{}{
		"model": "m.onnx",
		"input": []float32{1},
	})
	require.NoError(t, err)
	assert.Equal(t, "m.onnx", req.Payload["model_path"])
	assert.Len(t, req.Warnings, 2)
}

func TestNewFailsWithNoDevicesEnabled(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableNPU, opts.EnableGPU, opts.EnableCPU = false, false, false
	_, err := New(opts, func(m, d string) (session.Handle, error) { return fakeHandle{}, nil },
		func(ctx context.Context, d *hwprobe.Device, h session.Handle, task *scheduler.Task) (interface{}, error) {
			return nil, nil
		})
	assert.Error(t, err)
}
