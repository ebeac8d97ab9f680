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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ closed bool }

func (f *fakeSession) Close() error { f.closed = true; return nil }

func TestAcquireCreatesUpToMax(t *testing.T) {
	var created int
	factory := func(model, device string) (Handle, error) {
		created++
		return &fakeSession{}, nil
	}
	p := New("model.onnx", factory, WithMaxPoolSize(2), WithSessionTimeout(100*time.Millisecond))

	h1, err := p.Acquire(context.Background(), "cpu-0")
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), "cpu-0")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	_, err = p.Acquire(context.Background(), "cpu-0")
	assert.Error(t, err, "third acquire should time out at capacity")

	p.Release(h1, "cpu-0")
	p.Release(h2, "cpu-0")
}

func TestReleaseMakesSessionReusable(t *testing.T) {
	factory := func(model, device string) (Handle, error) { return &fakeSession{}, nil }
	p := New("model.onnx", factory, WithMaxPoolSize(1))

	h, err := p.Acquire(context.Background(), "cpu-0")
	require.NoError(t, err)
	p.Release(h, "cpu-0")

	h2, err := p.Acquire(context.Background(), "cpu-0")
	require.NoError(t, err)
	assert.Same(t, h, h2)
}

func TestWarmupPrecreatesSessions(t *testing.T) {
	factory := func(model, device string) (Handle, error) { return &fakeSession{}, nil }
	p := New("model.onnx", factory, WithMaxPoolSize(3))
	require.NoError(t, p.Warmup(5, "npu-0"))
	assert.Equal(t, 3, p.Stats().Available)
}
