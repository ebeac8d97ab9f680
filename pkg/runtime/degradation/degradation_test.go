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

package degradation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsOpWhenClosed(t *testing.T) {
	m := New(DefaultConfig())
	m.Register("embed", nil, func(ctx context.Context) (interface{}, error) {
		return "fallback", nil
	})

	res, err := m.Execute(context.Background(), "embed", func(ctx context.Context) (interface{}, error) {
		return "real", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "real", res)

	status, ok := m.Status("embed")
	require.True(t, ok)
	assert.Equal(t, Healthy, status)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 5
	cfg.CircuitBreakerCooldown = time.Hour
	m := New(cfg)
	m.Register("embed", nil, func(ctx context.Context) (interface{}, error) {
		return "fallback-result", nil
	})

	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}

	for i := 0; i < 5; i++ {
		res, err := m.Execute(context.Background(), "embed", failing)
		require.NoError(t, err)
		assert.Equal(t, "fallback-result", res)
	}

	state, ok := m.BreakerState("embed")
	require.True(t, ok)
	assert.Equal(t, Open, state)

	// Breaker is open: op should not even be invoked now.
	called := false
	res, err := m.Execute(context.Background(), "embed", func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "fallback-result", res)
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.CircuitBreakerCooldown = 10 * time.Millisecond
	m := New(cfg)
	m.Register("embed", nil, func(ctx context.Context) (interface{}, error) {
		return "fallback", nil
	})

	_, err := m.Execute(context.Background(), "embed", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	state, _ := m.BreakerState("embed")
	assert.Equal(t, Open, state)

	time.Sleep(20 * time.Millisecond)

	res, err := m.Execute(context.Background(), "embed", func(ctx context.Context) (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res)

	state, _ = m.BreakerState("embed")
	assert.Equal(t, Closed, state)
}

func TestHealthChecksResetDegradedFeatures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.FailureThreshold = 1
	m := New(cfg)

	healthy := true
	m.Register("embed", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("unhealthy")
	}, func(ctx context.Context) (interface{}, error) {
		return "fallback", nil
	})

	_, err := m.Execute(context.Background(), "embed", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	state, _ := m.BreakerState("embed")
	assert.Equal(t, Open, state)

	m.Start()
	defer m.Stop()
	time.Sleep(30 * time.Millisecond)

	state, _ = m.BreakerState("embed")
	assert.Equal(t, Closed, state)
	status, _ := m.Status("embed")
	assert.Equal(t, Healthy, status)
}

func TestExecuteUnknownFeature(t *testing.T) {
	m := New(DefaultConfig())
	_, err := m.Execute(context.Background(), "nope", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.Error(t, err)
}
