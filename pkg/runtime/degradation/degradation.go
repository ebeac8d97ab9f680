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

// Package degradation implements the Graceful Degradation Manager: a
// registry of named features, each with a health check, a fallback,
// and a circuit breaker, that keeps the runtime answering requests
// even when a subsystem is unhealthy.
package degradation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("degradation")

// Status is a feature's current health classification.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Unknown  Status = "unknown"
)

// BreakerState is a circuit breaker's state machine position.
type BreakerState string

const (
	Closed   BreakerState = "closed"
	Open     BreakerState = "open"
	HalfOpen BreakerState = "half-open"
)

// breaker is a standard closed/open/half-open circuit breaker.
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{state: Closed, threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, transitioning open ->
// half-open once the cooldown has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
}

// recordFailure returns true if this failure just opened the breaker.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		return true
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		b.openedAt = time.Now()
		return true
	}
	return false
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// HealthCheck probes whether a feature's underlying subsystem is
// currently usable.
type HealthCheck func(ctx context.Context) error

// Fallback is invoked in place of the real operation when a feature is
// disabled or its breaker is open.
type Fallback func(ctx context.Context) (interface{}, error)

// Feature is one registered capability guarded by a circuit breaker.
type Feature struct {
	Name        string
	healthCheck HealthCheck
	fallback    Fallback
	breaker     *breaker

	enabled    atomic.Bool
	status     atomic.String
	errorCount atomic.Int64
}

func (f *Feature) Status() Status { return Status(f.status.Load()) }

// Config tunes circuit-breaker and timeout behavior.
type Config struct {
	FailureThreshold       int
	CircuitBreakerCooldown time.Duration
	FallbackTimeout        time.Duration
	HealthCheckInterval    time.Duration
}

// DefaultConfig returns sensible circuit-breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       5,
		CircuitBreakerCooldown: 60 * time.Second,
		FallbackTimeout:        5 * time.Second,
		HealthCheckInterval:    30 * time.Second,
	}
}

// Manager is the Graceful Degradation Manager.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	features map[string]*Feature

	stopCh chan struct{}
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, features: make(map[string]*Feature)}
}

// Register adds a named feature with its health check and fallback.
func (m *Manager) Register(name string, hc HealthCheck, fb Fallback) *Feature {
	f := &Feature{
		Name:        name,
		healthCheck: hc,
		fallback:    fb,
		breaker:     newBreaker(m.cfg.FailureThreshold, m.cfg.CircuitBreakerCooldown),
	}
	f.enabled.Store(true)
	f.status.Store(string(Unknown))

	m.mu.Lock()
	m.features[name] = f
	m.mu.Unlock()
	return f
}

// SetEnabled toggles whether a feature's real operation is even
// attempted; disabled features always use their fallback.
func (m *Manager) SetEnabled(name string, enabled bool) {
	m.mu.RLock()
	f, ok := m.features[name]
	m.mu.RUnlock()
	if ok {
		f.enabled.Store(enabled)
	}
}

// Execute runs op for the named feature, routing to its fallback when
// disabled or the breaker is open, and recording the outcome against
// the breaker otherwise.
func (m *Manager) Execute(ctx context.Context, name string, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	m.mu.RLock()
	f, ok := m.features[name]
	m.mu.RUnlock()
	if !ok {
		return nil, rterrors.NotInitializedf("degradation.unknown_feature", "feature %q not registered", name)
	}

	if !f.enabled.Load() || !f.breaker.allow() {
		return m.runFallback(ctx, f)
	}

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.FallbackTimeout)
	defer cancel()

	result, err := op(opCtx)
	if err == nil {
		f.breaker.recordSuccess()
		f.status.Store(string(Healthy))
		return result, nil
	}

	f.errorCount.Inc()
	if opened := f.breaker.recordFailure(); opened {
		log.Warn("circuit breaker opened for feature %q after %d failures", name, m.cfg.FailureThreshold)
	}
	f.status.Store(string(Degraded))
	return m.runFallback(ctx, f)
}

func (m *Manager) runFallback(ctx context.Context, f *Feature) (interface{}, error) {
	if f.fallback == nil {
		return nil, rterrors.New(rterrors.InferenceFailed, "degradation.no_fallback", "feature %q has no fallback and is unavailable", f.Name)
	}
	return f.fallback(ctx)
}

// Status returns the current status of a registered feature.
func (m *Manager) Status(name string) (Status, bool) {
	m.mu.RLock()
	f, ok := m.features[name]
	m.mu.RUnlock()
	if !ok {
		return Unknown, false
	}
	return f.Status(), true
}

// BreakerState returns the current breaker state of a registered
// feature.
func (m *Manager) BreakerState(name string) (BreakerState, bool) {
	m.mu.RLock()
	f, ok := m.features[name]
	m.mu.RUnlock()
	if !ok {
		return Closed, false
	}
	return f.breaker.State(), true
}

// Start launches the periodic health-check loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.healthLoop()
}

// Stop terminates the periodic health-check loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runHealthChecks()
		case <-m.stopCh:
			return
		}
	}
}

// RunHealthChecks runs one health-check pass over every registered
// feature immediately.
func (m *Manager) RunHealthChecks() { m.runHealthChecks() }

func (m *Manager) runHealthChecks() {
	m.mu.RLock()
	features := make([]*Feature, 0, len(m.features))
	for _, f := range m.features {
		features = append(features, f)
	}
	m.mu.RUnlock()

	for _, f := range features {
		if f.healthCheck == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FallbackTimeout)
		err := f.healthCheck(ctx)
		cancel()

		if err == nil {
			f.breaker.reset()
			f.status.Store(string(Healthy))
		} else {
			f.status.Store(string(Degraded))
		}
	}
}
