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

// Package session implements the per-model Session Pool: a pool of
// reusable, hardware-bound inference contexts with acquire/release,
// warmup, and idle eviction.
package session

import (
	"context"
	"sync"
	"time"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("session")

// Handle is a hardware-bound, reusable inference context. Inference
// providers implement this over whatever runtime (ONNX Runtime,
// llama.cpp, a vendor NPU SDK) backs the model.
type Handle interface {
	Close() error
}

// Factory creates a new Handle bound to deviceID for modelPath.
type Factory func(modelPath, deviceID string) (Handle, error)

type pooled struct {
	handle   Handle
	deviceID string
	lastUsed time.Time
}

// Pool is the acquire/release session pool for a single model path.
type Pool struct {
	modelPath      string
	factory        Factory
	maxPoolSize    int
	sessionTimeout time.Duration
	maxIdleTime    time.Duration
	idleFloor      int

	mu        sync.Mutex
	cond      *sync.Cond
	available []*pooled
	busy      int

	stopCh chan struct{}
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithMaxPoolSize sets the `|available| + |busy| <= max_pool_size`
// invariant's bound.
func WithMaxPoolSize(n int) Option { return func(p *Pool) { p.maxPoolSize = n } }

// WithSessionTimeout bounds how long Acquire waits for a free slot.
func WithSessionTimeout(d time.Duration) Option { return func(p *Pool) { p.sessionTimeout = d } }

// WithMaxIdleTime sets how long an idle session survives before
// eviction, beyond idleFloor.
func WithMaxIdleTime(d time.Duration) Option { return func(p *Pool) { p.maxIdleTime = d } }

// WithIdleFloor sets the minimum number of idle sessions kept warm.
func WithIdleFloor(n int) Option { return func(p *Pool) { p.idleFloor = n } }

// New creates a session Pool for modelPath using factory to create new
// sessions.
func New(modelPath string, factory Factory, opts ...Option) *Pool {
	p := &Pool{
		modelPath:      modelPath,
		factory:        factory,
		maxPoolSize:    4,
		sessionTimeout: 30 * time.Second,
		maxIdleTime:    5 * time.Minute,
		idleFloor:      1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Warmup pre-creates min(n, max_pool_size) sessions on deviceID.
func (p *Pool) Warmup(n int, deviceID string) error {
	if n > p.maxPoolSize {
		n = p.maxPoolSize
	}
	for i := 0; i < n; i++ {
		h, err := p.factory(p.modelPath, deviceID)
		if err != nil {
			return rterrors.Wrap(err, rterrors.InferenceFailed, "session.warmup", "warmup session %d failed", i)
		}
		p.mu.Lock()
		p.available = append(p.available, &pooled{handle: h, deviceID: deviceID, lastUsed: time.Now()})
		p.mu.Unlock()
	}
	log.Info("warmed up %d session(s) for %s on %s", n, p.modelPath, deviceID)
	return nil
}

// Acquire pops an available session bound to deviceID, creates one if
// under capacity, or waits up to session_timeout for one to free up.
func (p *Pool) Acquire(ctx context.Context, deviceID string) (Handle, error) {
	p.mu.Lock()
	for i, ps := range p.available {
		if ps.deviceID == deviceID {
			p.available = append(p.available[:i], p.available[i+1:]...)
			p.busy++
			p.mu.Unlock()
			return ps.handle, nil
		}
	}
	if p.busy+len(p.available) < p.maxPoolSize {
		p.busy++
		p.mu.Unlock()
		h, err := p.factory(p.modelPath, deviceID)
		if err != nil {
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()
			return nil, rterrors.Wrap(err, rterrors.InferenceFailed, "session.create", "create session for %s failed", p.modelPath)
		}
		return h, nil
	}
	p.mu.Unlock()

	return p.waitForFree(ctx, deviceID)
}

func (p *Pool) waitForFree(ctx context.Context, deviceID string) (Handle, error) {
	deadline := time.Now().Add(p.sessionTimeout)
	result := make(chan Handle, 1)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		p.mu.Lock()
		for {
			select {
			case <-done:
				p.mu.Unlock()
				return
			default:
			}
			for i, ps := range p.available {
				if ps.deviceID == deviceID {
					p.available = append(p.available[:i], p.available[i+1:]...)
					p.busy++
					p.mu.Unlock()
					result <- ps.handle
					return
				}
			}
			if time.Now().After(deadline) {
				p.mu.Unlock()
				errCh <- rterrors.Timeoutf("session.timeout", "no session available for %s within %s", p.modelPath, p.sessionTimeout)
				return
			}
			p.cond.Wait()
		}
	}()

	select {
	case h := <-result:
		return h, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		p.cond.Broadcast()
		return nil, rterrors.Cancelledf("session.cancelled", "acquire cancelled for %s", p.modelPath)
	case <-time.After(p.sessionTimeout + time.Second):
		p.cond.Broadcast()
		return nil, rterrors.Timeoutf("session.timeout", "no session available for %s within %s", p.modelPath, p.sessionTimeout)
	}
}

// Release returns a session to the available pool.
func (p *Pool) Release(h Handle, deviceID string) {
	p.mu.Lock()
	p.available = append(p.available, &pooled{handle: h, deviceID: deviceID, lastUsed: time.Now()})
	p.busy--
	p.mu.Unlock()
	p.cond.Broadcast()
}

// EvictIdle runs one idle-session eviction pass immediately.
func (p *Pool) EvictIdle() { p.evictIdle() }

// StartIdleCleanup launches the periodic idle-session eviction loop.
func (p *Pool) StartIdleCleanup(interval time.Duration) {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.evictIdle()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop terminates idle cleanup and closes every idle session.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	remaining := p.available
	p.available = nil
	p.mu.Unlock()

	for _, ps := range remaining {
		_ = ps.handle.Close()
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()

	p.mu.Lock()
	keep := make([]*pooled, 0, len(p.available))
	var evict []*pooled
	for i, ps := range p.available {
		idleFor := now.Sub(ps.lastUsed)
		excessCount := len(p.available) - i
		if idleFor > p.maxIdleTime && excessCount > p.idleFloor {
			evict = append(evict, ps)
			continue
		}
		keep = append(keep, ps)
	}
	p.available = keep
	p.mu.Unlock()

	for _, ps := range evict {
		_ = ps.handle.Close()
	}
	if len(evict) > 0 {
		log.Info("evicted %d idle session(s) for %s", len(evict), p.modelPath)
	}
}

// Stats reports current pool occupancy.
type Stats struct {
	Available int
	Busy      int
	MaxSize   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Available: len(p.available), Busy: p.busy, MaxSize: p.maxPoolSize}
}

// Manager owns one Pool per model path.
type Manager struct {
	mu      sync.Mutex
	pools   map[string]*Pool
	factory Factory
	opts    []Option
}

// NewManager creates a Manager that lazily creates a Pool per model
// path using factory and opts.
func NewManager(factory Factory, opts ...Option) *Manager {
	return &Manager{pools: make(map[string]*Pool), factory: factory, opts: opts}
}

// PoolFor returns (creating if necessary) the Pool for modelPath.
func (m *Manager) PoolFor(modelPath string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[modelPath]
	if !ok {
		p = New(modelPath, m.factory, m.opts...)
		m.pools[modelPath] = p
	}
	return p
}

// Pools returns every pool the manager currently owns, for a timer
// wheel driving idle eviction across all of them on one clock.
func (m *Manager) Pools() []*Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

// StopAll stops every managed pool.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.Stop()
	}
}
