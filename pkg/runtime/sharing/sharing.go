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

// Package sharing implements the Resource Sharing Manager: reference
// counted, copy-on-write shared artifacts with TTL and per-plugin
// access policy, layered over pkg/runtime/mempool for large payloads;
// small ones are kept as byte slices in the manager's resource map.
package sharing

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/mempool"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("sharing")

// inlineThreshold is the size above which a shared resource is
// allocated in the memory pool instead of as an inline byte slice,
// for concurrent readers and writers.
const inlineThreshold = 1 << 20 // 1 MiB

// Mode is the access mode requested by a plugin.
type Mode string

const (
	Read  Mode = "read"
	Write Mode = "write"
)

// PolicyKind names one of the four access policies.
type PolicyKind string

const (
	ReadOnly       PolicyKind = "read-only"
	SharedWrite    PolicyKind = "shared-write"
	Exclusive      PolicyKind = "exclusive"
	EmbeddingCache PolicyKind = "embedding-cache"
)

// Policy governs who may access a shared resource, how, and for how
// long.
type Policy struct {
	Kind           PolicyKind
	TTL            time.Duration
	MaxRefs        int
	AllowedPlugins []string // empty means any plugin is allowed
}

func (p Policy) allows(pluginID string) bool {
	if len(p.AllowedPlugins) == 0 {
		return true
	}
	for _, id := range p.AllowedPlugins {
		if id == pluginID {
			return true
		}
	}
	return false
}

// AccessRecord is one entry in a resource's access log.
type AccessRecord struct {
	PluginID string
	Mode     Mode
	At       time.Time
}

// backing is either an inline byte slice or a pool-backed handle.
type backing struct {
	inline []byte
	handle mempool.Handle
	pooled bool
}

type resource struct {
	id        string
	policy    Policy
	refCount  int
	createdAt time.Time
	accessLog []AccessRecord
	backing   backing
	// copies holds per-plugin copy-on-write materializations keyed by
	// plugin id, for policies that are not read-only.
	copies map[string]backing
}

// Manager is the Resource Sharing Manager.
type Manager struct {
	mu        sync.Mutex
	pool      *mempool.Pool
	inline    *gocache.Cache
	resources map[string]*resource

	sweepInterval time.Duration
	stopCh        chan struct{}
}

// New creates a Manager backed by pool for large resources.
func New(pool *mempool.Pool) *Manager {
	return &Manager{
		pool:          pool,
		inline:        gocache.New(gocache.NoExpiration, time.Minute),
		resources:     make(map[string]*resource),
		sweepInterval: 60 * time.Second,
	}
}

// SetSweepInterval overrides the default 60s periodic sweep interval.
func (m *Manager) SetSweepInterval(d time.Duration) {
	m.mu.Lock()
	m.sweepInterval = d
	m.mu.Unlock()
}

// Sweep runs one TTL/orphan reclaim pass immediately. A
// pkg/runtime/core timer wheel calls this directly instead of each
// manager running its own ticker.
func (m *Manager) Sweep() { m.sweep() }

// Start launches the periodic TTL/orphan sweep.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	interval := m.sweepInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the periodic sweep.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

// Share registers a new shared resource under id, allocating it
// inline or in the pool depending on size.
func (m *Manager) Share(id string, data []byte, policy Policy, pluginID string) error {
	if !policy.allows(pluginID) {
		return rterrors.PolicyDeniedf("sharing.denied", "plugin %q may not share resource %q", pluginID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.resources[id]; exists {
		return rterrors.InvalidInputf("sharing.exists", "resource %q already shared", id)
	}

	b, err := m.storeLocked(data)
	if err != nil {
		return err
	}

	m.resources[id] = &resource{
		id:        id,
		policy:    policy,
		createdAt: time.Now(),
		backing:   b,
		copies:    make(map[string]backing),
	}
	log.Info("shared resource %q (%d bytes, policy=%s)", id, len(data), policy.Kind)
	return nil
}

func (m *Manager) storeLocked(data []byte) (backing, error) {
	if len(data) > inlineThreshold && m.pool != nil {
		h, err := m.pool.Allocate(uint64(len(data)), 1, mempool.Embedding, mempool.ProfileNone)
		if err != nil {
			return backing{}, err
		}
		view, err := m.pool.View(h)
		if err != nil {
			return backing{}, err
		}
		copy(view, data)
		return backing{handle: h, pooled: true}, nil
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return backing{inline: clone}, nil
}

func (m *Manager) readLocked(b backing) ([]byte, error) {
	if b.pooled {
		return m.pool.View(b.handle)
	}
	return b.inline, nil
}

// Access returns a view of resource id for pluginID under mode. Write
// access on a non-read-only resource materializes a private
// copy-on-write copy for the plugin.
func (m *Manager) Access(id, pluginID string, mode Mode) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resources[id]
	if !ok {
		return nil, rterrors.PolicyDeniedf("sharing.not_found", "resource %q not shared", id)
	}
	if !r.policy.allows(pluginID) {
		return nil, rterrors.PolicyDeniedf("sharing.denied", "plugin %q may not access resource %q", pluginID, id)
	}
	if r.policy.TTL > 0 && time.Since(r.createdAt) > r.policy.TTL {
		m.reclaimLocked(id)
		return nil, rterrors.PolicyDeniedf("sharing.expired", "resource %q TTL expired", id)
	}

	if r.policy.MaxRefs > 0 && r.refCount >= r.policy.MaxRefs {
		return nil, rterrors.PolicyDeniedf("sharing.max_refs", "resource %q at max_refs (%d)", id, r.policy.MaxRefs)
	}

	r.accessLog = append(r.accessLog, AccessRecord{PluginID: pluginID, Mode: mode, At: time.Now()})
	if len(r.accessLog) > 1000 {
		r.accessLog = r.accessLog[len(r.accessLog)-1000:]
	}

	if mode == Write && r.policy.Kind != ReadOnly {
		cur, ok := r.copies[pluginID]
		if !ok {
			src, err := m.readLocked(r.backing)
			if err != nil {
				return nil, err
			}
			cur, err = m.storeLocked(src)
			if err != nil {
				return nil, err
			}
			r.copies[pluginID] = cur
		}
		r.refCount++
		return m.readLocked(cur)
	}

	r.refCount++
	return m.readLocked(r.backing)
}

// Release decrements id's reference count; a count reaching zero
// frees the resource.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resources[id]
	if !ok {
		return rterrors.PolicyDeniedf("sharing.not_found", "resource %q not shared", id)
	}
	if r.refCount > 0 {
		r.refCount--
	}
	if r.refCount == 0 {
		m.reclaimLocked(id)
	}
	return nil
}

// RefCount returns the current reference count of id, for tests.
func (m *Manager) RefCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[id]; ok {
		return r.refCount
	}
	return 0
}

func (m *Manager) reclaimLocked(id string) {
	r, ok := m.resources[id]
	if !ok {
		return
	}
	if r.backing.pooled {
		_ = m.pool.Free(r.backing.handle)
	}
	for _, c := range r.copies {
		if c.pooled {
			_ = m.pool.Free(c.handle)
		}
	}
	delete(m.resources, id)
}

// sweep reclaims resources whose TTL has expired, and orphans: resources
// whose refcount is zero and which have never been accessed.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, r := range m.resources {
		if r.policy.TTL > 0 && now.Sub(r.createdAt) > r.policy.TTL {
			log.Info("sweep reclaiming expired resource %q", id)
			m.reclaimLocked(id)
			continue
		}
		if r.refCount == 0 && len(r.accessLog) == 0 {
			// Orphaned: never accessed, nothing referencing it.
			log.Info("sweep reclaiming orphaned resource %q", id)
			m.reclaimLocked(id)
		}
	}
}

// DefaultPolicies returns the four named policy presets
// with sensible defaults; callers adjust fields as needed.
func DefaultPolicies() map[PolicyKind]Policy {
	return map[PolicyKind]Policy{
		ReadOnly:       {Kind: ReadOnly, TTL: 0, MaxRefs: 1 << 20},
		SharedWrite:    {Kind: SharedWrite, TTL: 10 * time.Minute, MaxRefs: 64},
		Exclusive:      {Kind: Exclusive, TTL: 5 * time.Minute, MaxRefs: 1},
		EmbeddingCache: {Kind: EmbeddingCache, TTL: time.Hour, MaxRefs: 256},
	}
}
