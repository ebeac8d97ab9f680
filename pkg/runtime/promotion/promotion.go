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

// Package promotion implements the Promotion Manager: it scores cache
// entries by access pattern and moves them across the L1/L2/L3 tiers,
// both immediately on hot access and via periodic sweeps. The periodic
// sweep drains its candidate set under a lock into a container/heap
// max-heap by score, rather than filtering a shared slice, to avoid a
// starvation race under sustained write contention.
package promotion

import (
	"container/heap"
	"math"
	"sync"
	"time"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/cache"
)

var log = logger.NewLogger("promotion")

const maxRecentAccesses = 100

// Config tunes the scoring thresholds and sweep cadence.
type Config struct {
	TPromote          int           // accesses required before immediate promotion is considered
	L3ToL2Threshold   float64       // promotion_score threshold for L3->L2
	L2ToL1Threshold   float64       // promotion_score threshold for L2->L1
	DemotionThreshold float64       // demotion_score threshold for immediate demotion
	PromoteSweep      time.Duration // periodic promotion sweep interval
	DemoteSweep       time.Duration // periodic demotion sweep interval
	L1Cap             int           // per-tier cap for sweep-driven promotion into L1
	L2Cap             int           // per-tier cap for sweep-driven promotion into L2
}

// DefaultConfig returns sensible scoring and sweep defaults.
func DefaultConfig() Config {
	return Config{
		TPromote:          3,
		L3ToL2Threshold:   0.5,
		L2ToL1Threshold:   0.7,
		DemotionThreshold: 2.0,
		PromoteSweep:      60 * time.Second,
		DemoteSweep:       300 * time.Second,
		L1Cap:             10,
		L2Cap:             50,
	}
}

type accessRecord struct {
	at  time.Time
	hit bool
}

type keyState struct {
	firstSeen time.Time
	accesses  []accessRecord
}

func (ks *keyState) record(at time.Time, hit bool) {
	ks.accesses = append(ks.accesses, accessRecord{at: at, hit: hit})
	if len(ks.accesses) > maxRecentAccesses {
		ks.accesses = ks.accesses[len(ks.accesses)-maxRecentAccesses:]
	}
}

func (ks *keyState) totalAccesses() int { return len(ks.accesses) }

func (ks *keyState) hits() int {
	n := 0
	for _, a := range ks.accesses {
		if a.hit {
			n++
		}
	}
	return n
}

func (ks *keyState) lastAccess() time.Time {
	if len(ks.accesses) == 0 {
		return ks.firstSeen
	}
	return ks.accesses[len(ks.accesses)-1].at
}

// scores computes promotion_score and demotion_score.
func (ks *keyState) scores(now time.Time) (promotionScore, demotionScore float64) {
	total := ks.totalAccesses()
	if total == 0 {
		return 0, 0
	}

	ageSinceLast := now.Sub(ks.lastAccess()).Seconds()
	recency := math.Exp(-ageSinceLast / 300.0)

	lifetime := now.Sub(ks.firstSeen).Seconds()
	if lifetime < 1 {
		lifetime = 1
	}
	frequency := math.Min(float64(total)/lifetime*100, 1)

	hitRateBonus := 0.5 * float64(ks.hits()) / float64(total)

	predictive := ks.predictiveScore()

	promotionScore = 0.4*recency + 0.6*frequency + hitRateBonus + 0.2*predictive

	hoursSinceLast := now.Sub(ks.lastAccess()).Hours()
	demotionScore = hoursSinceLast + (1 - math.Min(frequency*1000, 1))

	return promotionScore, demotionScore
}

// predictiveScore measures the regularity of inter-access intervals:
// 1 / (1 + stddev/mean). Returns 0 when fewer than 3 samples exist.
func (ks *keyState) predictiveScore() float64 {
	if len(ks.accesses) < 3 {
		return 0
	}
	intervals := make([]float64, 0, len(ks.accesses)-1)
	for i := 1; i < len(ks.accesses); i++ {
		intervals = append(intervals, ks.accesses[i].at.Sub(ks.accesses[i-1].at).Seconds())
	}
	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}
	variance /= float64(len(intervals))
	std := math.Sqrt(variance)
	return 1 / (1 + std/mean)
}

// Manager scores cache accesses and promotes/demotes entries across
// tiers accordingly.
type Manager struct {
	cfg  Config
	tier map[cache.TierName]cache.Tier

	mu   sync.Mutex
	keys map[cache.Key]*keyState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager wires the three cache tiers into a Manager.
func NewManager(l1, l2, l3 cache.Tier, cfg Config) *Manager {
	return &Manager{
		cfg: cfg,
		tier: map[cache.TierName]cache.Tier{
			cache.L1: l1,
			cache.L2: l2,
			cache.L3: l3,
		},
		keys: make(map[cache.Key]*keyState),
	}
}

// Start subscribes to every tier's event channel and launches the
// periodic promotion/demotion sweeps. Standalone callers that don't
// run a pkg/runtime/core timer wheel use this; core itself uses
// StartConsumers plus its own wheel entries calling TriggerPromotionSweep
// / TriggerDemotionSweep, so the sweep cadence is driven by one clock.
func (m *Manager) Start() {
	m.StartConsumers()
	m.wg.Add(2)
	go m.sweepLoop(m.cfg.PromoteSweep, m.runPromotionSweep)
	go m.sweepLoop(m.cfg.DemoteSweep, m.runDemotionSweep)
}

// StartConsumers subscribes to every tier's event channel without
// launching the periodic sweep goroutines.
func (m *Manager) StartConsumers() {
	m.stopCh = make(chan struct{})
	for _, t := range m.tier {
		m.wg.Add(1)
		go m.consume(t)
	}
}

// TriggerPromotionSweep runs one promotion sweep pass immediately.
func (m *Manager) TriggerPromotionSweep() { m.runPromotionSweep() }

// TriggerDemotionSweep runs one demotion sweep pass immediately.
func (m *Manager) TriggerDemotionSweep() { m.runDemotionSweep() }

// Stop terminates all consumer and sweep goroutines.
func (m *Manager) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
	m.wg.Wait()
}

func (m *Manager) consume(t cache.Tier) {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			if ev.Kind == cache.EventHit || ev.Kind == cache.EventMiss {
				m.onAccess(ev.Key, ev.Tier, ev.Kind == cache.EventHit)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepLoop(interval time.Duration, fn func()) {
	defer m.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) onAccess(k cache.Key, tier cache.TierName, hit bool) {
	now := time.Now()

	m.mu.Lock()
	ks, ok := m.keys[k]
	if !ok {
		ks = &keyState{firstSeen: now}
		m.keys[k] = ks
	}
	ks.record(now, hit)
	total := ks.totalAccesses()
	promoScore, demoScore := ks.scores(now)
	m.mu.Unlock()

	if total >= m.cfg.TPromote {
		switch tier {
		case cache.L3:
			if promoScore > m.cfg.L3ToL2Threshold {
				m.move(k, cache.L3, cache.L2)
				return
			}
		case cache.L2:
			if promoScore > m.cfg.L2ToL1Threshold {
				m.move(k, cache.L2, cache.L1)
				return
			}
		}
	}

	if demoScore > m.cfg.DemotionThreshold {
		switch tier {
		case cache.L1:
			m.move(k, cache.L1, cache.L2)
		case cache.L2:
			m.move(k, cache.L2, cache.L3)
		}
	}
}

// move performs get-from-source + set-into-destination + remove-from-
// source. The destination write happens before the source removal, so
// a concurrent reader always observes the entry in at least one tier
// (never neither), and the window where it exists in both is the
// documented transient promotion state.
func (m *Manager) move(k cache.Key, from, to cache.TierName) {
	src := m.tier[from]
	dst := m.tier[to]
	if src == nil || dst == nil {
		return
	}

	e, ok := src.Get(k)
	if !ok {
		return
	}
	if err := dst.Set(k, e.Vector, e.Meta); err != nil {
		log.Warn("move %s: %s->%s set failed: %v", k, from, to, err)
		return
	}
	src.Remove(k)
	log.Info("moved %s: %s->%s", k, from, to)
}

// candidate is one entry in the sweep's scoring heap.
type candidate struct {
	key   cache.Key
	score float64
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score > h[j].score } // max-heap
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// runPromotionSweep drains the candidate set under a lock into a
// priority heap and promotes the top-k by score, up to each
// destination tier's cap.
func (m *Manager) runPromotionSweep() {
	now := time.Now()

	m.mu.Lock()
	l3h := &maxHeap{}
	l2h := &maxHeap{}
	for k, ks := range m.keys {
		promoScore, _ := ks.scores(now)
		// We don't track current tier here (tiers are the source of
		// truth); attempt both candidate lists and let move() no-op
		// if the key isn't actually resident in the "from" tier.
		heap.Push(l3h, candidate{key: k, score: promoScore})
		heap.Push(l2h, candidate{key: k, score: promoScore})
	}
	m.mu.Unlock()

	for i := 0; i < m.cfg.L2Cap && l3h.Len() > 0; i++ {
		c := heap.Pop(l3h).(candidate)
		if c.score > m.cfg.L3ToL2Threshold {
			m.move(c.key, cache.L3, cache.L2)
		}
	}
	for i := 0; i < m.cfg.L1Cap && l2h.Len() > 0; i++ {
		c := heap.Pop(l2h).(candidate)
		if c.score > m.cfg.L2ToL1Threshold {
			m.move(c.key, cache.L2, cache.L1)
		}
	}
}

// runDemotionSweep drains candidates by demotion_score and demotes
// anything over threshold, highest score first.
func (m *Manager) runDemotionSweep() {
	now := time.Now()

	m.mu.Lock()
	h := &maxHeap{}
	for k, ks := range m.keys {
		_, demoScore := ks.scores(now)
		if demoScore > m.cfg.DemotionThreshold {
			heap.Push(h, candidate{key: k, score: demoScore})
		}
	}
	m.mu.Unlock()

	for h.Len() > 0 {
		c := heap.Pop(h).(candidate)
		m.move(c.key, cache.L1, cache.L2)
		m.move(c.key, cache.L2, cache.L3)
	}
}

// ForceRecord lets callers (tests, or components bypassing the event
// channel) register an access directly.
func (m *Manager) ForceRecord(k cache.Key, tier cache.TierName, hit bool) {
	m.onAccess(k, tier, hit)
}

// Score exposes the current promotion/demotion score for a key, for
// tests and diagnostics.
func (m *Manager) Score(k cache.Key) (promotionScore, demotionScore float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks, exists := m.keys[k]
	if !exists {
		return 0, 0, false
	}
	p, d := ks.scores(time.Now())
	return p, d, true
}
