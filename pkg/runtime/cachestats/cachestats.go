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

// Package cachestats implements the Cache Statistics Monitor: per-tier
// hit/miss/latency counters, historical trend samples, and threshold
// alerts, exported as Prometheus gauges/counters through
// pkg/instrumentation.
package cachestats

import (
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/glasscore/infercore/pkg/runtime/cache"
)

// Counters holds the raw per-tier counters.
type Counters struct {
	Hits         atomic.Uint64
	Misses       atomic.Uint64
	Errors       atomic.Uint64
	Requests     atomic.Uint64
	TotalLatency atomic.Uint64 // nanoseconds, sum over all recorded latencies
	CacheSize    atomic.Int64
	MemoryUsage  atomic.Int64
}

// Snapshot is a point-in-time read of derived tier statistics.
type Snapshot struct {
	Tier            cache.TierName
	At              time.Time
	Hits, Misses    uint64
	Errors          uint64
	Requests        uint64
	HitRate         float64
	ErrorRate       float64
	AverageLatency  time.Duration
	CacheSize       int64
	MemoryUsage     int64
}

// AlertLevel classifies how severe an alert is.
type AlertLevel string

const (
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Alert is raised when a derived metric crosses a configured threshold.
type Alert struct {
	Tier    cache.TierName
	Level   AlertLevel
	Metric  string
	Value   float64
	Message string
}

// Thresholds configures alerting bounds on the derived cache statistics.
type Thresholds struct {
	MinHitRate  float64       // default 0.7
	MaxLatency  time.Duration // default 1000ms
	MaxErrorRate float64      // default 0.05
}

// DefaultThresholds returns sensible alerting bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{MinHitRate: 0.7, MaxLatency: time.Second, MaxErrorRate: 0.05}
}

// Trend classifies the relative change of a metric across a window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Monitor tracks per-tier Counters, retains historical Snapshots, and
// derives trends/alerts from them.
type Monitor struct {
	mu         sync.Mutex
	counters   map[cache.TierName]*Counters
	history    map[cache.TierName][]Snapshot
	retention  time.Duration
	thresholds Thresholds
	stopCh     chan struct{}
}

// NewMonitor creates a Monitor with the default 24h retention.
func NewMonitor() *Monitor {
	return &Monitor{
		counters:   make(map[cache.TierName]*Counters),
		history:    make(map[cache.TierName][]Snapshot),
		retention:  24 * time.Hour,
		thresholds: DefaultThresholds(),
	}
}

// SetThresholds overrides the default alert thresholds.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
}

// SetRetention overrides the default 24h historical retention window.
func (m *Monitor) SetRetention(d time.Duration) {
	m.mu.Lock()
	m.retention = d
	m.mu.Unlock()
}

func (m *Monitor) countersFor(tier cache.TierName) *Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[tier]
	if !ok {
		c = &Counters{}
		m.counters[tier] = c
	}
	return c
}

// Watch subscribes to t's event channel, updating hit/miss/error/set
// counters as events arrive.
func (m *Monitor) Watch(t cache.Tier) {
	c := m.countersFor(t.Name())
	go func() {
		for ev := range t.Events() {
			switch ev.Kind {
			case cache.EventHit:
				c.Hits.Inc()
				c.Requests.Inc()
			case cache.EventMiss:
				c.Misses.Inc()
				c.Requests.Inc()
			case cache.EventErr:
				c.Errors.Inc()
				c.Requests.Inc()
			case cache.EventSet:
				c.CacheSize.Store(int64(t.Len()))
			}
		}
	}()
}

// RecordLatency adds one latency sample for tier, since cache.Event
// carries no timing information by design (it is a notification, not
// a timing channel).
func (m *Monitor) RecordLatency(tier cache.TierName, d time.Duration) {
	c := m.countersFor(tier)
	c.TotalLatency.Add(uint64(d.Nanoseconds()))
}

// SetMemoryUsage records tier's current estimated memory footprint in
// bytes.
func (m *Monitor) SetMemoryUsage(tier cache.TierName, bytes int64) {
	m.countersFor(tier).MemoryUsage.Store(bytes)
}

// Snapshot computes the current derived statistics for tier.
func (m *Monitor) Snapshot(tier cache.TierName) Snapshot {
	c := m.countersFor(tier)
	requests := c.Requests.Load()
	hits := c.Hits.Load()
	errs := c.Errors.Load()

	s := Snapshot{
		Tier:        tier,
		At:          time.Now(),
		Hits:        hits,
		Misses:      c.Misses.Load(),
		Errors:      errs,
		Requests:    requests,
		CacheSize:   c.CacheSize.Load(),
		MemoryUsage: c.MemoryUsage.Load(),
	}
	if requests > 0 {
		s.HitRate = float64(hits) / float64(requests)
		s.ErrorRate = float64(errs) / float64(requests)
		s.AverageLatency = time.Duration(c.TotalLatency.Load() / requests)
	}
	return s
}

// Sample records the current snapshot into tier's history, pruning
// anything older than the retention window.
func (m *Monitor) Sample(tier cache.TierName) Snapshot {
	snap := m.Snapshot(tier)

	m.mu.Lock()
	defer m.mu.Unlock()
	hist := append(m.history[tier], snap)
	cutoff := time.Now().Add(-m.retention)
	i := 0
	for i < len(hist) && hist[i].At.Before(cutoff) {
		i++
	}
	m.history[tier] = hist[i:]
	return snap
}

// StartSampling launches a goroutine that calls Sample for every
// known tier on the given interval.
func (m *Monitor) StartSampling(interval time.Duration, tiers ...cache.TierName) {
	m.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, tier := range tiers {
					m.Sample(tier)
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// StopSampling terminates the periodic sampling goroutine.
func (m *Monitor) StopSampling() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

// TrendFor classifies the relative change between the first and last
// retained samples for tier, on the metric selected by pick.
func (m *Monitor) TrendFor(tier cache.TierName, pick func(Snapshot) float64) Trend {
	m.mu.Lock()
	hist := m.history[tier]
	m.mu.Unlock()

	if len(hist) < 2 {
		return TrendStable
	}
	first := pick(hist[0])
	last := pick(hist[len(hist)-1])
	if first == 0 {
		return TrendStable
	}
	change := (last - first) / math.Abs(first)
	switch {
	case change > 0.05:
		return TrendIncreasing
	case change < -0.05:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Alerts evaluates tier's current snapshot against the configured
// thresholds.
func (m *Monitor) Alerts(tier cache.TierName) []Alert {
	snap := m.Snapshot(tier)

	m.mu.Lock()
	th := m.thresholds
	m.mu.Unlock()

	var alerts []Alert
	if snap.Requests > 0 && snap.HitRate < th.MinHitRate {
		alerts = append(alerts, Alert{
			Tier: tier, Level: LevelWarning, Metric: "hit_rate", Value: snap.HitRate,
			Message: "hit rate below threshold, consider widening tier capacity",
		})
	}
	if snap.AverageLatency > th.MaxLatency {
		alerts = append(alerts, Alert{
			Tier: tier, Level: LevelWarning, Metric: "latency", Value: float64(snap.AverageLatency.Milliseconds()),
			Message: "average latency above threshold",
		})
	}
	if snap.Requests > 0 && snap.ErrorRate > th.MaxErrorRate {
		alerts = append(alerts, Alert{
			Tier: tier, Level: LevelCritical, Metric: "error_rate", Value: snap.ErrorRate,
			Message: "error rate above threshold, tier may be failing",
		})
	}
	return alerts
}
