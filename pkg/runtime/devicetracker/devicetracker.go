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

// Package devicetracker implements the Device Performance Tracker: one
// instance per device, keeping a rolling inference history and health
// log and deriving a composite performance score from them.
package devicetracker

import (
	"sync"
	"time"

	"github.com/glasscore/infercore/pkg/metricsring"
)

const (
	maxHistory = 1000
	maxHealth  = 100
)

// HealthStatus classifies the most recent health-check outcome for a
// device, used as a multiplicative penalty on its performance score.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

var healthPenalty = map[HealthStatus]float64{
	HealthOK:       1.0,
	HealthWarning:  0.5,
	HealthCritical: 0.1,
	HealthUnknown:  0.7,
}

// Record is one append-only inference outcome.
type Record struct {
	At      time.Time
	Latency time.Duration
	OK      bool
	Meta    map[string]string
}

// HealthEntry is one append-only health-check outcome.
type HealthEntry struct {
	At     time.Time
	Status HealthStatus
}

// Tracker holds the mutable runtime state for one device: its devices
// immutable capability descriptor lives in pkg/runtime/hwprobe.
type Tracker struct {
	mu         sync.RWMutex
	deviceID   string
	history    []Record
	health     []HealthEntry
	latencyEWMA metricsring.SampleBuffer

	// maxLatencyMS normalizes latency into [0,1] for scoring; devices
	// slower than this floor to a latency sub-score of 0.
	maxLatencyMS float64
}

// New creates a Tracker for deviceID.
func New(deviceID string) *Tracker {
	return &Tracker{
		deviceID:     deviceID,
		latencyEWMA:  metricsring.NewMetricsRing(64),
		maxLatencyMS: 5000,
		health:       []HealthEntry{{At: time.Now(), Status: HealthUnknown}},
	}
}

// SetMaxLatency overrides the latency normalization ceiling used by
// PerformanceScore (defaults to 5000ms, matching the Fallback
// Coordinator's `max_latency_ms`).
func (t *Tracker) SetMaxLatency(ms float64) {
	t.mu.Lock()
	t.maxLatencyMS = ms
	t.mu.Unlock()
}

// RecordInference appends an inference outcome to the rolling history
// (capped at 1000 records) and feeds the latency EWMA.
func (t *Tracker) RecordInference(latency time.Duration, ok bool, meta map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, Record{At: time.Now(), Latency: latency, OK: ok, Meta: meta})
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.latencyEWMA.Push(float64(latency.Milliseconds()))
}

// RecordHealth appends a health-check outcome (capped at 100 records).
func (t *Tracker) RecordHealth(status HealthStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.health = append(t.health, HealthEntry{At: time.Now(), Status: status})
	if len(t.health) > maxHealth {
		t.health = t.health[len(t.health)-maxHealth:]
	}
}

func (t *Tracker) latestHealthLocked() HealthStatus {
	if len(t.health) == 0 {
		return HealthUnknown
	}
	return t.health[len(t.health)-1].Status
}

// SuccessRate returns the fraction of recorded inferences that
// succeeded, over the full retained history.
func (t *Tracker) SuccessRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return successRate(t.history)
}

func successRate(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	ok := 0
	for _, r := range records {
		if r.OK {
			ok++
		}
	}
	return float64(ok) / float64(len(records))
}

// AverageLatency returns the mean latency over the full retained
// history.
func (t *Tracker) AverageLatency() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return averageLatency(t.history)
}

func averageLatency(records []Record) time.Duration {
	if len(records) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range records {
		sum += r.Latency
	}
	return sum / time.Duration(len(records))
}

// PerformanceScore combines success rate (70%) and latency (30%) into
// a [0,1] composite, then applies the multiplicative health penalty
// critical x0.1, warning x0.5, unknown x0.7.
func (t *Tracker) PerformanceScore() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	success := successRate(t.history)
	avgMS := float64(averageLatency(t.history).Milliseconds())
	latencyScore := 1 - avgMS/t.maxLatencyMS
	if latencyScore < 0 {
		latencyScore = 0
	}
	if latencyScore > 1 {
		latencyScore = 1
	}

	score := 0.7*success + 0.3*latencyScore
	score *= healthPenalty[t.latestHealthLocked()]

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// RecentPerformance returns the success rate and average latency over
// the last `window` of wall-clock time, along with the sample count.
// The Fallback Coordinator requires at least 5 samples before using
// this for a switching decision.
func (t *Tracker) RecentPerformance(window time.Duration) (successRateOut float64, avgLatency time.Duration, samples int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var recent []Record
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].At.Before(cutoff) {
			break
		}
		recent = append(recent, t.history[i])
	}
	return successRate(recent), averageLatency(recent), len(recent)
}

// HistoryLen reports the number of retained history records, for
// invariant checks.
func (t *Tracker) HistoryLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

// Registry owns one Tracker per device id.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// For returns (creating if necessary) the Tracker for deviceID.
func (r *Registry) For(deviceID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[deviceID]
	if !ok {
		t = New(deviceID)
		r.trackers[deviceID] = t
	}
	return t
}
