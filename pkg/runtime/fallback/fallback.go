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

// Package fallback implements the Fallback Coordinator: it selects the
// best available device for a workload, tracks per-device cooldowns
// after failure, and drives execute-with-fallback retry across the
// configured device order.
package fallback

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/devicetracker"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("fallback")

// Config tunes coordinator behavior.
type Config struct {
	Order            []hwprobe.Kind // fallback_order, default NPU > GPU > CPU
	MinSuccessRate   float64        // default 0.8
	MaxLatencyMS     float64        // default 5000
	MinSamples       int            // default 5
	CooldownDuration time.Duration  // default 30s
}

// DefaultConfig returns sensible fallback-coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Order:            []hwprobe.Kind{hwprobe.NPU, hwprobe.GPU, hwprobe.CPU},
		MinSuccessRate:   0.8,
		MaxLatencyMS:     5000,
		MinSamples:       5,
		CooldownDuration: 30 * time.Second,
	}
}

// InventoryFn returns the current device inventory, typically
// hwprobe.Probe.Current.
type InventoryFn func() *hwprobe.Inventory

// Coordinator selects devices and coordinates retries across them.
type Coordinator struct {
	cfg       Config
	inventory InventoryFn
	trackers  *devicetracker.Registry

	mu        sync.Mutex
	cooldowns map[string]time.Time
	current   string
}

// New creates a Coordinator over inventory and trackers.
func New(inventory InventoryFn, trackers *devicetracker.Registry, cfg Config) *Coordinator {
	if len(cfg.Order) == 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		cfg:       cfg,
		inventory: inventory,
		trackers:  trackers,
		cooldowns: make(map[string]time.Time),
	}
}

func (c *Coordinator) inCooldown(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldowns[deviceID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.cooldowns, deviceID)
		return false
	}
	return true
}

func (c *Coordinator) putInCooldown(deviceID string) {
	c.mu.Lock()
	c.cooldowns[deviceID] = time.Now().Add(c.cfg.CooldownDuration)
	c.mu.Unlock()
	log.Warn("device %s entering cooldown for %s", deviceID, c.cfg.CooldownDuration)
}

func (c *Coordinator) deviceByID(id string) *hwprobe.Device {
	inv := c.inventory()
	if inv == nil {
		return nil
	}
	return inv.ByID(id)
}

// Select picks the best device for workloadType, honoring the current
// device's stickiness, cooldowns, availability, and recent performance.
func (c *Coordinator) Select(workloadType string) (*hwprobe.Device, error) {
	inv := c.inventory()
	if inv == nil || len(inv.Devices) == 0 {
		return nil, rterrors.DeviceUnavailablef("fallback.no_inventory", "no device inventory available")
	}

	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current != "" {
		if d := inv.ByID(current); d != nil && d.Status == hwprobe.Available && !c.inCooldown(current) {
			rate, latency, samples := c.trackers.For(current).RecentPerformance(5 * time.Minute)
			if samples >= c.cfg.MinSamples && rate >= c.cfg.MinSuccessRate && float64(latency.Milliseconds()) <= c.cfg.MaxLatencyMS {
				return d, nil
			}
		}
	}

	var best *hwprobe.Device
	bestScore := -1.0
	for _, kind := range c.cfg.Order {
		for _, d := range inv.ByKind(kind) {
			if d.Status != hwprobe.Available || c.inCooldown(d.ID) {
				continue
			}
			score := d.PerformanceScore * c.trackers.For(d.ID).PerformanceScore()
			if score > bestScore {
				best, bestScore = d, score
			}
		}
		// The first kind in the order with an eligible device wins.
		if best != nil {
			break
		}
	}
	if best != nil {
		c.mu.Lock()
		c.current = best.ID
		c.mu.Unlock()
		return best, nil
	}

	// Nothing qualified: fall back to the last entry in the order, the
	// always-available fallback (typically CPU), if one exists at all.
	for i := len(c.cfg.Order) - 1; i >= 0; i-- {
		devices := inv.ByKind(c.cfg.Order[i])
		if len(devices) > 0 {
			c.mu.Lock()
			c.current = devices[0].ID
			c.mu.Unlock()
			return devices[0], nil
		}
	}

	return nil, rterrors.New(rterrors.AllDevicesFailed, "fallback.exhausted", "no device available for workload %q", workloadType)
}

// Op is the unit of work dispatched to a selected device.
type Op func(device *hwprobe.Device) (latency time.Duration, err error)

// ExecuteWithFallback attempts op on a device up to len(fallback_order)
// times, recording outcomes and putting failing devices in cooldown.
func (c *Coordinator) ExecuteWithFallback(workloadType string, op Op) error {
	var attempts *multierror.Error

	for i := 0; i < len(c.cfg.Order); i++ {
		device, err := c.Select(workloadType)
		if err != nil {
			attempts = multierror.Append(attempts, err)
			break
		}

		latency, opErr := op(device)
		c.trackers.For(device.ID).RecordInference(latency, opErr == nil, map[string]string{"workload": workloadType})

		if opErr == nil {
			return nil
		}

		log.Warn("device %s failed for workload %q: %v", device.ID, workloadType, opErr)
		c.putInCooldown(device.ID)
		attempts = multierror.Append(attempts, opErr)
	}

	if attempts == nil {
		return rterrors.New(rterrors.AllDevicesFailed, "fallback.all_failed", "no attempts were made")
	}
	return rterrors.Wrap(attempts.ErrorOrNil(), rterrors.AllDevicesFailed, "fallback.all_failed",
		"all %d fallback attempt(s) failed for workload %q", len(attempts.Errors), workloadType)
}

// Reset clears sticky current-device state, for tests and reconfiguration.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.current = ""
	c.cooldowns = make(map[string]time.Time)
	c.mu.Unlock()
}
