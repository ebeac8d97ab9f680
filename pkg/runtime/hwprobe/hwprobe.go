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

// Package hwprobe takes a one-shot inventory of the CPU, GPU, and NPU
// devices available to the process, scores each of them, and can
// periodically re-probe for hot-plug availability changes.
package hwprobe

import (
	"sync"
	"time"

	logger "github.com/glasscore/infercore/pkg/log"
)

var log = logger.NewLogger("hwprobe")

// Kind identifies the class of a device.
type Kind string

const (
	NPU Kind = "npu"
	GPU Kind = "gpu"
	CPU Kind = "cpu"
)

// Status is the dynamic availability of a device.
type Status string

const (
	Available   Status = "available"
	Unavailable Status = "unavailable"
)

// Device is an immutable descriptor of a probed compute device. Its
// mutable runtime state (history, health) lives in devicetracker, not
// here.
type Device struct {
	ID               string
	Kind             Kind
	Name             string
	Capabilities     []string
	PerformanceScore float64
	Status           Status
	MaxConcurrent    int
}

// DiscoverFlag controls what classes of hardware a Probe discovers.
type DiscoverFlag uint

const (
	DiscoverCPU DiscoverFlag = 1 << iota
	DiscoverGPU
	DiscoverNPU
	DiscoverNone DiscoverFlag = 0
	DiscoverAll  DiscoverFlag = DiscoverCPU | DiscoverGPU | DiscoverNPU
)

// Inventory is the immutable result of a single probe.
type Inventory struct {
	Devices        []*Device
	TotalMemoryMB  uint64
	AvailMemoryMB  uint64
	OS             string
	ProbedAt       time.Time
}

// ByID looks up a device in the inventory by id.
func (inv *Inventory) ByID(id string) *Device {
	for _, d := range inv.Devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// ByKind returns every device of the given kind, in discovery order.
func (inv *Inventory) ByKind(kind Kind) []*Device {
	var out []*Device
	for _, d := range inv.Devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// ChangeFn is notified when a re-probe detects an availability change.
type ChangeFn func(inv *Inventory, changed []*Device)

// Probe discovers and periodically re-probes the hardware inventory. A
// Probe is idempotent and cacheable: repeated Discover() calls on
// unchanged hardware produce observationally identical inventories.
type Probe struct {
	mu        sync.RWMutex
	flags     DiscoverFlag
	inventory *Inventory
	interval  time.Duration
	notify    []ChangeFn
	stopCh    chan struct{}
	stopped   bool
}

// New creates a Probe that discovers the given classes of hardware.
func New(flags DiscoverFlag) *Probe {
	if flags == DiscoverNone {
		flags = DiscoverAll
	}
	return &Probe{flags: flags, interval: 5 * time.Minute}
}

// SetInterval changes the periodic re-probe interval used by Start.
func (p *Probe) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// OnChange registers a callback invoked when a re-probe detects a
// device availability change.
func (p *Probe) OnChange(fn ChangeFn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = append(p.notify, fn)
}

// Discover performs a single, synchronous probe and caches the result.
func (p *Probe) Discover() (*Inventory, error) {
	inv := &Inventory{ProbedAt: time.Now()}

	if p.flags&DiscoverCPU != 0 {
		cpu, err := probeCPU()
		if err != nil {
			log.Warn("CPU probe failed: %v", err)
		} else {
			inv.Devices = append(inv.Devices, cpu)
		}
	}
	if p.flags&DiscoverGPU != 0 {
		gpus, err := probeGPUs()
		if err != nil {
			log.Warn("GPU probe failed: %v", err)
		} else {
			inv.Devices = append(inv.Devices, gpus...)
		}
	}
	if p.flags&DiscoverNPU != 0 {
		if npu := probeNPU(); npu != nil {
			inv.Devices = append(inv.Devices, npu)
		}
	}

	total, avail, err := probeMemory()
	if err != nil {
		log.Warn("memory probe failed: %v", err)
	}
	inv.TotalMemoryMB = total
	inv.AvailMemoryMB = avail
	inv.OS = probeOS()

	p.mu.Lock()
	prev := p.inventory
	p.inventory = inv
	p.mu.Unlock()

	log.Info("probe found %d device(s) (%d MB / %d MB memory available)",
		len(inv.Devices), inv.AvailMemoryMB, inv.TotalMemoryMB)

	if prev != nil {
		p.diffAndNotify(prev, inv)
	}

	return inv, nil
}

// Current returns the most recently cached inventory, or nil if
// Discover has never run.
func (p *Probe) Current() *Inventory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inventory
}

// Start launches the periodic re-probe goroutine. Start is a no-op if
// already started.
func (p *Probe) Start() {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	interval := p.interval
	p.mu.Unlock()

	go p.loop(interval)
}

// Stop terminates the periodic re-probe goroutine.
func (p *Probe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil && !p.stopped {
		close(p.stopCh)
		p.stopped = true
	}
}

func (p *Probe) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.Discover(); err != nil {
				log.Error("periodic re-probe failed: %v", err)
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Probe) diffAndNotify(prev, cur *Inventory) {
	var changed []*Device
	for _, d := range cur.Devices {
		if old := prev.ByID(d.ID); old == nil || old.Status != d.Status {
			changed = append(changed, d)
		}
	}
	if len(changed) == 0 {
		return
	}

	p.mu.RLock()
	callbacks := append([]ChangeFn(nil), p.notify...)
	p.mu.RUnlock()

	for _, fn := range callbacks {
		fn(cur, changed)
	}
}

// clampScore caps a computed performance score to the documented [0,1000] range.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1000 {
		return 1000
	}
	return score
}
