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

// Package cache implements the three embedding cache tiers (L1/L2/L3)
// behind a single Tier interface. Each tier emits typed events on a Go
// channel rather than a global bus, consumed by
// pkg/runtime/promotion and pkg/runtime/cachestats.
package cache

import (
	"time"
)

// TierName identifies one of the three cache tiers.
type TierName string

const (
	L1 TierName = "l1"
	L2 TierName = "l2"
	L3 TierName = "l3"
)

// Key identifies one cache entry by document and chunk id.
type Key struct {
	DocID   string
	ChunkID string
}

// Entry is the value stored for a Key.
type Entry struct {
	Vector         []float32
	Meta           map[string]string
	CurrentTier    TierName
	LastAccess     time.Time
	AccessCount    uint64
	PromotionScore float64
	DemotionScore  float64
}

// EventKind names the four event families a tier emits.
type EventKind string

const (
	EventHit  EventKind = "cache-hit"
	EventMiss EventKind = "cache-miss"
	EventErr  EventKind = "cache-error"
	EventSet  EventKind = "cache-set"
)

// Event is emitted by a tier on every get/set/remove.
type Event struct {
	Tier TierName
	Key  Key
	Kind EventKind
	At   time.Time
	Err  error
}

// Tier is the contract all three cache tiers satisfy.
type Tier interface {
	Name() TierName
	Get(k Key) (*Entry, bool)
	Set(k Key, vector []float32, meta map[string]string) error
	Remove(k Key) bool
	Len() int
	Capacity() int
	Events() <-chan Event
}

// eventBus is embedded by each tier implementation to provide a
// bounded, non-blocking event channel.
type eventBus struct {
	ch chan Event
}

func newEventBus(buf int) eventBus {
	return eventBus{ch: make(chan Event, buf)}
}

func (b *eventBus) emit(ev Event) {
	select {
	case b.ch <- ev:
	default:
		// Drop rather than block a hot get/set path; the statistics
		// monitor tolerates a lossy event stream, it is not the
		// counters of record.
	}
}

func (b *eventBus) Events() <-chan Event {
	return b.ch
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Vector != nil {
		cp.Vector = append([]float32(nil), e.Vector...)
	}
	if e.Meta != nil {
		cp.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}
