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

package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// L1Tier is the small, fastest, per-process LRU tier.
type L1Tier struct {
	eventBus
	mu       sync.Mutex
	lru      *lru.Cache
	capacity int
}

// NewL1 creates an L1 tier bounded to capacity entries.
func NewL1(capacity int) *L1Tier {
	t := &L1Tier{
		eventBus: newEventBus(256),
		lru:      lru.New(capacity),
		capacity: capacity,
	}
	return t
}

func (t *L1Tier) Name() TierName { return L1 }
func (t *L1Tier) Capacity() int  { return t.capacity }

func (t *L1Tier) Get(k Key) (*Entry, bool) {
	t.mu.Lock()
	v, ok := t.lru.Get(k)
	t.mu.Unlock()

	if !ok {
		t.emit(Event{Tier: L1, Key: k, Kind: EventMiss, At: time.Now()})
		return nil, false
	}
	e := v.(*Entry)
	e.LastAccess = time.Now()
	e.AccessCount++
	t.emit(Event{Tier: L1, Key: k, Kind: EventHit, At: time.Now()})
	return cloneEntry(e), true
}

func (t *L1Tier) Set(k Key, vector []float32, meta map[string]string) error {
	e := &Entry{
		Vector:      vector,
		Meta:        meta,
		CurrentTier: L1,
		LastAccess:  time.Now(),
		AccessCount: 1,
	}
	t.mu.Lock()
	t.lru.Add(k, e)
	t.mu.Unlock()
	t.emit(Event{Tier: L1, Key: k, Kind: EventSet, At: time.Now()})
	return nil
}

func (t *L1Tier) Remove(k Key) bool {
	t.mu.Lock()
	_, existed := t.lru.Get(k)
	t.lru.Remove(k)
	t.mu.Unlock()
	return existed
}

func (t *L1Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
