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

	gocache "github.com/patrickmn/go-cache"
)

// L3Tier is the largest, FIFO-evicted tier. Its SpillDir, if set, is
// explicitly scratch space: it is never read back across process
// restarts; there is no on-disk persistence for any tier.
type L3Tier struct {
	eventBus
	mu       sync.Mutex
	store    *gocache.Cache
	order    []Key
	capacity int
	SpillDir string
}

// NewL3 creates an L3 tier bounded to capacity entries.
func NewL3(capacity int) *L3Tier {
	return &L3Tier{
		eventBus: newEventBus(256),
		store:    gocache.New(gocache.NoExpiration, 5*time.Minute),
		capacity: capacity,
	}
}

func (t *L3Tier) Name() TierName { return L3 }
func (t *L3Tier) Capacity() int  { return t.capacity }

func (t *L3Tier) storeKey(k Key) string {
	return k.DocID + "\x00" + k.ChunkID
}

func (t *L3Tier) Get(k Key) (*Entry, bool) {
	t.mu.Lock()
	v, ok := t.store.Get(t.storeKey(k))
	t.mu.Unlock()

	if !ok {
		t.emit(Event{Tier: L3, Key: k, Kind: EventMiss, At: time.Now()})
		return nil, false
	}
	e := v.(*Entry)
	e.LastAccess = time.Now()
	e.AccessCount++
	t.emit(Event{Tier: L3, Key: k, Kind: EventHit, At: time.Now()})
	return cloneEntry(e), true
}

func (t *L3Tier) Set(k Key, vector []float32, meta map[string]string) error {
	e := &Entry{
		Vector:      vector,
		Meta:        meta,
		CurrentTier: L3,
		LastAccess:  time.Now(),
		AccessCount: 1,
	}

	t.mu.Lock()
	_, existed := t.store.Get(t.storeKey(k))
	t.store.Set(t.storeKey(k), e, gocache.NoExpiration)
	if !existed {
		t.order = append(t.order, k)
	}
	t.evictIfOverLocked()
	t.mu.Unlock()

	t.emit(Event{Tier: L3, Key: k, Kind: EventSet, At: time.Now()})
	return nil
}

func (t *L3Tier) evictIfOverLocked() {
	for len(t.order) > t.capacity && t.capacity > 0 {
		victim := t.order[0]
		t.order = t.order[1:]
		t.store.Delete(t.storeKey(victim))
	}
}

func (t *L3Tier) Remove(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.store.Get(t.storeKey(k))
	if !existed {
		return false
	}
	t.store.Delete(t.storeKey(k))
	for i, kk := range t.order {
		if kk == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *L3Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}
