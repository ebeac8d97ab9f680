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

package promotion

import (
	"testing"
	"time"

	"github.com/glasscore/infercore/pkg/runtime/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediatePromotionL3ToL2(t *testing.T) {
	l1 := cache.NewL1(100)
	l2 := cache.NewL2(100)
	l3 := cache.NewL3(100)

	k := cache.Key{DocID: "doc", ChunkID: "c1"}
	require.NoError(t, l3.Set(k, []float32{1}, nil))

	cfg := DefaultConfig()
	m := NewManager(l1, l2, l3, cfg)

	for i := 0; i < cfg.TPromote; i++ {
		m.ForceRecord(k, cache.L3, true)
	}

	_, inL2 := l2.Get(k)
	assert.True(t, inL2, "key should have been promoted into L2")
}

func TestDemotionScoreGrowsWithIdleTime(t *testing.T) {
	ks := &keyState{firstSeen: time.Now().Add(-time.Hour)}
	ks.record(time.Now().Add(-90*time.Minute), true)

	_, demo := ks.scores(time.Now())
	assert.Greater(t, demo, 1.0)
}

func TestPredictiveScoreRegularIntervals(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	ks := &keyState{firstSeen: base}
	for i := 0; i < 5; i++ {
		ks.record(base.Add(time.Duration(i)*10*time.Second), true)
	}
	score := ks.predictiveScore()
	assert.Greater(t, score, 0.9, "perfectly regular intervals should score near 1")
}
