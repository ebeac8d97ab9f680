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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	for _, tier := range []Tier{NewL1(10), NewL2(10), NewL3(10)} {
		k := Key{DocID: "doc1", ChunkID: "c1"}
		require.NoError(t, tier.Set(k, []float32{1, 2, 3}, map[string]string{"a": "b"}))

		e, ok := tier.Get(k)
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, e.Vector)
		assert.Equal(t, "b", e.Meta["a"])
	}
}

func TestCacheMissEmitsEvent(t *testing.T) {
	tier := NewL1(10)
	_, ok := tier.Get(Key{DocID: "missing"})
	assert.False(t, ok)

	select {
	case ev := <-tier.Events():
		assert.Equal(t, EventMiss, ev.Kind)
	default:
		t.Fatal("expected a cache-miss event")
	}
}

func TestL1EvictsLeastRecentlyUsed(t *testing.T) {
	l1 := NewL1(2)
	require.NoError(t, l1.Set(Key{DocID: "a"}, nil, nil))
	require.NoError(t, l1.Set(Key{DocID: "b"}, nil, nil))
	l1.Get(Key{DocID: "a"}) // touch a, b becomes LRU
	require.NoError(t, l1.Set(Key{DocID: "c"}, nil, nil))

	_, aOK := l1.Get(Key{DocID: "a"})
	_, bOK := l1.Get(Key{DocID: "b"})
	_, cOK := l1.Get(Key{DocID: "c"})
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestL3EvictsFIFO(t *testing.T) {
	l3 := NewL3(2)
	require.NoError(t, l3.Set(Key{DocID: "a"}, nil, nil))
	require.NoError(t, l3.Set(Key{DocID: "b"}, nil, nil))
	require.NoError(t, l3.Set(Key{DocID: "c"}, nil, nil))

	_, aOK := l3.Get(Key{DocID: "a"})
	assert.False(t, aOK, "oldest entry should have been evicted")
	assert.Equal(t, 2, l3.Len())
}

func TestL2RemoveAndLen(t *testing.T) {
	l2 := NewL2(5)
	k := Key{DocID: "x"}
	require.NoError(t, l2.Set(k, []float32{1}, nil))
	assert.Equal(t, 1, l2.Len())
	assert.True(t, l2.Remove(k))
	assert.Equal(t, 0, l2.Len())
}
