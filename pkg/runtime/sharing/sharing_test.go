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

package sharing

import (
	"testing"

	"github.com/glasscore/infercore/pkg/runtime/mempool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareAccessReleaseRoundTrip(t *testing.T) {
	m := New(mempool.New(1 << 16))
	policy := Policy{Kind: SharedWrite, MaxRefs: 8}
	require.NoError(t, m.Share("res-1", []byte("hello"), policy, "plugin-a"))

	v, err := m.Access("res-1", "plugin-a", Read)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))

	_, err = m.Access("res-1", "plugin-a", Read)
	require.NoError(t, err)
	assert.Equal(t, 2, m.RefCount("res-1"))

	require.NoError(t, m.Release("res-1"))
	require.NoError(t, m.Release("res-1"))
	assert.Equal(t, 0, m.RefCount("res-1"))
}

func TestAccessDeniedByPlugin(t *testing.T) {
	m := New(mempool.New(1 << 16))
	policy := Policy{Kind: ReadOnly, AllowedPlugins: []string{"plugin-a"}}
	require.NoError(t, m.Share("res-1", []byte("x"), policy, "plugin-a"))

	_, err := m.Access("res-1", "plugin-b", Read)
	require.Error(t, err)
}

func TestWriteMaterializesCopyOnWrite(t *testing.T) {
	m := New(mempool.New(1 << 16))
	policy := Policy{Kind: SharedWrite}
	require.NoError(t, m.Share("res-1", []byte("original"), policy, "plugin-a"))

	v, err := m.Access("res-1", "plugin-a", Write)
	require.NoError(t, err)
	copy(v, []byte("mutated!"))

	shared, err := m.Access("res-1", "plugin-b", Read)
	require.NoError(t, err)
	assert.Equal(t, "original", string(shared))
}

func TestAccessDeniedAtMaxRefs(t *testing.T) {
	m := New(mempool.New(1 << 16))
	policy := Policy{Kind: Exclusive, MaxRefs: 1}
	require.NoError(t, m.Share("res-1", []byte("x"), policy, "plugin-a"))

	_, err := m.Access("res-1", "plugin-a", Read)
	require.NoError(t, err)
	assert.Equal(t, 1, m.RefCount("res-1"))

	_, err = m.Access("res-1", "plugin-b", Read)
	require.Error(t, err)
	assert.Equal(t, 1, m.RefCount("res-1"), "a denied access must not bump refCount")

	require.NoError(t, m.Release("res-1"))
	_, err = m.Access("res-1", "plugin-b", Read)
	require.Error(t, err, "releasing the sole ref frees the resource")
}

func TestLargeResourceGoesThroughPool(t *testing.T) {
	pool := mempool.New(4 << 20)
	m := New(pool)
	big := make([]byte, 2<<20)
	require.NoError(t, m.Share("big", big, Policy{Kind: EmbeddingCache}, "plugin-a"))

	stats := pool.Stats()
	assert.Greater(t, stats.Allocated, uint64(0))
}
