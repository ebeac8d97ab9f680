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

package mempool

import (
	"testing"

	"github.com/glasscore/infercore/pkg/runtime/rterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignment(t *testing.T) {
	p := New(1 << 20)

	sizes := []uint64{7, 33, 1024}
	alignments := []uint64{16, 32, 128}

	for i, size := range sizes {
		align := alignments[i]
		h, err := p.Allocate(size, align, "", ProfileNone)
		require.NoError(t, err)
		blk, err := p.Block(h)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), blk.Offset%align, "offset %d not aligned to %d", blk.Offset, align)
	}

	stats := p.Stats()
	assert.Greater(t, stats.BytesWasted+stats.TotalFree, uint64(0))
}

func TestNoOverlap(t *testing.T) {
	p := New(4096)
	var handles []Handle
	for i := 0; i < 10; i++ {
		h, err := p.Allocate(100, 16, "", ProfileNone)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	type span struct{ start, end uint64 }
	var spans []span
	for _, h := range handles {
		blk, err := p.Block(h)
		require.NoError(t, err)
		spans = append(spans, span{blk.Offset, blk.Offset + blk.Size})
	}
	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			overlap := spans[i].start < spans[j].end && spans[j].start < spans[i].end
			assert.False(t, overlap, "allocations %d and %d overlap", i, j)
		}
	}
}

func TestFreeAndReuse(t *testing.T) {
	p := New(1024)
	h1, err := p.Allocate(512, 8, "", ProfileNone)
	require.NoError(t, err)
	require.NoError(t, p.Free(h1))

	h2, err := p.Allocate(512, 8, "", ProfileNone)
	require.NoError(t, err)
	blk, err := p.Block(h2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), blk.Offset)
}

func TestOutOfMemory(t *testing.T) {
	p := New(64)
	_, err := p.Allocate(128, 8, "", ProfileNone)
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.OutOfMemory))
}

func TestCompactionLeavesOneTrailingFreeBlock(t *testing.T) {
	p := New(1024)
	var handles []Handle
	for i := 0; i < 8; i++ {
		h, err := p.Allocate(64, 8, "", ProfileNone)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	// Free every other block to fragment the pool.
	for i, h := range handles {
		if i%2 == 0 {
			require.NoError(t, p.Free(h))
		}
	}

	p.GC()
	p.compactLockedForTest()

	p.mu.Lock()
	freeCount := len(p.free)
	p.mu.Unlock()
	assert.LessOrEqual(t, freeCount, 1)
}

// compactLockedForTest exposes compactLocked under the package's own
// lock for white-box testing of the post-compaction free-list shape.
func (p *Pool) compactLockedForTest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coalesceLocked()
	p.compactLocked()
}

func TestViewReflectsCompactionMove(t *testing.T) {
	p := New(256)
	h1, err := p.Allocate(32, 8, "", ProfileNone)
	require.NoError(t, err)
	h2, err := p.Allocate(32, 8, "", ProfileNone)
	require.NoError(t, err)
	require.NoError(t, p.Free(h1))

	v2Before, err := p.View(h2)
	require.NoError(t, err)
	copy(v2Before, []byte("payload-data-here-12345678901234"[:32]))

	p.compactLockedForTest()

	v2After, err := p.View(h2)
	require.NoError(t, err)
	assert.Equal(t, byte('p'), v2After[0])
}
