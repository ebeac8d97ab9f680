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

// Package mempool implements the shared memory pool: a single
// contiguous backing buffer with an aligned first-fit allocator, a
// compacting garbage collector, and index-based handles that resolve
// to a live offset on every access (no
// relocation callback is needed because a handle is never an offset
// itself).
package mempool

import (
	"sort"
	"sync"
	"time"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("mempool")

// Kind is the data kind an allocation holds, used to pick an optimal
// alignment when the caller doesn't demand a stricter one.
type Kind string

const (
	Int8      Kind = "int8"
	Int16     Kind = "int16"
	Float32   Kind = "float32"
	Float64   Kind = "float64"
	Tensor    Kind = "tensor"
	Embedding Kind = "embedding"
)

var optimalAlignment = map[Kind]uint64{
	Int8:      1,
	Int16:     2,
	Float32:   4,
	Float64:   8,
	Tensor:    16,
	Embedding: 32,
}

// Profile is a hardware profile contributing an additional minimum
// alignment (CPU cache line, GPU, NPU).
type Profile string

const (
	ProfileNone Profile = ""
	ProfileCPU  Profile = "cpu"
	ProfileGPU  Profile = "gpu"
	ProfileNPU  Profile = "npu"
)

var profileAlignment = map[Profile]uint64{
	ProfileCPU: 64,
	ProfileGPU: 256,
	ProfileNPU: 128,
}

// Handle is an opaque, index-based reference to an allocation. It
// never encodes an offset, so compaction can move the backing bytes
// without invalidating outstanding handles.
type Handle uint64

// MemoryBlock describes a live allocation.
type MemoryBlock struct {
	Offset      uint64
	Size        uint64
	Alignment   uint64
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount uint64
}

type freeBlock struct {
	offset uint64
	size   uint64
}

// Stats summarizes pool utilization for GC decisions and diagnostics.
type Stats struct {
	PoolSize     uint64
	Allocated    uint64
	TotalFree    uint64
	LargestFree  uint64
	Utilization  float64
	Fragmentation float64
	BytesWasted  uint64
}

// Pool is a single contiguous backing buffer with a first-fit
// allocator over it.
type Pool struct {
	mu         sync.Mutex
	buf        []byte
	size       uint64
	free       []freeBlock
	blocks     map[Handle]*MemoryBlock
	nextHandle Handle

	gcThreshold float64 // utilization fraction that triggers GC, default 0.8
}

// New creates a Pool backed by a buffer of size bytes.
func New(size uint64) *Pool {
	return &Pool{
		buf:         make([]byte, size),
		size:        size,
		free:        []freeBlock{{offset: 0, size: size}},
		blocks:      make(map[Handle]*MemoryBlock),
		nextHandle:  1,
		gcThreshold: 0.8,
	}
}

// SetGCThreshold overrides the default 0.8 utilization GC trigger
// (clamped to [0.1, 0.95]).
func (p *Pool) SetGCThreshold(t float64) {
	if t < 0.1 {
		t = 0.1
	}
	if t > 0.95 {
		t = 0.95
	}
	p.mu.Lock()
	p.gcThreshold = t
	p.mu.Unlock()
}

func alignFor(requested uint64, kind Kind, profile Profile) uint64 {
	align := requested
	if a := optimalAlignment[kind]; a > align {
		align = a
	}
	if a := profileAlignment[profile]; a > align {
		align = a
	}
	if align == 0 {
		align = 1
	}
	return align
}

func alignUp(offset, alignment uint64) uint64 {
	if alignment <= 1 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}

// Allocate reserves size bytes aligned to max(alignment, optimal(kind),
// profile alignment). On failure it attempts a GC pass and retries
// once before returning OutOfMemory.
func (p *Pool) Allocate(size, alignment uint64, kind Kind, profile Profile) (Handle, error) {
	if size == 0 {
		return 0, rterrors.InvalidInputf("mempool.zero_size", "allocation size must be > 0")
	}
	align := alignFor(alignment, kind, profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.tryAllocateLocked(size, align); ok {
		return h, nil
	}

	p.gcLocked(false)
	if h, ok := p.tryAllocateLocked(size, align); ok {
		return h, nil
	}

	return 0, rterrors.OutOfMemoryf("mempool.oom",
		"no placement for size=%d align=%d in pool of %d bytes", size, align, p.size)
}

func (p *Pool) tryAllocateLocked(size, align uint64) (Handle, bool) {
	for i, fb := range p.free {
		start := alignUp(fb.offset, align)
		padding := start - fb.offset
		need := padding + size
		if need > fb.size {
			continue
		}

		// Carve the allocation out of this free block, keeping the
		// free list sorted by offset.
		remainderOffset := start + size
		remainderSize := fb.size - need
		newFree := make([]freeBlock, 0, len(p.free)+1)
		newFree = append(newFree, p.free[:i]...)
		if padding > 0 {
			newFree = append(newFree, freeBlock{offset: fb.offset, size: padding})
		}
		if remainderSize > 0 {
			newFree = append(newFree, freeBlock{offset: remainderOffset, size: remainderSize})
		}
		newFree = append(newFree, p.free[i+1:]...)
		p.free = newFree

		h := p.nextHandle
		p.nextHandle++
		now := time.Now()
		p.blocks[h] = &MemoryBlock{
			Offset:     start,
			Size:       size,
			Alignment:  align,
			CreatedAt:  now,
			LastAccess: now,
		}
		return h, true
	}
	return 0, false
}

// Free releases the allocation referenced by h.
func (p *Pool) Free(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, ok := p.blocks[h]
	if !ok {
		return rterrors.InvalidInputf("mempool.unknown_handle", "handle %d is not allocated", h)
	}
	delete(p.blocks, h)
	p.insertFreeLocked(freeBlock{offset: blk.Offset, size: blk.Size})
	return nil
}

func (p *Pool) insertFreeLocked(fb freeBlock) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].offset >= fb.offset })
	p.free = append(p.free, freeBlock{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = fb
}

// View resolves h to a live slice into the backing buffer. It is only
// valid until the next call that frees or moves memory; callers
// should re-resolve the handle rather than cache the slice.
func (p *Pool) View(h Handle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, ok := p.blocks[h]
	if !ok {
		return nil, rterrors.InvalidInputf("mempool.unknown_handle", "handle %d is not allocated", h)
	}
	blk.LastAccess = time.Now()
	blk.AccessCount++
	return p.buf[blk.Offset : blk.Offset+blk.Size], nil
}

// Block returns a copy of the MemoryBlock metadata for h.
func (p *Pool) Block(h Handle) (MemoryBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	blk, ok := p.blocks[h]
	if !ok {
		return MemoryBlock{}, rterrors.InvalidInputf("mempool.unknown_handle", "handle %d is not allocated", h)
	}
	return *blk, nil
}

// Stats reports current pool utilization.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	var totalFree, largestFree, allocated uint64
	for _, fb := range p.free {
		totalFree += fb.size
		if fb.size > largestFree {
			largestFree = fb.size
		}
	}
	for _, blk := range p.blocks {
		allocated += blk.Size
	}
	frag := 0.0
	if totalFree > 0 {
		frag = 1 - float64(largestFree)/float64(totalFree)
	}
	return Stats{
		PoolSize:      p.size,
		Allocated:     allocated,
		TotalFree:     totalFree,
		LargestFree:   largestFree,
		Utilization:   float64(allocated) / float64(p.size),
		Fragmentation: frag,
		BytesWasted:   p.size - allocated - totalFree,
	}
}

// GC runs a coalesce pass, and a compaction pass if fragmentation
// remains severe. It is safe to call directly; Allocate calls it
// automatically on failure.
func (p *Pool) GC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcLocked(true)
}

func (p *Pool) gcLocked(forceCompactCheck bool) {
	stats := p.statsLocked()
	if !forceCompactCheck && stats.Utilization <= p.gcThreshold && stats.Fragmentation <= 0.5 {
		return
	}

	p.coalesceLocked()

	stats = p.statsLocked()
	if stats.Fragmentation > 0.7 {
		p.compactLocked()
		log.Info("mempool compacted: utilization=%.2f fragmentation->0 bytes_wasted=%d",
			stats.Utilization, p.statsLocked().BytesWasted)
	}
}

// coalesceLocked merges adjacent free blocks.
func (p *Pool) coalesceLocked() {
	if len(p.free) < 2 {
		return
	}
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].offset < p.free[j].offset })
	merged := p.free[:1]
	for _, fb := range p.free[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == fb.offset {
			last.size += fb.size
		} else {
			merged = append(merged, fb)
		}
	}
	p.free = merged
}

// compactLocked moves every allocated block to the next aligned
// offset in ascending order, leaving one trailing free block. Handles
// are index-based, so moving bytes never invalidates them: the
// MemoryBlock each handle maps to is simply updated in place.
func (p *Pool) compactLocked() {
	type entry struct {
		handle Handle
		blk    *MemoryBlock
	}
	entries := make([]entry, 0, len(p.blocks))
	for h, blk := range p.blocks {
		entries = append(entries, entry{handle: h, blk: blk})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].blk.Offset < entries[j].blk.Offset })

	var cursor uint64
	for _, e := range entries {
		newOffset := alignUp(cursor, e.blk.Alignment)
		if newOffset != e.blk.Offset {
			copy(p.buf[newOffset:newOffset+e.blk.Size], p.buf[e.blk.Offset:e.blk.Offset+e.blk.Size])
			e.blk.Offset = newOffset
		}
		cursor = newOffset + e.blk.Size
	}

	p.free = nil
	if cursor < p.size {
		p.free = []freeBlock{{offset: cursor, size: p.size - cursor}}
	}
}
