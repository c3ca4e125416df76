// Copyright 2026 The gVisor Authors.
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

// Package alloc provides the memory allocators used by the scheduler for
// per-thread metadata.
package alloc

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/sync"
)

// Allocator hands out and reclaims opaque byte buffers.
//
// Alloc never panics on exhaustion; it returns linuxerr.ENOMEM instead.
type Allocator interface {
	// Alloc returns a zeroed buffer of exactly size bytes.
	Alloc(size int) ([]byte, error)

	// Free returns a buffer obtained from Alloc.
	Free(buf []byte)
}

// Stats is a point-in-time view of allocator usage.
type Stats struct {
	// CurBytes is the number of bytes currently allocated.
	CurBytes uint64 `json:"cur_bytes"`

	// PeakBytes is the highest CurBytes ever observed.
	PeakBytes uint64 `json:"peak_bytes"`

	// Allocs is the number of successful allocations.
	Allocs uint64 `json:"allocs"`

	// Frees is the number of buffers returned.
	Frees uint64 `json:"frees"`

	// Failures is the number of allocations refused.
	Failures uint64 `json:"failures"`
}

// Region is an Allocator with a fixed byte budget, similar to a heap region
// carved out at boot.
type Region struct {
	mu sync.Mutex

	// budget is the total number of bytes the region may hand out.
	budget uint64

	// +checklocks:mu
	live map[*byte]int

	// +checklocks:mu
	cur uint64

	// +checklocks:mu
	peak uint64

	allocs   atomicbitops.Uint64
	frees    atomicbitops.Uint64
	failures atomicbitops.Uint64
}

// NewRegion creates a region allowing at most budget bytes to be live at once.
func NewRegion(budget uint64) *Region {
	return &Region{
		budget: budget,
		live:   make(map[*byte]int),
	}
}

// Alloc implements Allocator.Alloc.
func (r *Region) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, linuxerr.EINVAL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur+uint64(size) > r.budget {
		r.failures.Add(1)
		return nil, linuxerr.ENOMEM
	}

	buf := make([]byte, size)
	r.live[&buf[0]] = size
	r.cur += uint64(size)
	if r.cur > r.peak {
		r.peak = r.cur
	}
	r.allocs.Add(1)
	return buf, nil
}

// Free implements Allocator.Free.
//
// Freeing a buffer that did not come from this region, or freeing it twice,
// is a bug in the caller and panics.
func (r *Region) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := &buf[:1][0]
	size, ok := r.live[key]
	if !ok {
		panic(fmt.Sprintf("alloc: free of unknown buffer %p (len %d)", key, len(buf)))
	}
	delete(r.live, key)
	r.cur -= uint64(size)
	r.frees.Add(1)
}

// Available returns the number of bytes that can still be allocated.
func (r *Region) Available() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget - r.cur
}

// Stats returns the current usage statistics.
func (r *Region) Stats() Stats {
	r.mu.Lock()
	cur, peak := r.cur, r.peak
	r.mu.Unlock()

	return Stats{
		CurBytes:  cur,
		PeakBytes: peak,
		Allocs:    r.allocs.Load(),
		Frees:     r.frees.Load(),
		Failures:  r.failures.Load(),
	}
}

// Verify interface compliance.
var _ Allocator = (*Region)(nil)
