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

package lcpu

import (
	"sort"

	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// ScheduledInterrupt is an interrupt planned for a specific virtual time.
type ScheduledInterrupt struct {
	// TriggerTimeNS is when the interrupt fires.
	TriggerTimeNS int64 `json:"trigger_time_ns"`

	// Vector is the interrupt raised.
	Vector Vector `json:"vector"`

	// ID is a unique identifier for this interrupt.
	ID uint64 `json:"id"`
}

// InjectorStats tracks injection statistics.
type InjectorStats struct {
	Checks   uint64            `json:"checks"`
	Injected uint64            `json:"injected"`
	Spurious uint64            `json:"spurious"`
	ByVector map[Vector]uint64 `json:"by_vector"`
}

// InterruptInjector plans the interrupts a virtual CPU observes: device
// interrupts at fixed virtual times, and optionally spurious interrupts
// drawn from a seeded generator.
type InterruptInjector struct {
	mu sync.Mutex

	// +checklocks:mu
	scheduled []ScheduledInterrupt

	// +checklocks:mu
	nextID uint64

	// +checklocks:mu
	spuriousProbability float64

	// +checklocks:mu
	rngState uint64

	// +checklocks:mu
	stats InjectorStats
}

// defaultRNGState seeds the xorshift generator when the seed is 0, which is
// a fixed point of xorshift.
const defaultRNGState = 0x853c49e6748fea9b

// NewInterruptInjector creates an injector with the given seed.
func NewInterruptInjector(seed uint64) *InterruptInjector {
	rngState := seed
	if rngState == 0 {
		rngState = defaultRNGState
	}
	return &InterruptInjector{
		nextID:   1,
		rngState: rngState,
		stats: InjectorStats{
			ByVector: make(map[Vector]uint64),
		},
	}
}

// Schedule plans an interrupt at the given virtual time.
func (inj *InterruptInjector) Schedule(triggerTimeNS int64, v Vector) uint64 {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	id := inj.nextID
	inj.nextID++
	inj.scheduled = append(inj.scheduled, ScheduledInterrupt{
		TriggerTimeNS: triggerTimeNS,
		Vector:        v,
		ID:            id,
	})

	// Keep sorted by trigger time; equal times keep scheduling order.
	sort.SliceStable(inj.scheduled, func(i, j int) bool {
		return inj.scheduled[i].TriggerTimeNS < inj.scheduled[j].TriggerTimeNS
	})
	return id
}

// CancelScheduled cancels a planned interrupt.
func (inj *InterruptInjector) CancelScheduled(id uint64) bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	for i, si := range inj.scheduled {
		if si.ID == id {
			inj.scheduled = append(inj.scheduled[:i], inj.scheduled[i+1:]...)
			return true
		}
	}
	return false
}

// ClearScheduled drops every planned interrupt.
func (inj *InterruptInjector) ClearScheduled() {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.scheduled = inj.scheduled[:0]
}

// Pending returns the number of planned interrupts.
func (inj *InterruptInjector) Pending() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return len(inj.scheduled)
}

// CheckInjection removes and returns the interrupts due at timeNS.
func (inj *InterruptInjector) CheckInjection(timeNS int64) []Vector {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	inj.stats.Checks++

	var due []Vector
	i := 0
	for ; i < len(inj.scheduled) && inj.scheduled[i].TriggerTimeNS <= timeNS; i++ {
		v := inj.scheduled[i].Vector
		due = append(due, v)
		inj.stats.Injected++
		inj.stats.ByVector[v]++
	}
	inj.scheduled = inj.scheduled[i:]
	return due
}

// NextScheduledTime returns the trigger time of the earliest planned
// interrupt after afterTimeNS.
func (inj *InterruptInjector) NextScheduledTime(afterTimeNS int64) (int64, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	for _, si := range inj.scheduled {
		if si.TriggerTimeNS > afterTimeNS {
			return si.TriggerTimeNS, true
		}
	}
	return 0, false
}

// SetSpuriousProbability sets the probability (0.0-1.0) that a halt is cut
// short by a spurious interrupt.
func (inj *InterruptInjector) SetSpuriousProbability(p float64) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	log.Debugf("lcpu: spurious interrupt probability set to %.4f", p)
	inj.spuriousProbability = p
}

// ShouldInjectSpurious decides, deterministically for a given seed, whether
// the current halt sees a spurious interrupt.
func (inj *InterruptInjector) ShouldInjectSpurious() bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if inj.spuriousProbability <= 0 {
		return false
	}

	// xorshift64
	inj.rngState ^= inj.rngState << 13
	inj.rngState ^= inj.rngState >> 7
	inj.rngState ^= inj.rngState << 17

	r := float64(inj.rngState) / float64(^uint64(0))
	if r < inj.spuriousProbability {
		inj.stats.Spurious++
		return true
	}
	return false
}

// GetStats returns injection statistics.
func (inj *InterruptInjector) GetStats() InjectorStats {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	stats := InjectorStats{
		Checks:   inj.stats.Checks,
		Injected: inj.stats.Injected,
		Spurious: inj.stats.Spurious,
		ByVector: make(map[Vector]uint64, len(inj.stats.ByVector)),
	}
	for k, v := range inj.stats.ByVector {
		stats.ByVector[k] = v
	}
	return stats
}
