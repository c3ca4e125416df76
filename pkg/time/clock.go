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

// Package time provides the monotonic clock sources the scheduler reads
// wakeup deadlines against. All times are nanoseconds.
package time

import (
	gotime "time"

	"gvisor.dev/gvisor/pkg/sync"
)

// Clock is a monotonically non-decreasing time source.
type Clock interface {
	// Now returns the current monotonic time in nanoseconds.
	Now() int64
}

// VirtualClock is a Clock whose time only advances when explicitly
// requested. This makes scheduling runs reproducible: the same sequence of
// halts and advances always observes the same timestamps.
type VirtualClock struct {
	mu sync.RWMutex

	// monotonic is the current time in nanoseconds.
	// +checklocks:mu
	monotonic int64

	// listeners are notified when time advances.
	// +checklocks:mu
	listeners []TimeListener
}

// TimeListener is notified when virtual time advances.
type TimeListener interface {
	// OnTimeAdvance is called after the clock moved forward by delta
	// nanoseconds to now.
	OnTimeAdvance(now, delta int64)
}

// VirtualClockConfig contains configuration for VirtualClock.
type VirtualClockConfig struct {
	// InitialMonotonic is the initial time in nanoseconds. Defaults to 0.
	InitialMonotonic int64
}

// NewVirtualClock creates a new VirtualClock with the given configuration.
func NewVirtualClock(cfg VirtualClockConfig) *VirtualClock {
	return &VirtualClock{monotonic: cfg.InitialMonotonic}
}

// Now implements Clock.Now.
func (vc *VirtualClock) Now() int64 {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.monotonic
}

// Advance moves the clock forward by deltaNS, which must be non-negative.
func (vc *VirtualClock) Advance(deltaNS int64) {
	if deltaNS < 0 {
		panic("VirtualClock.Advance: negative delta")
	}
	if deltaNS == 0 {
		return
	}

	vc.mu.Lock()
	vc.monotonic += deltaNS
	now := vc.monotonic
	listeners := vc.listeners
	vc.mu.Unlock()

	// Notify listeners outside the lock.
	for _, l := range listeners {
		l.OnTimeAdvance(now, deltaNS)
	}
}

// AdvanceTo moves the clock forward to t. It does nothing if t is not in the
// future, so time never goes backwards.
func (vc *VirtualClock) AdvanceTo(t int64) {
	vc.mu.RLock()
	delta := t - vc.monotonic
	vc.mu.RUnlock()
	if delta > 0 {
		vc.Advance(delta)
	}
}

// AddListener adds a listener that will be notified when time advances.
func (vc *VirtualClock) AddListener(l TimeListener) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.listeners = append(vc.listeners, l)
}

// RemoveListener removes a previously added listener.
func (vc *VirtualClock) RemoveListener(l TimeListener) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for i, listener := range vc.listeners {
		if listener == l {
			vc.listeners = append(vc.listeners[:i:i], vc.listeners[i+1:]...)
			return
		}
	}
}

// HostClock is a Clock backed by the host's monotonic clock, measured from
// the moment it was created.
type HostClock struct {
	base gotime.Time
}

// NewHostClock creates a HostClock starting at zero.
func NewHostClock() *HostClock {
	return &HostClock{base: gotime.Now()}
}

// Now implements Clock.Now.
func (hc *HostClock) Now() int64 {
	return int64(gotime.Since(hc.base))
}

// Verify that both clocks implement the Clock interface.
var (
	_ Clock = (*VirtualClock)(nil)
	_ Clock = (*HostClock)(nil)
)
