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

package time

// ClockConfig selects the clock a logical CPU runs on.
type ClockConfig struct {
	// Virtual selects a VirtualClock instead of the host clock.
	Virtual bool

	// InitialMonotonic is the initial virtual time in nanoseconds.
	InitialMonotonic int64
}

// NewClock creates a Clock based on the configuration.
func NewClock(cfg ClockConfig) Clock {
	if cfg.Virtual {
		return NewVirtualClock(VirtualClockConfig{InitialMonotonic: cfg.InitialMonotonic})
	}
	return NewHostClock()
}

// GetVirtualClock returns c as a VirtualClock, or nil if it is not one.
func GetVirtualClock(c Clock) *VirtualClock {
	vc, ok := c.(*VirtualClock)
	if !ok {
		return nil
	}
	return vc
}
