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
	gotime "time"

	"github.com/unikraft/schedcoop/pkg/time"
)

// Host is a CPU on host time. Halting parks the calling goroutine until the
// deadline passes or another goroutine raises an interrupt.
type Host struct {
	irqController

	clock time.Clock
}

// NewHost creates a host CPU reading time from clock.
func NewHost(clock time.Clock) *Host {
	h := &Host{clock: clock}
	h.init()
	return h
}

// Now implements CPU.Now.
func (h *Host) Now() int64 {
	return h.clock.Now()
}

// HaltUntil implements CPU.HaltUntil.
func (h *Host) HaltUntil(deadline int64) {
	h.checkHalt()

	// Drain a stale kick; anything it announced is still in pending.
	select {
	case <-h.kick:
	default:
	}
	if h.hasPending() {
		h.deliverPending()
		return
	}

	d := deadline - h.clock.Now()
	if d > 0 {
		timer := gotime.NewTimer(gotime.Duration(d))
		select {
		case <-timer.C:
		case <-h.kick:
		}
		timer.Stop()
	}
	h.deliverPending()
}

// Verify interface compliance.
var _ CPU = (*Host)(nil)
