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
	"gvisor.dev/gvisor/pkg/log"

	"github.com/unikraft/schedcoop/pkg/time"
)

// Virtual is a CPU on virtual time. Halting never blocks the host: the
// clock jumps straight to the earlier of the deadline and the next planned
// interrupt.
type Virtual struct {
	irqController

	clock    *time.VirtualClock
	injector *InterruptInjector
}

// NewVirtual creates a virtual CPU. injector may be nil.
func NewVirtual(clock *time.VirtualClock, injector *InterruptInjector) *Virtual {
	if injector == nil {
		injector = NewInterruptInjector(0)
	}
	v := &Virtual{
		clock:    clock,
		injector: injector,
	}
	v.init()
	return v
}

// Now implements CPU.Now.
func (v *Virtual) Now() int64 {
	return v.clock.Now()
}

// Clock returns the virtual clock driving this CPU.
func (v *Virtual) Clock() *time.VirtualClock {
	return v.clock
}

// Injector returns the interrupt injector of this CPU.
func (v *Virtual) Injector() *InterruptInjector {
	return v.injector
}

// HaltUntil implements CPU.HaltUntil.
func (v *Virtual) HaltUntil(deadline int64) {
	v.checkHalt()

	now := v.clock.Now()
	v.raiseDue(now)
	if v.hasPending() {
		v.deliverPending()
		return
	}
	if v.injector.ShouldInjectSpurious() {
		v.Raise(SpuriousVector)
		v.deliverPending()
		return
	}
	if deadline <= now {
		return
	}

	target := deadline
	if at, ok := v.injector.NextScheduledTime(now); ok && at < target {
		target = at
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("lcpu: halt at %d until %d (deadline %d)", now, target, deadline)
	}
	v.clock.AdvanceTo(target)
	v.raiseDue(target)
	v.deliverPending()
}

// raiseDue marks every planned interrupt due at now pending.
func (v *Virtual) raiseDue(now int64) {
	for _, vec := range v.injector.CheckInjection(now) {
		v.Raise(vec)
	}
}

// Verify interface compliance.
var _ CPU = (*Virtual)(nil)
