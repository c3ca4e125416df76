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

package sched

import (
	"gvisor.dev/gvisor/pkg/log"
)

// idleLoop is the body of the idle thread. Its first activation ends the
// boot phase and enables interrupts; afterwards it only re-enters the
// scheduler. It stays blocked without a deadline, so the scan never
// selects it and the CPU halts in whichever thread found nothing to run.
func (s *Scheduler) idleLoop() {
	s.threadsStarted = true
	log.Infof("sched: threads started, enabling interrupts")
	s.cpu.EnableIRQ()

	for {
		g := s.disableIRQ()
		s.idle.SetWakeup(0)
		s.idle.MarkBlocked()
		g.restore()
		s.schedule()
	}
}
