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

// contextSwitch transfers the CPU from prev to next. It returns once prev
// is selected again. A failing switch is fatal to the CPU.
func (s *Scheduler) contextSwitch(prev, next *Thread) {
	if s.ectx != nil {
		s.ectx.Store(prev.ectx)
		s.ectx.Load(next.ectx)
	}
	s.current = next
	s.stats.switches.Add(1)
	s.switcher.Switch(prev.ctx, next.ctx)
}

// reapExited destroys every exited thread except self. It runs on a thread
// that has just resumed, so none of the exited threads can be executing.
func (s *Scheduler) reapExited(self *Thread) {
	if s.exited.empty() {
		return
	}

	g := s.disableIRQ()
	defer g.restore()
	s.exited.forEachSafe(func(t *Thread) bool {
		if t != self {
			s.exited.remove(t)
			s.destroy(t)
		}
		return true
	})
}

// destroy releases the resources of a thread that is on no list and not
// executing.
func (s *Scheduler) destroy(t *Thread) {
	s.switcher.Release(t.ctx)
	s.freeAreas(t)
	t.MarkBlocked()
	t.exited = true
	if t.destructor != nil {
		t.destructor(t)
	}
	s.stats.destroyed.Add(1)
	s.notify(func(l Listener) { l.OnThreadDestroyed(t) })
}

func (s *Scheduler) freeAreas(t *Thread) {
	if t.ectx != nil {
		s.alloc.Free(t.ectx)
		t.ectx = nil
	}
	if t.tls != nil {
		s.alloc.Free(t.tls)
		t.tls = nil
	}
}
