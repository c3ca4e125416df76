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
	"fmt"
)

// ThreadInfo describes one thread in a State.
type ThreadInfo struct {
	ID       uint64      `json:"id"`
	Name     string      `json:"name"`
	State    ThreadState `json:"state"`
	WakeupNS int64       `json:"wakeup_ns,omitempty"`
}

// State is a point-in-time view of the scheduler.
type State struct {
	// NowNS is the CPU's monotonic time.
	NowNS int64 `json:"now_ns"`

	// Current is the running thread, if any.
	Current *ThreadInfo `json:"current,omitempty"`

	ThreadsStarted bool `json:"threads_started"`
	Stopped        bool `json:"stopped"`

	// Active and Exited list the threads in queue order.
	Active []ThreadInfo `json:"active"`
	Exited []ThreadInfo `json:"exited"`
}

func infoOf(t *Thread) ThreadInfo {
	return ThreadInfo{
		ID:       t.id,
		Name:     t.name,
		State:    t.State(),
		WakeupNS: t.wakeupTime,
	}
}

func infosOf(q *runQueue) []ThreadInfo {
	infos := make([]ThreadInfo, 0, q.len())
	q.forEachSafe(func(t *Thread) bool {
		infos = append(infos, infoOf(t))
		return true
	})
	return infos
}

// Snapshot returns the current state. It must be called on the CPU.
func (s *Scheduler) Snapshot() State {
	return s.snapshot(s.current)
}

func (s *Scheduler) snapshot(current *Thread) State {
	st := State{
		NowNS:          s.cpu.Now(),
		ThreadsStarted: s.threadsStarted,
		Stopped:        s.stopped,
		Active:         infosOf(&s.active),
		Exited:         infosOf(&s.exited),
	}
	if current != nil {
		info := infoOf(current)
		st.Current = &info
	}
	return st
}

func (s *Scheduler) publish() {
	s.publishWith(s.current)
}

// publishWith publishes the state as it will be once current runs.
func (s *Scheduler) publishWith(current *Thread) {
	if !s.publishState {
		return
	}
	st := s.snapshot(current)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = st
}

// PublishedState returns the state as of the last scheduling decision. It
// may be called from any goroutine, but is only maintained when the
// scheduler was configured with PublishState.
func (s *Scheduler) PublishedState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// CheckInvariants verifies the run queue invariants: every thread is on
// at most one list and at most once, list membership matches thread
// state, and the running thread has not exited. It must be called on the
// CPU.
func (s *Scheduler) CheckInvariants() error {
	seen := make(map[*Thread]queueID)
	for _, q := range []*runQueue{&s.active, &s.exited} {
		n := 0
		var err error
		q.forEachSafe(func(t *Thread) bool {
			n++
			if other, ok := seen[t]; ok {
				err = fmt.Errorf("thread %v on the %v list is also on the %v list", t, q.id, other)
				return false
			}
			seen[t] = q.id
			if t.queue != q.id {
				err = fmt.Errorf("thread %v on the %v list records the %v list", t, q.id, t.queue)
				return false
			}
			if t.exited != (q.id == queueExited) {
				err = fmt.Errorf("thread %v is %v on the %v list", t, t.State(), q.id)
				return false
			}
			if t.exited && t.runnable {
				err = fmt.Errorf("exited thread %v is runnable", t)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if n != q.len() {
			return fmt.Errorf("the %v list holds %d threads but counts %d", q.id, n, q.len())
		}
	}

	if s.idle.queue != queueActive {
		return fmt.Errorf("idle thread %v is on the %v list", s.idle, s.idle.queue)
	}
	if s.current != nil && s.current.queue == queueExited {
		return fmt.Errorf("running thread %v is on the exited list", s.current)
	}
	return nil
}
