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

	"gvisor.dev/gvisor/pkg/ilist"

	"github.com/unikraft/schedcoop/pkg/arch"
)

// ThreadState is the scheduling state of a thread.
type ThreadState int

const (
	// ThreadRunnable threads may be selected to run.
	ThreadRunnable ThreadState = iota

	// ThreadBlocked threads wait for a deadline or an explicit wake.
	ThreadBlocked

	// ThreadExited threads have been removed and wait for destruction.
	ThreadExited
)

// String implements fmt.Stringer.
func (s ThreadState) String() string {
	switch s {
	case ThreadRunnable:
		return "runnable"
	case ThreadBlocked:
		return "blocked"
	case ThreadExited:
		return "exited"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ThreadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ThreadState) UnmarshalText(text []byte) error {
	for _, st := range []ThreadState{ThreadRunnable, ThreadBlocked, ThreadExited} {
		if string(text) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("sched: unknown thread state %q", text)
}

// Thread is a thread control block.
//
// The state accessors are plain field accessors. Callers outside the
// scheduler must either be the running thread or an interrupt handler, and
// must change the wakeup deadline before marking a thread blocked.
type Thread struct {
	ilist.Entry

	sched *Scheduler
	id    uint64
	name  string
	entry func()

	// ctx is owned exclusively by this thread.
	ctx arch.Context

	// ectx and tls are allocated from the scheduler's allocator.
	ectx []byte
	tls  []byte

	runnable bool
	exited   bool

	// wakeupTime is an absolute monotonic deadline in nanoseconds; zero
	// means no deadline.
	wakeupTime int64

	// queue is the list the thread is linked on.
	queue queueID

	destructor func(*Thread)
}

// ThreadOption configures a thread at creation.
type ThreadOption func(*Thread)

// WithDestructor registers fn to run when the thread is destroyed. It runs
// on whichever thread performs the destruction.
func WithDestructor(fn func(*Thread)) ThreadOption {
	return func(t *Thread) {
		t.destructor = fn
	}
}

// ID returns the thread's unique identifier.
func (t *Thread) ID() uint64 {
	return t.id
}

// Name returns the diagnostic name of the thread.
func (t *Thread) Name() string {
	return t.name
}

// String implements fmt.Stringer.
func (t *Thread) String() string {
	return fmt.Sprintf("%s[%d]", t.name, t.id)
}

// MarkRunnable makes the thread eligible for selection. It does not change
// the thread's position in the run queue.
func (t *Thread) MarkRunnable() {
	t.runnable = true
}

// MarkBlocked makes the thread ineligible for selection until it is marked
// runnable again or its wakeup deadline passes.
func (t *Thread) MarkBlocked() {
	t.runnable = false
}

// Runnable reports whether the thread may be selected.
func (t *Thread) Runnable() bool {
	return t.runnable
}

// SetWakeup sets the deadline at which a blocked thread becomes runnable.
// Zero clears it.
func (t *Thread) SetWakeup(deadline int64) {
	t.wakeupTime = deadline
}

// Wakeup returns the wakeup deadline, or zero if there is none.
func (t *Thread) Wakeup() int64 {
	return t.wakeupTime
}

// State returns the thread's scheduling state.
func (t *Thread) State() ThreadState {
	switch {
	case t.exited:
		return ThreadExited
	case t.runnable:
		return ThreadRunnable
	default:
		return ThreadBlocked
	}
}

// ECtx returns the thread's saved extended CPU state area.
func (t *Thread) ECtx() []byte {
	return t.ectx
}

// TLS returns the thread's thread-local storage area.
func (t *Thread) TLS() []byte {
	return t.tls
}

// IsIdle reports whether t is its scheduler's idle thread.
func (t *Thread) IsIdle() bool {
	return t.sched != nil && t.sched.idle == t
}
