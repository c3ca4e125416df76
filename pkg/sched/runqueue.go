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
	"gvisor.dev/gvisor/pkg/ilist"
)

// queueID names the list a thread is linked on.
type queueID uint8

const (
	queueNone queueID = iota
	queueActive
	queueExited
)

// String implements fmt.Stringer.
func (q queueID) String() string {
	switch q {
	case queueActive:
		return "active"
	case queueExited:
		return "exited"
	default:
		return "none"
	}
}

// runQueue is an ordered list of threads. Insertion and removal given a
// thread are O(1); scans are O(n).
//
// runQueue is not synchronized; it is only modified with interrupts
// disabled on the CPU owning the scheduler.
type runQueue struct {
	id   queueID
	list ilist.List
	n    int
}

func newRunQueue(id queueID) runQueue {
	return runQueue{id: id}
}

func (q *runQueue) link(t *Thread) {
	if t.queue != queueNone {
		panic("sched: thread " + t.String() + " already on the " + t.queue.String() + " list")
	}
	t.queue = q.id
	q.n++
}

// pushBack appends t.
func (q *runQueue) pushBack(t *Thread) {
	q.link(t)
	q.list.PushBack(t)
}

// pushFront prepends t.
func (q *runQueue) pushFront(t *Thread) {
	q.link(t)
	q.list.PushFront(t)
}

// remove unlinks t, which must be on q.
func (q *runQueue) remove(t *Thread) {
	if t.queue != q.id {
		panic("sched: thread " + t.String() + " is not on the " + q.id.String() + " list")
	}
	q.list.Remove(t)
	t.queue = queueNone
	q.n--
}

// moveToBack rotates t, which must be on q, to the tail.
func (q *runQueue) moveToBack(t *Thread) {
	q.remove(t)
	q.pushBack(t)
}

// contains reports whether t is on q.
func (q *runQueue) contains(t *Thread) bool {
	return t.queue == q.id
}

// len returns the number of threads on q.
func (q *runQueue) len() int {
	return q.n
}

// empty reports whether q has no threads.
func (q *runQueue) empty() bool {
	return q.list.Empty()
}

// forEachSafe calls fn for each thread from head to tail until fn returns
// false. fn may remove the thread it is passed.
func (q *runQueue) forEachSafe(fn func(t *Thread) bool) {
	for e := q.list.Front(); e != nil; {
		next := e.Next()
		if !fn(e.(*Thread)) {
			return
		}
		e = next
	}
}

// threads returns the threads on q in order.
func (q *runQueue) threads() []*Thread {
	ts := make([]*Thread, 0, q.n)
	q.forEachSafe(func(t *Thread) bool {
		ts = append(ts, t)
		return true
	})
	return ts
}
