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

// Package sched implements a cooperative round-robin scheduler for one
// logical CPU.
//
// Threads run until they give up the CPU by yielding, blocking or exiting.
// The scheduler keeps every live thread on an active list and selects the
// first runnable thread found scanning from the head, rotating it to the
// tail. Threads blocked with a deadline are woken by the scan once the
// CPU's monotonic clock reaches it; when nothing is runnable the CPU halts
// until the earliest deadline or an interrupt.
//
// Exited threads cannot free the stack they are running on. They move to
// an exited list and are destroyed by the next thread that resumes from a
// switch.
//
// All scheduler state is owned by the CPU: it may only be touched by the
// running thread or by interrupt handlers, which run on the running
// thread. The exceptions are PublishedState and Stats, which may be read
// from any goroutine.
package sched

import (
	"fmt"
	"math"
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/unikraft/schedcoop/pkg/alloc"
	"github.com/unikraft/schedcoop/pkg/arch"
	"github.com/unikraft/schedcoop/pkg/lcpu"
)

// DefaultMaxIdleSlice bounds how long the CPU halts when no deadline is
// pending.
const DefaultMaxIdleSlice = 10 * time.Second

// Config configures a Scheduler.
type Config struct {
	// Alloc provides per-thread state areas. Required.
	Alloc alloc.Allocator

	// CPU is the logical CPU the scheduler runs on. Required.
	CPU lcpu.CPU

	// Switcher creates and switches thread contexts. Required.
	Switcher arch.Switcher

	// ECtx saves and restores extended CPU state. Optional.
	ECtx arch.ExtendedState

	// TLS is the thread-local storage layout. Optional.
	TLS arch.TLSLayout

	// MaxIdleSlice bounds a single halt. Defaults to DefaultMaxIdleSlice.
	MaxIdleSlice time.Duration

	// PublishState makes the scheduler publish a State after every
	// scheduling decision, for PublishedState.
	PublishState bool
}

// Listener is notified of scheduler events. Callbacks run on the CPU with
// interrupts in an unspecified state and must not yield.
type Listener interface {
	// OnThreadAdded is called when a thread joins the active list.
	OnThreadAdded(t *Thread)

	// OnThreadScheduled is called when next is selected to run after prev.
	// prev and next are equal when the running thread is selected again.
	OnThreadScheduled(prev, next *Thread)

	// OnThreadExited is called when a thread moves to the exited list.
	OnThreadExited(t *Thread)

	// OnThreadDestroyed is called after a thread's resources are released.
	OnThreadDestroyed(t *Thread)

	// OnIdle is called before the CPU halts at now until deadline.
	OnIdle(now, deadline int64)
}

// Stats are scheduler counters.
type Stats struct {
	Yields       uint64 `json:"yields"`
	Schedules    uint64 `json:"schedules"`
	Switches     uint64 `json:"switches"`
	Halts        uint64 `json:"halts"`
	TimerWakeups uint64 `json:"timer_wakeups"`
	Wakes        uint64 `json:"wakes"`
	Added        uint64 `json:"added"`
	Exited       uint64 `json:"exited"`
	Destroyed    uint64 `json:"destroyed"`
}

type schedStats struct {
	yields       atomicbitops.Uint64
	schedules    atomicbitops.Uint64
	switches     atomicbitops.Uint64
	halts        atomicbitops.Uint64
	timerWakeups atomicbitops.Uint64
	wakes        atomicbitops.Uint64
	added        atomicbitops.Uint64
	exited       atomicbitops.Uint64
	destroyed    atomicbitops.Uint64
}

// Scheduler is a cooperative scheduler for one logical CPU. It is
// constructed once per CPU and lives for the lifetime of the CPU.
type Scheduler struct {
	alloc        alloc.Allocator
	cpu          lcpu.CPU
	switcher     arch.Switcher
	ectx         arch.ExtendedState
	tls          arch.TLSLayout
	maxIdleSlice int64
	publishState bool

	active runQueue
	exited runQueue

	idle    *Thread
	current *Thread

	// boot is the context Start was called on.
	boot arch.Context

	threadsStarted bool
	stopped        bool
	nextID         uint64

	stats schedStats

	mu sync.Mutex

	// +checklocks:mu
	listeners []Listener

	// +checklocks:mu
	published State
}

// New creates a scheduler and its idle thread. It fails if the idle
// thread's state cannot be allocated.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Alloc == nil || cfg.CPU == nil || cfg.Switcher == nil {
		return nil, fmt.Errorf("sched: allocator, CPU and switcher are required: %w", linuxerr.EINVAL)
	}
	if cfg.MaxIdleSlice <= 0 {
		cfg.MaxIdleSlice = DefaultMaxIdleSlice
	}

	s := &Scheduler{
		alloc:        cfg.Alloc,
		cpu:          cfg.CPU,
		switcher:     cfg.Switcher,
		ectx:         cfg.ECtx,
		tls:          cfg.TLS,
		maxIdleSlice: int64(cfg.MaxIdleSlice),
		publishState: cfg.PublishState,
		active:       newRunQueue(queueActive),
		exited:       newRunQueue(queueExited),
	}

	idle, err := s.NewThread("idle", s.idleLoop)
	if err != nil {
		return nil, fmt.Errorf("sched: creating idle thread: %w", err)
	}
	s.idle = idle

	// The idle thread is blocked without a deadline: it is never selected
	// by a scan, only entered by Start.
	g := s.disableIRQ()
	s.active.pushBack(idle)
	g.restore()

	s.publish()
	log.Infof("sched: scheduler created, max idle slice %v", cfg.MaxIdleSlice)
	return s, nil
}

// irqGuard holds interrupts disabled from its creation until restore.
type irqGuard struct {
	cpu   lcpu.CPU
	flags lcpu.IRQFlags
}

// disableIRQ disables interrupts and returns a guard restoring the
// previous state.
func (s *Scheduler) disableIRQ() irqGuard {
	return irqGuard{cpu: s.cpu, flags: s.cpu.SaveIRQ()}
}

func (g irqGuard) restore() {
	g.cpu.RestoreIRQ(g.flags)
}

// NewThread creates a thread that will run entry once it is added and
// selected. If entry returns, the thread exits.
func (s *Scheduler) NewThread(name string, entry func(), opts ...ThreadOption) (*Thread, error) {
	if entry == nil {
		return nil, fmt.Errorf("sched: thread %q has no entry point: %w", name, linuxerr.EINVAL)
	}

	s.nextID++
	t := &Thread{
		sched: s,
		id:    s.nextID,
		name:  name,
		entry: entry,
	}
	for _, opt := range opts {
		opt(t)
	}

	if s.ectx != nil {
		buf, err := s.alloc.Alloc(s.ectx.Size())
		if err != nil {
			return nil, fmt.Errorf("sched: allocating extended state for %q: %w", name, err)
		}
		s.ectx.Init(buf)
		t.ectx = buf
	}
	if s.tls.Enabled() {
		buf, err := s.alloc.Alloc(s.tls.Size)
		if err != nil {
			s.freeAreas(t)
			return nil, fmt.Errorf("sched: allocating TLS for %q: %w", name, err)
		}
		t.tls = buf
		if err := s.tls.Init(buf); err != nil {
			s.freeAreas(t)
			return nil, fmt.Errorf("sched: initializing TLS for %q: %w", name, err)
		}
	}

	ctx, err := s.switcher.NewContext(func() { s.threadStart(t) })
	if err != nil {
		s.freeAreas(t)
		return nil, fmt.Errorf("sched: creating context for %q: %w", name, err)
	}
	t.ctx = ctx
	t.MarkBlocked()
	return t, nil
}

// Spawn creates a thread and adds it to the active list.
func (s *Scheduler) Spawn(name string, entry func(), opts ...ThreadOption) (*Thread, error) {
	t, err := s.NewThread(name, entry, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.AddThread(t); err != nil {
		s.destroy(t)
		return nil, err
	}
	return t, nil
}

// threadStart is the first code run on every thread context.
func (s *Scheduler) threadStart(t *Thread) {
	// A fresh context did not return from a switch, so it performs the
	// post-switch cleanup itself.
	s.reapExited(t)
	t.entry()
	s.RemoveThread(t)
}

// AddThread marks t runnable and appends it to the active list.
func (s *Scheduler) AddThread(t *Thread) error {
	if t.sched != s {
		return fmt.Errorf("sched: thread %v belongs to another scheduler: %w", t, linuxerr.EINVAL)
	}

	if err := s.enqueue(t); err != nil {
		return err
	}

	s.publish()
	s.stats.added.Add(1)
	s.notify(func(l Listener) { l.OnThreadAdded(t) })
	return nil
}

// enqueue marks t runnable and appends it to the active list.
func (s *Scheduler) enqueue(t *Thread) error {
	g := s.disableIRQ()
	defer g.restore()
	if t.queue != queueNone || t.exited {
		return fmt.Errorf("sched: thread %v is already %v: %w", t, t.State(), linuxerr.EBUSY)
	}
	t.MarkRunnable()
	s.active.pushBack(t)
	return nil
}

// RemoveThread retires t. t moves to the exited list and is destroyed by
// the next thread that resumes from a switch.
//
// If t is the running thread, RemoveThread does not return. Otherwise t
// must not be executing and RemoveThread returns once t is retired.
func (s *Scheduler) RemoveThread(t *Thread) {
	if t == s.idle {
		panic("sched: the idle thread cannot be removed")
	}
	if t == s.current && !s.cpu.IRQsEnabled() {
		panic(fmt.Sprintf("sched: thread %v exiting with interrupts disabled", t))
	}

	s.retire(t)
	s.stats.exited.Add(1)
	s.notify(func(l Listener) { l.OnThreadExited(t) })

	if t != s.current {
		s.publish()
		return
	}
	for {
		s.schedule()
		log.Warningf("sched: exited thread %v was scheduled again", t)
	}
}

// retire moves t from the active list to the head of the exited list.
func (s *Scheduler) retire(t *Thread) {
	g := s.disableIRQ()
	defer g.restore()
	if !s.active.contains(t) {
		panic(fmt.Sprintf("sched: removing thread %v that is not active (%v)", t, t.State()))
	}
	s.active.remove(t)
	t.MarkBlocked()
	t.exited = true
	s.exited.pushFront(t)
}

// Exit retires the running thread. It does not return.
func (s *Scheduler) Exit() {
	s.RemoveThread(s.current)
}

// Yield gives other runnable threads a chance to run. The caller stays on
// the active list and remains runnable unless it blocked itself first.
//
// Yield must not be called from interrupt handlers or with interrupts
// disabled.
func (s *Scheduler) Yield() {
	if !s.cpu.IRQsEnabled() {
		panic("sched: yield with interrupts disabled")
	}
	s.stats.yields.Add(1)
	s.schedule()
}

// Block blocks the running thread until Wake is called on it.
func (s *Scheduler) Block() {
	t := s.current
	g := s.disableIRQ()
	t.SetWakeup(0)
	t.MarkBlocked()
	g.restore()
	s.Yield()
}

// BlockUntil blocks the running thread until the monotonic clock reaches
// deadline or Wake is called on it. A deadline that has already passed
// only yields.
func (s *Scheduler) BlockUntil(deadline int64) {
	if deadline <= s.cpu.Now() {
		s.Yield()
		return
	}
	t := s.current
	g := s.disableIRQ()
	t.SetWakeup(deadline)
	t.MarkBlocked()
	g.restore()
	s.Yield()
}

// Sleep blocks the running thread for d.
func (s *Scheduler) Sleep(d time.Duration) {
	s.BlockUntil(deadlineAfter(s.cpu.Now(), int64(d)))
}

// deadlineAfter returns now+d, saturating at the largest representable
// time.
func deadlineAfter(now, d int64) int64 {
	if d > 0 && now > math.MaxInt64-d {
		return math.MaxInt64
	}
	return now + d
}

// Wake makes a blocked thread runnable and clears its deadline. It may be
// called from interrupt handlers. Waking a thread that is not active has
// no effect and returns false.
func (s *Scheduler) Wake(t *Thread) bool {
	g := s.disableIRQ()
	defer g.restore()
	if !s.active.contains(t) || t == s.idle {
		return false
	}
	if !t.Runnable() {
		s.stats.wakes.Add(1)
	}
	t.SetWakeup(0)
	t.MarkRunnable()
	return true
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *Thread {
	return s.idle
}

// ThreadsStarted reports whether the idle thread has run, after which
// interrupts are enabled and threads execute.
func (s *Scheduler) ThreadsStarted() bool {
	return s.threadsStarted
}

// CPU returns the logical CPU of the scheduler.
func (s *Scheduler) CPU() lcpu.CPU {
	return s.cpu
}

// AddListener registers l for scheduler events.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) notify(fn func(Listener)) {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		fn(l)
	}
}

// Stats returns the scheduler counters. It may be called from any
// goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Yields:       s.stats.yields.Load(),
		Schedules:    s.stats.schedules.Load(),
		Switches:     s.stats.switches.Load(),
		Halts:        s.stats.halts.Load(),
		TimerWakeups: s.stats.timerWakeups.Load(),
		Wakes:        s.stats.wakes.Load(),
		Added:        s.stats.added.Load(),
		Exited:       s.stats.exited.Load(),
		Destroyed:    s.stats.destroyed.Load(),
	}
}

// schedule selects the next thread to run and switches to it. It returns
// when the caller is selected again.
func (s *Scheduler) schedule() {
	prev := s.current
	s.stats.schedules.Add(1)

	g := s.disableIRQ()
	var next *Thread
	for {
		now := s.cpu.Now()
		minWakeup := deadlineAfter(now, s.maxIdleSlice)
		next = s.pick(now, &minWakeup)
		if next != nil {
			break
		}

		// Nothing is runnable. Halt until the earliest deadline or an
		// interrupt, whose handlers run inside HaltUntil, then rescan.
		s.stats.halts.Add(1)
		s.notify(func(l Listener) { l.OnIdle(now, minWakeup) })
		s.cpu.HaltUntil(minWakeup)
	}
	g.restore()

	if log.IsLogging(log.Debug) {
		log.Debugf("sched: %v -> %v at %d", prev, next, s.cpu.Now())
	}
	s.notify(func(l Listener) { l.OnThreadScheduled(prev, next) })
	s.publishWith(next)

	if prev != next {
		s.contextSwitch(prev, next)
	}

	// Resumed: prev is running again.
	s.reapExited(prev)
}

// pick scans the active list from the head. Threads whose deadline has
// passed are made runnable; the first runnable thread is rotated to the
// tail and returned. minWakeup is lowered to the earliest pending
// deadline seen. A thread woken by the scan is eligible in the same pass.
func (s *Scheduler) pick(now int64, minWakeup *int64) *Thread {
	var next *Thread
	s.active.forEachSafe(func(t *Thread) bool {
		if !t.Runnable() && t.wakeupTime != 0 {
			if t.wakeupTime <= now {
				t.SetWakeup(0)
				t.MarkRunnable()
				s.stats.timerWakeups.Add(1)
			} else if t.wakeupTime < *minWakeup {
				*minWakeup = t.wakeupTime
			}
		}
		if t.Runnable() {
			next = t
			s.active.moveToBack(t)
			return false
		}
		return true
	})
	return next
}

// Start enters the idle thread from the calling goroutine, which becomes
// the boot context. It returns after Stop.
func (s *Scheduler) Start() {
	if s.boot != nil {
		panic("sched: scheduler started twice")
	}
	s.boot = s.switcher.Boot()

	log.Infof("sched: starting threads")
	s.current = s.idle
	if s.ectx != nil {
		s.ectx.Load(s.idle.ectx)
	}
	s.switcher.Switch(s.boot, s.idle.ctx)

	log.Infof("sched: stopped at %d", s.cpu.Now())
}

// Stop suspends the running thread and returns to the goroutine that
// called Start. Interrupts are disabled. It does not return.
func (s *Scheduler) Stop() {
	if s.boot == nil {
		panic("sched: stop before start")
	}
	s.cpu.SaveIRQ()
	s.stopped = true
	prev := s.current
	if s.ectx != nil {
		s.ectx.Store(prev.ectx)
	}
	s.current = nil
	s.publish()
	s.switcher.Switch(prev.ctx, s.boot)
	panic("sched: stopped thread resumed")
}

// Shutdown destroys every thread after Start returned, releasing their
// contexts and state areas.
func (s *Scheduler) Shutdown() {
	if s.boot != nil && !s.stopped {
		panic("sched: shutdown while threads are running")
	}
	for _, q := range []*runQueue{&s.exited, &s.active} {
		q.forEachSafe(func(t *Thread) bool {
			q.remove(t)
			s.destroy(t)
			return true
		})
	}
	s.publish()
	log.Infof("sched: shut down, %d threads destroyed", s.stats.destroyed.Load())
}
