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

// Package workload generates deterministic thread programs that exercise
// the scheduler: yields, timed sleeps and waits on interrupts. Programs are
// drawn from a seeded generator, so on a virtual CPU the same seed always
// produces the same execution trace.
package workload

import (
	"fmt"
	"time"

	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/pkg/sched"
)

// StepKind is the action of one program step.
type StepKind string

const (
	// StepYield yields the CPU.
	StepYield StepKind = "yield"

	// StepSleep sleeps for the step's duration.
	StepSleep StepKind = "sleep"

	// StepWait blocks until an interrupt raised after the step's duration.
	StepWait StepKind = "wait"
)

// Step is one action of a thread program.
type Step struct {
	Kind     StepKind      `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Config configures a workload.
type Config struct {
	// Seed seeds the program generator. Zero is replaced by a fixed
	// non-zero seed.
	Seed uint64

	// Threads is the number of worker threads.
	Threads int

	// Steps is the number of steps in each program.
	Steps int

	// MaxSleep bounds sleep and wait durations.
	MaxSleep time.Duration

	// Vector is the interrupt used by wait steps.
	Vector lcpu.Vector
}

// DefaultConfig returns the default workload configuration.
func DefaultConfig() Config {
	return Config{
		Seed:     1,
		Threads:  4,
		Steps:    16,
		MaxSleep: 10 * time.Millisecond,
		Vector:   0x20,
	}
}

// EventKind is the type of a trace event.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventYield  EventKind = "yield"
	EventSleep  EventKind = "sleep"
	EventWait   EventKind = "wait"
	EventResume EventKind = "resume"
	EventIRQ    EventKind = "irq"
	EventExit   EventKind = "exit"
)

// Event is one entry of an execution trace.
type Event struct {
	TimeNS int64     `json:"time_ns"`
	Thread string    `json:"thread"`
	Kind   EventKind `json:"kind"`
	Arg    int64     `json:"arg,omitempty"`
}

// Summary aggregates a trace.
type Summary struct {
	Threads  int   `json:"threads"`
	Events   int   `json:"events"`
	Yields   int   `json:"yields"`
	Sleeps   int   `json:"sleeps"`
	Waits    int   `json:"waits"`
	IRQs     int   `json:"irqs"`

	// Cancelled counts planned interrupts withdrawn because their wait
	// was satisfied by an earlier one.
	Cancelled int `json:"cancelled"`

	EndNS    int64 `json:"end_ns"`
	Finished bool  `json:"finished"`
}

// defaultSeed replaces a zero seed, which is a fixed point of xorshift.
const defaultSeed = 0x853c49e6748fea9b

// Workload runs generated programs on a scheduler. All of its state is
// owned by the scheduler's CPU.
type Workload struct {
	cfg      Config
	rngState uint64
	programs [][]Step

	s        *sched.Scheduler
	cpu      lcpu.CPU
	injector *lcpu.InterruptInjector

	// irqs counts interrupts delivered on cfg.Vector.
	irqs      uint64
	waiters   []*sched.Thread
	cancelled int

	remaining int
	trace     []Event
}

// New generates a workload.
func New(cfg Config) (*Workload, error) {
	if cfg.Threads <= 0 || cfg.Steps < 0 || cfg.MaxSleep <= 0 {
		return nil, fmt.Errorf("workload: invalid config %+v: %w", cfg, linuxerr.EINVAL)
	}
	w := &Workload{
		cfg:      cfg,
		rngState: cfg.Seed,
	}
	if w.rngState == 0 {
		w.rngState = defaultSeed
	}

	w.programs = make([][]Step, cfg.Threads)
	for i := range w.programs {
		prog := make([]Step, cfg.Steps)
		for j := range prog {
			prog[j] = w.nextStep()
		}
		w.programs[i] = prog
	}
	return w, nil
}

// next returns the next value of the xorshift64 generator.
func (w *Workload) next() uint64 {
	w.rngState ^= w.rngState << 13
	w.rngState ^= w.rngState >> 7
	w.rngState ^= w.rngState << 17
	return w.rngState
}

func (w *Workload) duration() time.Duration {
	return time.Duration(w.next()%uint64(w.cfg.MaxSleep)) + 1
}

func (w *Workload) nextStep() Step {
	switch r := w.next() % 8; {
	case r < 4:
		return Step{Kind: StepYield}
	case r < 7:
		return Step{Kind: StepSleep, Duration: w.duration()}
	default:
		return Step{Kind: StepWait, Duration: w.duration()}
	}
}

// Programs returns the generated programs, one per thread.
func (w *Workload) Programs() [][]Step {
	return w.programs
}

// Install spawns the workload's threads on s. Wait steps plan their
// interrupt on injector when it is non-nil, and raise it from a host timer
// otherwise. The last thread to finish stops the scheduler.
func (w *Workload) Install(s *sched.Scheduler, injector *lcpu.InterruptInjector) error {
	if w.s != nil {
		return fmt.Errorf("workload: already installed: %w", linuxerr.EBUSY)
	}
	w.s = s
	w.cpu = s.CPU()
	w.injector = injector
	w.cpu.RegisterHandler(w.cfg.Vector, w.handleIRQ)

	for i, prog := range w.programs {
		name := fmt.Sprintf("worker-%d", i)
		if _, err := s.Spawn(name, func() { w.run(name, prog) }); err != nil {
			return fmt.Errorf("workload: spawning %s: %w", name, err)
		}
		w.remaining++
	}
	log.Infof("workload: %d threads of %d steps installed, seed %#x", w.cfg.Threads, w.cfg.Steps, w.cfg.Seed)
	return nil
}

func (w *Workload) record(thread string, kind EventKind, arg int64) {
	w.trace = append(w.trace, Event{
		TimeNS: w.cpu.Now(),
		Thread: thread,
		Kind:   kind,
		Arg:    arg,
	})
}

// run executes one thread program.
func (w *Workload) run(name string, prog []Step) {
	w.record(name, EventStart, 0)
	for _, step := range prog {
		switch step.Kind {
		case StepYield:
			w.record(name, EventYield, 0)
			w.s.Yield()
		case StepSleep:
			w.record(name, EventSleep, int64(step.Duration))
			w.s.Sleep(step.Duration)
		case StepWait:
			w.record(name, EventWait, int64(step.Duration))
			w.waitIRQ(step.Duration)
		}
		w.record(name, EventResume, 0)
	}
	w.record(name, EventExit, 0)

	w.remaining--
	if w.remaining == 0 {
		log.Infof("workload: all threads finished at %d", w.cpu.Now())
		w.s.Stop()
	}
}

// waitIRQ plans an interrupt d from now and blocks the running thread until
// the next interrupt on the workload vector, which may be another thread's.
func (w *Workload) waitIRQ(d time.Duration) {
	seen := w.irqs
	w.waiters = append(w.waiters, w.s.Current())
	id, planned := w.trigger(d)
	for w.irqs == seen {
		w.s.Block()
	}
	if planned && w.injector.CancelScheduled(id) {
		w.cancelled++
	}
}

// trigger arranges for an interrupt d from now. It returns the injector's
// id for it if the interrupt was planned on virtual time.
func (w *Workload) trigger(d time.Duration) (uint64, bool) {
	if w.injector != nil {
		return w.injector.Schedule(w.cpu.Now()+int64(d), w.cfg.Vector), true
	}
	cpu, v := w.cpu, w.cfg.Vector
	time.AfterFunc(d, func() { cpu.Raise(v) })
	return 0, false
}

// handleIRQ runs in interrupt context and wakes every waiter.
func (w *Workload) handleIRQ(lcpu.Vector) {
	w.irqs++
	w.record("irq", EventIRQ, int64(len(w.waiters)))
	for _, t := range w.waiters {
		w.s.Wake(t)
	}
	w.waiters = w.waiters[:0]
}

// Trace returns the execution trace. It must not be called while the
// scheduler runs.
func (w *Workload) Trace() []Event {
	return w.trace
}

// Summary aggregates the trace.
func (w *Workload) Summary() Summary {
	sum := Summary{
		Threads:   w.cfg.Threads,
		Events:    len(w.trace),
		Finished:  w.s != nil && w.remaining == 0,
		Cancelled: w.cancelled,
	}
	for _, ev := range w.trace {
		switch ev.Kind {
		case EventYield:
			sum.Yields++
		case EventSleep:
			sum.Sleeps++
		case EventWait:
			sum.Waits++
		case EventIRQ:
			sum.IRQs++
		}
		sum.EndNS = ev.TimeNS
	}
	return sum
}
