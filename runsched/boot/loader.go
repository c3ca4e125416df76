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

// Package boot assembles a logical CPU, its scheduler and a workload from a
// configuration, and runs them.
package boot

import (
	"fmt"
	gotime "time"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/unikraft/schedcoop/pkg/alloc"
	"github.com/unikraft/schedcoop/pkg/arch"
	"github.com/unikraft/schedcoop/pkg/control"
	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/pkg/sched"
	"github.com/unikraft/schedcoop/pkg/time"
	"github.com/unikraft/schedcoop/pkg/workload"
	"github.com/unikraft/schedcoop/runsched/config"
)

// StopVector is the interrupt that asks a running loader to stop.
const StopVector lcpu.Vector = 0xfe

// workloadVector is the interrupt used by workload waits.
const workloadVector lcpu.Vector = 0x20

// Report describes a completed run.
type Report struct {
	Platform string `json:"platform"`
	Seed     uint64 `json:"seed"`

	// Finished is false if the run was stopped before the workload
	// completed.
	Finished bool `json:"finished"`

	// EndNS is the CPU's monotonic time when the run stopped.
	EndNS int64 `json:"end_ns"`

	// Elapsed is the host time the run took.
	Elapsed gotime.Duration `json:"elapsed"`

	Workload  workload.Summary `json:"workload"`
	Scheduler sched.Stats      `json:"scheduler"`
	CPU       lcpu.Stats       `json:"cpu"`
	Alloc     alloc.Stats      `json:"alloc"`
	Switches  uint64           `json:"context_switches"`

	// Injector reports planned and spurious interrupts on the virtual
	// platform.
	Injector *lcpu.InjectorStats `json:"injector,omitempty"`

	// HaltedNS is the virtual time the CPU spent halted.
	HaltedNS int64 `json:"halted_ns,omitempty"`

	// DroppedInterrupts counts planned interrupts still outstanding when
	// the run stopped.
	DroppedInterrupts int `json:"dropped_interrupts,omitempty"`

	// Trace is the workload trace, if requested.
	Trace []workload.Event `json:"trace,omitempty"`
}

// cpu is the interface of the CPUs in package lcpu.
type cpu interface {
	lcpu.CPU
	Stats() lcpu.Stats
}

// Loader owns one logical CPU and everything running on it.
type Loader struct {
	conf *config.Config

	region   *alloc.Region
	cpu      cpu
	clock    *time.VirtualClock
	injector *lcpu.InterruptInjector
	switcher *arch.GoroutineSwitcher
	sched    *sched.Scheduler
	workload *workload.Workload
	control  *control.Server

	supervisor *sched.Thread

	// stopRequested is set by the StopVector handler.
	stopRequested bool

	halted haltMeter

	ran bool
}

// New creates a loader. The scheduler and workload threads are created but
// not started.
func New(conf *config.Config) (*Loader, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	l := &Loader{
		conf:     conf,
		region:   alloc.NewRegion(conf.HeapSize),
		switcher: arch.NewGoroutineSwitcher(),
	}

	clock := time.NewClock(time.ClockConfig{Virtual: conf.Platform == config.PlatformVirtual})
	if vc := time.GetVirtualClock(clock); vc != nil {
		l.clock = vc
		l.injector = lcpu.NewInterruptInjector(conf.Seed)
		l.injector.SetSpuriousProbability(conf.SpuriousProbability)
		l.cpu = lcpu.NewVirtual(vc, l.injector)
	} else {
		l.cpu = lcpu.NewHost(clock)
	}

	schedConf := sched.Config{
		Alloc:        l.region,
		CPU:          l.cpu,
		Switcher:     l.switcher,
		TLS:          arch.TLSLayout{Size: conf.TLSSize},
		MaxIdleSlice: conf.MaxIdleSlice,
		PublishState: conf.ControlSocket != "",
	}
	if conf.ECtxSize > 0 {
		schedConf.ECtx = arch.NewSimulatedFPU(conf.ECtxSize)
	}
	s, err := sched.New(schedConf)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	l.sched = s

	l.cpu.RegisterHandler(StopVector, l.handleStop)
	l.supervisor, err = s.Spawn("supervisor", l.supervise)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("creating supervisor: %w", err)
	}

	l.workload, err = workload.New(workload.Config{
		Seed:     conf.Seed,
		Threads:  conf.Threads,
		Steps:    conf.Steps,
		MaxSleep: conf.MaxSleep,
		Vector:   workloadVector,
	})
	if err == nil {
		err = l.workload.Install(s, l.injector)
	}
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("creating workload: %w", err)
	}

	if conf.ControlSocket != "" {
		l.control = control.NewServer(conf.ControlSocket, control.Target{
			Scheduler:  s,
			CPU:        l.cpu,
			Alloc:      l.region,
			Injector:   l.injector,
			OnShutdown: l.RequestStop,
		})
	}

	log.Infof("boot: %s platform, %d threads, seed %d", conf.Platform, conf.Threads, conf.Seed)
	return l, nil
}

// haltMeter sums the virtual time skipped by halts. The virtual clock only
// advances while the CPU halts.
type haltMeter struct {
	ns int64
}

// OnTimeAdvance implements time.TimeListener.
func (m *haltMeter) OnTimeAdvance(now, delta int64) {
	m.ns += delta
}

// Scheduler returns the loader's scheduler.
func (l *Loader) Scheduler() *sched.Scheduler {
	return l.sched
}

// RequestStop asks the running threads to stop. It may be called from any
// goroutine.
func (l *Loader) RequestStop() {
	l.cpu.Raise(StopVector)
}

// handleStop runs in interrupt context.
func (l *Loader) handleStop(lcpu.Vector) {
	l.stopRequested = true
	l.sched.Wake(l.supervisor)
}

// supervise is the body of the supervisor thread, which stops the CPU on
// request.
func (l *Loader) supervise() {
	for !l.stopRequested {
		l.sched.Block()
	}
	log.Infof("boot: stop requested at %d", l.cpu.Now())
	l.sched.Stop()
}

// Run runs the CPU until the workload completes or a stop is requested,
// then tears it down. includeTrace adds the workload trace to the report.
func (l *Loader) Run(includeTrace bool) (*Report, error) {
	if l.ran {
		return nil, fmt.Errorf("loader already ran")
	}
	l.ran = true

	if l.control != nil {
		if err := l.control.Start(); err != nil {
			l.sched.Shutdown()
			return nil, err
		}
		defer l.control.Stop()
	}

	if l.clock != nil {
		l.clock.AddListener(&l.halted)
	}
	start := gotime.Now()
	l.sched.Start()
	elapsed := gotime.Since(start)
	endNS := l.cpu.Now()
	if l.clock != nil {
		l.clock.RemoveListener(&l.halted)
	}
	l.sched.Shutdown()

	sum := l.workload.Summary()
	r := &Report{
		Platform:  l.conf.Platform,
		Seed:      l.conf.Seed,
		Finished:  sum.Finished,
		EndNS:     endNS,
		Elapsed:   elapsed,
		Workload:  sum,
		Scheduler: l.sched.Stats(),
		CPU:       l.cpu.Stats(),
		Alloc:     l.region.Stats(),
		Switches:  l.switcher.Switches(),
		HaltedNS:  l.halted.ns,
	}
	if l.injector != nil {
		r.DroppedInterrupts = l.injector.Pending()
		if r.DroppedInterrupts > 0 {
			log.Infof("boot: dropping %d planned interrupts", r.DroppedInterrupts)
			l.injector.ClearScheduled()
		}
		stats := l.injector.GetStats()
		r.Injector = &stats
	}
	if includeTrace {
		r.Trace = l.workload.Trace()
	}
	if r.Alloc.CurBytes != 0 {
		log.Warningf("boot: %d bytes still allocated after shutdown", r.Alloc.CurBytes)
	}
	return r, nil
}
