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

package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/unikraft/schedcoop/pkg/alloc"
	"github.com/unikraft/schedcoop/pkg/arch"
	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/pkg/sched"
	vtime "github.com/unikraft/schedcoop/pkg/time"
)

type fixture struct {
	server *Server
	s      *sched.Scheduler
	cpu    *lcpu.Virtual
	path   string

	shutdowns atomicbitops.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := os.MkdirTemp("", "schedctl")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	f := &fixture{
		cpu:  lcpu.NewVirtual(vtime.NewVirtualClock(vtime.VirtualClockConfig{}), nil),
		path: filepath.Join(dir, "ctl.sock"),
	}
	region := alloc.NewRegion(1 << 16)
	s, err := sched.New(sched.Config{
		Alloc:        region,
		CPU:          f.cpu,
		Switcher:     arch.NewGoroutineSwitcher(),
		ECtx:         arch.NewSimulatedFPU(64),
		PublishState: true,
	})
	if err != nil {
		t.Fatalf("sched.New failed: %v", err)
	}
	t.Cleanup(s.Shutdown)
	if _, err := s.Spawn("A", func() {}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	f.s = s

	f.server = NewServer(f.path, Target{
		Scheduler:  s,
		CPU:        f.cpu,
		Alloc:      region,
		Injector:   f.cpu.Injector(),
		OnShutdown: func() { f.shutdowns.Add(1) },
	})
	if err := f.server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(f.server.Stop)
	return f
}

func (f *fixture) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(f.path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetState(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	st, err := c.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	want := sched.State{
		Active: []sched.ThreadInfo{
			{ID: 1, Name: "idle", State: sched.ThreadBlocked},
			{ID: 2, Name: "A", State: sched.ThreadRunnable},
		},
		Exited: []sched.ThreadInfo{},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	st, err := c.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.Scheduler.Added != 1 {
		t.Errorf("Added = %d, want 1", st.Scheduler.Added)
	}
	if st.CPU == nil {
		t.Error("CPU stats missing")
	}
	if st.Alloc == nil || st.Alloc.CurBytes != 128 {
		t.Errorf("Alloc stats = %+v, want 128 bytes in use", st.Alloc)
	}
	if st.Injector == nil || st.Injector.Injected != 0 {
		t.Errorf("Injector stats = %+v, want nothing injected", st.Injector)
	}
}

func TestRaiseInterrupt(t *testing.T) {
	f := newFixture(t)
	var got []lcpu.Vector
	f.cpu.RegisterHandler(0x30, func(v lcpu.Vector) { got = append(got, v) })

	c := f.dial(t)
	if err := c.RaiseInterrupt(0x30); err != nil {
		t.Fatalf("RaiseInterrupt failed: %v", err)
	}
	f.cpu.EnableIRQ()

	if diff := cmp.Diff([]lcpu.Vector{0x30}, got); diff != "" {
		t.Errorf("delivered vectors mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	if err := c.Call("Bogus", nil, nil); err == nil {
		t.Error("unknown command succeeded")
	}
	// The connection stays usable.
	if _, err := c.GetStats(); err != nil {
		t.Errorf("GetStats after error failed: %v", err)
	}
}

func TestShutdownOnce(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		c := f.dial(t)
		if err := c.Shutdown(); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	}
	if n := f.shutdowns.Load(); n != 1 {
		t.Errorf("OnShutdown called %d times, want 1", n)
	}
}

func TestStopRemovesSocket(t *testing.T) {
	f := newFixture(t)
	f.server.Stop()
	if _, err := os.Stat(f.path); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
	if _, err := Dial(f.path); err == nil {
		t.Error("Dial succeeded after Stop")
	}
}
