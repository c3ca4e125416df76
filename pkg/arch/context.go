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

// Package arch provides the architecture layer consumed by the scheduler:
// saved execution contexts and the primitive that switches between them,
// extended CPU state save/restore, and thread-local storage images.
//
// On a Go host a "stack" is a goroutine. GoroutineSwitcher parks every
// context that is not executing on a channel so that exactly one of them
// runs at any instant, which is the single logical CPU the scheduler
// expects.
package arch

import (
	"fmt"
	"runtime"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/sync"
)

// Context is the saved execution state of one thread.
type Context interface {
	// ID identifies the context in diagnostics.
	ID() uint64
}

// Switcher creates contexts and transfers execution between them.
type Switcher interface {
	// Boot returns the context of the caller, which has no entry point of
	// its own. It is used to leave the boot path for the first thread.
	Boot() Context

	// NewContext returns a context that begins executing entry the first
	// time it is switched to. entry must never return.
	NewContext(entry func()) (Context, error)

	// Switch saves the caller's state into prev and resumes next. It
	// returns only once prev is switched to again.
	Switch(prev, next Context)

	// Release discards a context that is not executing. A released context
	// must never be switched to.
	Release(c Context)
}

// goroutineContext is a context backed by a parked goroutine.
type goroutineContext struct {
	id uint64

	// resume carries the single execution token.
	resume chan struct{}

	// released is closed by Release.
	released    chan struct{}
	releaseOnce sync.Once
}

// ID implements Context.ID.
func (c *goroutineContext) ID() uint64 {
	return c.id
}

func (c *goroutineContext) isReleased() bool {
	select {
	case <-c.released:
		return true
	default:
		return false
	}
}

// park blocks the calling goroutine until the context is resumed. If the
// context is released instead, the goroutine is terminated.
func (c *goroutineContext) park() {
	select {
	case <-c.resume:
	case <-c.released:
		runtime.Goexit()
	}
}

// GoroutineSwitcher implements Switcher with one goroutine per context.
type GoroutineSwitcher struct {
	nextID   atomicbitops.Uint64
	switches atomicbitops.Uint64
	live     atomicbitops.Int64
}

// NewGoroutineSwitcher creates a new switcher.
func NewGoroutineSwitcher() *GoroutineSwitcher {
	return &GoroutineSwitcher{}
}

func (s *GoroutineSwitcher) newContext() *goroutineContext {
	return &goroutineContext{
		id:       s.nextID.Add(1),
		resume:   make(chan struct{}, 1),
		released: make(chan struct{}),
	}
}

// Boot implements Switcher.Boot.
func (s *GoroutineSwitcher) Boot() Context {
	return s.newContext()
}

// NewContext implements Switcher.NewContext.
func (s *GoroutineSwitcher) NewContext(entry func()) (Context, error) {
	if entry == nil {
		return nil, fmt.Errorf("arch: nil entry point")
	}
	c := s.newContext()
	s.live.Add(1)
	go func() {
		defer s.live.Add(-1)
		c.park()
		entry()
		panic(fmt.Sprintf("arch: entry of context %d returned", c.id))
	}()
	return c, nil
}

// Switch implements Switcher.Switch.
func (s *GoroutineSwitcher) Switch(prev, next Context) {
	p, n := prev.(*goroutineContext), next.(*goroutineContext)
	if p == n {
		panic(fmt.Sprintf("arch: switch from context %d to itself", p.id))
	}
	if n.isReleased() {
		panic(fmt.Sprintf("arch: switch to released context %d", n.id))
	}

	s.switches.Add(1)
	select {
	case n.resume <- struct{}{}:
	default:
		panic(fmt.Sprintf("arch: context %d resumed twice", n.id))
	}
	p.park()
}

// Release implements Switcher.Release.
func (s *GoroutineSwitcher) Release(c Context) {
	gc := c.(*goroutineContext)
	gc.releaseOnce.Do(func() {
		close(gc.released)
	})
}

// Switches returns the number of switches performed.
func (s *GoroutineSwitcher) Switches() uint64 {
	return s.switches.Load()
}

// Live returns the number of context goroutines that have not terminated.
func (s *GoroutineSwitcher) Live() int64 {
	return s.live.Load()
}

// Verify interface compliance.
var _ Switcher = (*GoroutineSwitcher)(nil)
