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

// Package lcpu models the logical CPU a scheduler instance runs on: its
// interrupt mask, interrupt delivery, monotonic clock and halt instruction.
//
// Interrupt handlers only ever run on the goroutine that currently owns the
// CPU, either while it halts or at the point it re-enables interrupts. They
// run with interrupts disabled and must not block or switch threads.
package lcpu

import (
	"gvisor.dev/gvisor/pkg/atomicbitops"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/unikraft/schedcoop/pkg/time"
)

// Vector identifies an interrupt source.
type Vector uint32

// SpuriousVector is raised for interrupts that have no cause; handlers for
// it are optional.
const SpuriousVector Vector = 0xff

// IRQFlags is the saved interrupt state returned by SaveIRQ.
type IRQFlags uint32

// IRQEnabled is set in IRQFlags when interrupts were enabled. It mirrors the
// IF bit of the x86 flags register.
const IRQEnabled IRQFlags = 1 << 9

// Handler services an interrupt.
type Handler func(v Vector)

// CPU is a logical CPU.
type CPU interface {
	time.Clock

	// HaltUntil stops the CPU until deadline passes or an interrupt
	// arrives, whichever comes first. Interrupts must be disabled by the
	// caller; pending interrupts are serviced before it returns and they
	// are disabled again on return.
	HaltUntil(deadline int64)

	// SaveIRQ disables interrupts and returns the previous state.
	SaveIRQ() IRQFlags

	// RestoreIRQ restores a state returned by SaveIRQ. Interrupts that
	// arrived in the meantime are serviced if this enables them.
	RestoreIRQ(flags IRQFlags)

	// EnableIRQ unconditionally enables interrupts.
	EnableIRQ()

	// IRQsEnabled reports whether interrupts are enabled.
	IRQsEnabled() bool

	// RegisterHandler installs the handler for v, replacing any previous.
	RegisterHandler(v Vector, h Handler)

	// Raise marks v pending. It may be called from any goroutine.
	Raise(v Vector)
}

// Stats are interrupt and halt counters.
type Stats struct {
	Halts     uint64 `json:"halts"`
	Delivered uint64 `json:"delivered"`
	Unhandled uint64 `json:"unhandled"`
}

// irqController implements the interrupt mask and delivery shared by all
// CPU implementations.
type irqController struct {
	// enabled is only accessed by the goroutine owning the CPU.
	enabled bool

	mu sync.Mutex

	// +checklocks:mu
	handlers map[Vector]Handler

	// +checklocks:mu
	pending []Vector

	// kick is signalled when an interrupt is raised.
	kick chan struct{}

	halts     atomicbitops.Uint64
	delivered atomicbitops.Uint64
	unhandled atomicbitops.Uint64
}

func (c *irqController) init() {
	c.handlers = make(map[Vector]Handler)
	c.kick = make(chan struct{}, 1)
}

// SaveIRQ implements CPU.SaveIRQ.
func (c *irqController) SaveIRQ() IRQFlags {
	var flags IRQFlags
	if c.enabled {
		flags = IRQEnabled
	}
	c.enabled = false
	return flags
}

// RestoreIRQ implements CPU.RestoreIRQ.
func (c *irqController) RestoreIRQ(flags IRQFlags) {
	if flags&IRQEnabled != 0 {
		c.EnableIRQ()
		return
	}
	c.enabled = false
}

// EnableIRQ implements CPU.EnableIRQ.
func (c *irqController) EnableIRQ() {
	c.enabled = true
	c.deliverPending()
}

// IRQsEnabled implements CPU.IRQsEnabled.
func (c *irqController) IRQsEnabled() bool {
	return c.enabled
}

// RegisterHandler implements CPU.RegisterHandler.
func (c *irqController) RegisterHandler(v Vector, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[v] = h
}

// Raise implements CPU.Raise.
func (c *irqController) Raise(v Vector) {
	c.mu.Lock()
	c.pending = append(c.pending, v)
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// hasPending reports whether any interrupt is waiting for delivery.
func (c *irqController) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// deliverPending services pending interrupts in arrival order with
// interrupts disabled, then restores the mask. It returns the number of
// interrupts serviced.
func (c *irqController) deliverPending() int {
	saved := c.enabled
	c.enabled = false
	defer func() { c.enabled = saved }()

	n := 0
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return n
		}
		v := c.pending[0]
		c.pending = c.pending[1:]
		h := c.handlers[v]
		c.mu.Unlock()

		n++
		c.delivered.Add(1)
		if h == nil {
			c.unhandled.Add(1)
			if v != SpuriousVector {
				log.Warningf("lcpu: unhandled interrupt vector %#x", v)
			}
			continue
		}
		h(v)
	}
}

// checkHalt enforces the HaltUntil calling convention.
func (c *irqController) checkHalt() {
	if c.enabled {
		panic("lcpu: HaltUntil called with interrupts enabled")
	}
	c.halts.Add(1)
}

// Stats returns the interrupt counters.
func (c *irqController) Stats() Stats {
	return Stats{
		Halts:     c.halts.Load(),
		Delivered: c.delivered.Load(),
		Unhandled: c.unhandled.Load(),
	}
}
