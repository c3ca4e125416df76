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

package arch

import (
	"fmt"
)

// ExtendedState saves and restores the extended CPU state (floating point
// and vector registers) that the context switch primitive does not cover.
type ExtendedState interface {
	// Size is the number of bytes a save area needs.
	Size() int

	// Init prepares a fresh save area so that loading it yields the
	// architectural reset state.
	Init(buf []byte)

	// Store saves the live registers into buf.
	Store(buf []byte)

	// Load replaces the live registers with the contents of buf.
	Load(buf []byte)
}

// fpuDefaultControlWord is the x87 control word after FNINIT.
const fpuDefaultControlWord = 0x037f

// SimulatedFPU is an ExtendedState over an in-memory register file. Threads
// use Registers to read and write "their" FPU state; the scheduler keeps
// each thread's view separate across switches.
//
// Only the thread currently holding the CPU may touch the register file.
type SimulatedFPU struct {
	regs []byte
}

// NewSimulatedFPU creates a register file of size bytes. size must hold at
// least the control word.
func NewSimulatedFPU(size int) *SimulatedFPU {
	if size < 2 {
		panic(fmt.Sprintf("arch: FPU save area of %d bytes is too small", size))
	}
	f := &SimulatedFPU{regs: make([]byte, size)}
	f.Init(f.regs)
	return f
}

// Size implements ExtendedState.Size.
func (f *SimulatedFPU) Size() int {
	return len(f.regs)
}

// Init implements ExtendedState.Init.
func (f *SimulatedFPU) Init(buf []byte) {
	f.checkArea(buf)
	clear(buf)
	buf[0] = byte(fpuDefaultControlWord & 0xff)
	buf[1] = byte(fpuDefaultControlWord >> 8)
}

// Store implements ExtendedState.Store.
func (f *SimulatedFPU) Store(buf []byte) {
	f.checkArea(buf)
	copy(buf, f.regs)
}

// Load implements ExtendedState.Load.
func (f *SimulatedFPU) Load(buf []byte) {
	f.checkArea(buf)
	copy(f.regs, buf)
}

// Registers returns the live register file.
func (f *SimulatedFPU) Registers() []byte {
	return f.regs
}

// ControlWord returns the live control word.
func (f *SimulatedFPU) ControlWord() uint16 {
	return uint16(f.regs[0]) | uint16(f.regs[1])<<8
}

func (f *SimulatedFPU) checkArea(buf []byte) {
	if len(buf) < len(f.regs) {
		panic(fmt.Sprintf("arch: FPU save area is %d bytes, need %d", len(buf), len(f.regs)))
	}
}

// Verify interface compliance.
var _ ExtendedState = (*SimulatedFPU)(nil)
