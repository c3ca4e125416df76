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
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func waitLive(t *testing.T, s *GoroutineSwitcher, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Live() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Live() = %d, want %d", s.Live(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGoroutineSwitcherPingPong(t *testing.T) {
	s := NewGoroutineSwitcher()
	boot := s.Boot()

	var trace []string
	var a, b Context
	var err error
	a, err = s.NewContext(func() {
		for i := 0; i < 3; i++ {
			trace = append(trace, "a")
			s.Switch(a, b)
		}
		s.Switch(a, boot)
		select {}
	})
	if err != nil {
		t.Fatalf("NewContext(a) failed: %v", err)
	}
	b, err = s.NewContext(func() {
		for {
			trace = append(trace, "b")
			s.Switch(b, a)
		}
	})
	if err != nil {
		t.Fatalf("NewContext(b) failed: %v", err)
	}

	s.Switch(boot, a)

	want := []string{"a", "b", "a", "b", "a", "b"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	if got := s.Switches(); got != 8 {
		t.Errorf("Switches() = %d, want 8", got)
	}

	s.Release(a)
	s.Release(b)
	waitLive(t, s, 0)
}

func TestGoroutineSwitcherReleaseUnstarted(t *testing.T) {
	s := NewGoroutineSwitcher()
	c, err := s.NewContext(func() { select {} })
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	waitLive(t, s, 1)
	s.Release(c)
	s.Release(c)
	waitLive(t, s, 0)
}

func TestGoroutineSwitcherSwitchToReleasedPanics(t *testing.T) {
	s := NewGoroutineSwitcher()
	boot := s.Boot()
	c, _ := s.NewContext(func() { select {} })
	s.Release(c)

	defer func() {
		if recover() == nil {
			t.Error("switch to a released context did not panic")
		}
	}()
	s.Switch(boot, c)
}

func TestGoroutineSwitcherNilEntry(t *testing.T) {
	s := NewGoroutineSwitcher()
	if _, err := s.NewContext(nil); err == nil {
		t.Error("NewContext(nil) succeeded")
	}
}

func TestSimulatedFPUStoreLoad(t *testing.T) {
	f := NewSimulatedFPU(16)
	if got := f.ControlWord(); got != fpuDefaultControlWord {
		t.Errorf("initial control word = %#x, want %#x", got, fpuDefaultControlWord)
	}

	saveA := make([]byte, f.Size())
	saveB := make([]byte, f.Size())
	f.Init(saveA)
	f.Init(saveB)

	// Thread A dirties the registers and is switched out.
	f.Load(saveA)
	f.Registers()[8] = 0xaa
	f.Store(saveA)

	// Thread B starts from reset state.
	f.Load(saveB)
	if f.Registers()[8] != 0 {
		t.Errorf("thread B sees register byte %#x, want 0", f.Registers()[8])
	}
	f.Registers()[8] = 0xbb
	f.Store(saveB)

	f.Load(saveA)
	if f.Registers()[8] != 0xaa {
		t.Errorf("thread A register byte = %#x after restore, want 0xaa", f.Registers()[8])
	}
}

func TestSimulatedFPUInitLayout(t *testing.T) {
	f := NewSimulatedFPU(4)
	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	f.Init(buf)
	// Little-endian control word, rest cleared.
	want := []byte{0x7f, 0x03, 0, 0}
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("initialized save area mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulatedFPUShortAreaPanics(t *testing.T) {
	f := NewSimulatedFPU(16)
	defer func() {
		if recover() == nil {
			t.Error("Store into a short area did not panic")
		}
	}()
	f.Store(make([]byte, 4))
}

func TestTLSLayoutInit(t *testing.T) {
	l := TLSLayout{Size: 8, Template: []byte{1, 2, 3}}
	area := bytes.Repeat([]byte{0xff}, 8)
	if err := l.Init(area); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	want := []byte{1, 2, 3, 0, 0, 0, 0, 0}
	if !bytes.Equal(area, want) {
		t.Errorf("TLS area = %v, want %v", area, want)
	}

	if err := l.Init(make([]byte, 4)); err == nil {
		t.Error("Init of a short area succeeded")
	}
	if (TLSLayout{}).Enabled() {
		t.Error("zero layout reports Enabled")
	}
}
