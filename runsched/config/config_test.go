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

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/runsc/flag"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return fs
}

func TestFromFlagsDefaults(t *testing.T) {
	conf, err := FromFlags(newFlagSet(t))
	if err != nil {
		t.Fatalf("FromFlags failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), *conf); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	conf, err := FromFlags(newFlagSet(t,
		"--platform=host",
		"--seed=42",
		"--max-idle-slice=2s",
		"--threads=8",
		"--max-sleep=1ms",
		"--spurious-irq=0.25",
		"--control-socket=/tmp/sched.sock",
		"--log-format=json",
		"--debug",
	))
	if err != nil {
		t.Fatalf("FromFlags failed: %v", err)
	}

	want := DefaultConfig()
	want.Platform = PlatformHost
	want.Seed = 42
	want.MaxIdleSlice = 2 * time.Second
	want.Threads = 8
	want.MaxSleep = time.Millisecond
	want.SpuriousProbability = 0.25
	want.ControlSocket = "/tmp/sched.sock"
	want.LogFormat = "json"
	want.Debug = true
	if diff := cmp.Diff(want, *conf); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"platform", func(c *Config) { c.Platform = "kvm" }},
		{"idle slice", func(c *Config) { c.MaxIdleSlice = 0 }},
		{"ectx", func(c *Config) { c.ECtxSize = 1 }},
		{"tls", func(c *Config) { c.TLSSize = -1 }},
		{"threads", func(c *Config) { c.Threads = 0 }},
		{"steps", func(c *Config) { c.Steps = -1 }},
		{"sleep", func(c *Config) { c.MaxSleep = 0 }},
		{"spurious", func(c *Config) { c.SpuriousProbability = 1.5 }},
		{"always spurious", func(c *Config) { c.SpuriousProbability = 1 }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := DefaultConfig()
			tc.mutate(&conf)
			if err := conf.Validate(); !errors.Is(err, linuxerr.EINVAL) {
				t.Errorf("Validate() = %v, want EINVAL", err)
			}
		})
	}
}
