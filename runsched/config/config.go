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

// Package config holds the configuration of the runsched binary.
package config

import (
	"fmt"
	"time"

	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/runsc/flag"
)

// Platforms.
const (
	// PlatformVirtual runs on virtual time: halts jump the clock forward
	// and runs are reproducible for a given seed.
	PlatformVirtual = "virtual"

	// PlatformHost runs on the host monotonic clock.
	PlatformHost = "host"
)

// Config is the runsched configuration.
type Config struct {
	// Platform is PlatformVirtual or PlatformHost.
	Platform string

	// Seed seeds the workload generator and interrupt injector.
	Seed uint64

	// MaxIdleSlice bounds a single CPU halt.
	MaxIdleSlice time.Duration

	// HeapSize is the allocator budget in bytes.
	HeapSize uint64

	// ECtxSize is the size of the simulated FPU save area. Zero disables
	// extended state.
	ECtxSize int

	// TLSSize is the size of each thread's TLS area. Zero disables TLS.
	TLSSize int

	// Threads, Steps and MaxSleep shape the workload.
	Threads  int
	Steps    int
	MaxSleep time.Duration

	// SpuriousProbability is the chance that a virtual halt is cut short
	// by a spurious interrupt.
	SpuriousProbability float64

	// ControlSocket is the path of the control socket. Empty disables the
	// control server.
	ControlSocket string

	// LogFormat is "text" or "json".
	LogFormat string

	// Debug enables debug logging.
	Debug bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Platform:     PlatformVirtual,
		Seed:         1,
		MaxIdleSlice: 10 * time.Second,
		HeapSize:     1 << 20,
		ECtxSize:     512,
		TLSSize:      0,
		Threads:      4,
		Steps:        16,
		MaxSleep:     10 * time.Millisecond,
		LogFormat:    "text",
	}
}

// RegisterFlags registers the configuration flags.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := DefaultConfig()
	flagSet.String("platform", d.Platform, "CPU platform: virtual (virtual time, reproducible) or host (host monotonic clock).")
	flagSet.Uint64("seed", d.Seed, "seed for the workload generator and interrupt injector. Same seed produces identical runs on the virtual platform.")
	flagSet.Duration("max-idle-slice", d.MaxIdleSlice, "upper bound of a single CPU halt when no deadline is pending.")
	flagSet.Uint64("heap-size", d.HeapSize, "allocator budget in bytes for thread state areas.")
	flagSet.Int("ectx-size", d.ECtxSize, "size in bytes of the extended CPU state save area. 0 disables it.")
	flagSet.Int("tls-size", d.TLSSize, "size in bytes of each thread's TLS area. 0 disables it.")
	flagSet.Int("threads", d.Threads, "number of workload threads.")
	flagSet.Int("steps", d.Steps, "number of steps in each workload thread.")
	flagSet.Duration("max-sleep", d.MaxSleep, "upper bound of workload sleeps and interrupt waits.")
	flagSet.Float64("spurious-irq", d.SpuriousProbability, "probability in [0, 1) of a spurious interrupt on each virtual halt.")
	flagSet.String("control-socket", d.ControlSocket, "path of the control socket. Empty disables the control server.")
	flagSet.String("log-format", d.LogFormat, "log format: text or json.")
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
}

// FromFlags creates a Config from flags registered by RegisterFlags.
func FromFlags(flagSet *flag.FlagSet) (*Config, error) {
	get := func(name string) any {
		return flag.Get(flagSet.Lookup(name).Value)
	}
	conf := &Config{
		Platform:            get("platform").(string),
		Seed:                get("seed").(uint64),
		MaxIdleSlice:        get("max-idle-slice").(time.Duration),
		HeapSize:            get("heap-size").(uint64),
		ECtxSize:            get("ectx-size").(int),
		TLSSize:             get("tls-size").(int),
		Threads:             get("threads").(int),
		Steps:               get("steps").(int),
		MaxSleep:            get("max-sleep").(time.Duration),
		SpuriousProbability: get("spurious-irq").(float64),
		ControlSocket:       get("control-socket").(string),
		LogFormat:           get("log-format").(string),
		Debug:               get("debug").(bool),
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Platform != PlatformVirtual && c.Platform != PlatformHost:
		return fmt.Errorf("invalid platform %q: %w", c.Platform, linuxerr.EINVAL)
	case c.MaxIdleSlice <= 0:
		return fmt.Errorf("max idle slice must be positive, got %v: %w", c.MaxIdleSlice, linuxerr.EINVAL)
	case c.ECtxSize != 0 && c.ECtxSize < 2:
		return fmt.Errorf("extended state area of %d bytes is too small: %w", c.ECtxSize, linuxerr.EINVAL)
	case c.TLSSize < 0:
		return fmt.Errorf("negative TLS size %d: %w", c.TLSSize, linuxerr.EINVAL)
	case c.Threads <= 0 || c.Steps < 0 || c.MaxSleep <= 0:
		return fmt.Errorf("invalid workload shape: %d threads, %d steps, max sleep %v: %w", c.Threads, c.Steps, c.MaxSleep, linuxerr.EINVAL)
	case c.SpuriousProbability < 0 || c.SpuriousProbability >= 1:
		return fmt.Errorf("spurious interrupt probability %v out of range: %w", c.SpuriousProbability, linuxerr.EINVAL)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("invalid log format %q: %w", c.LogFormat, linuxerr.EINVAL)
	}
	return nil
}
