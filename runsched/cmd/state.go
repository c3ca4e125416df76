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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/runsc/flag"

	"github.com/unikraft/schedcoop/pkg/control"
	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/runsched/config"
)

// State implements subcommands.Command for the "state" command.
type State struct {
	// action is the control action to perform.
	action string

	// vector is the interrupt to raise (for "raise" action).
	vector uint
}

// Name implements subcommands.Command.
func (*State) Name() string {
	return "state"
}

// Synopsis implements subcommands.Command.
func (*State) Synopsis() string {
	return "inspect or control a running scheduler"
}

// Usage implements subcommands.Command.
func (*State) Usage() string {
	return `state [flags] [control socket]

Talks to a scheduler started with --control-socket. The socket defaults to
the global --control-socket flag. Actions:
  state    - print the scheduler state
  stats    - print scheduler, CPU and allocator counters
  raise    - raise an interrupt
  shutdown - stop the running threads
`
}

// SetFlags implements subcommands.Command.
func (s *State) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.action, "action", "state", "control action: state, stats, raise, shutdown")
	f.UintVar(&s.vector, "vector", 0, "interrupt vector to raise (for raise action)")
}

// Execute implements subcommands.Command.Execute.
func (s *State) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	socket := conf.ControlSocket
	switch f.NArg() {
	case 0:
	case 1:
		socket = f.Arg(0)
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	if socket == "" {
		return Errorf("no control socket given")
	}

	c, err := control.Dial(socket)
	if err != nil {
		return Errorf("%v", err)
	}
	defer c.Close()

	switch s.action {
	case "state":
		st, err := c.GetState()
		if err != nil {
			return Errorf("getting state: %v", err)
		}
		return printJSON(st)
	case "stats":
		st, err := c.GetStats()
		if err != nil {
			return Errorf("getting stats: %v", err)
		}
		return printJSON(st)
	case "raise":
		if err := c.RaiseInterrupt(lcpu.Vector(s.vector)); err != nil {
			return Errorf("raising interrupt: %v", err)
		}
		fmt.Printf("raised vector %#x\n", s.vector)
		return subcommands.ExitSuccess
	case "shutdown":
		if err := c.Shutdown(); err != nil {
			return Errorf("shutting down: %v", err)
		}
		fmt.Println("shutdown requested")
		return subcommands.ExitSuccess
	default:
		return Errorf("unknown action: %s", s.action)
	}
}

func printJSON(v any) subcommands.ExitStatus {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Errorf("encoding output: %v", err)
	}
	fmt.Println(string(out))
	return subcommands.ExitSuccess
}
