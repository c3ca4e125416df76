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
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/runsc/flag"

	"github.com/unikraft/schedcoop/runsched/boot"
	"github.com/unikraft/schedcoop/runsched/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// trace includes the workload trace in the report.
	trace bool

	// output is the report path; empty means stdout.
	output string
}

// Name implements subcommands.Command.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.
func (*Run) Synopsis() string {
	return "run a generated workload on a cooperative scheduler"
}

// Usage implements subcommands.Command.
func (*Run) Usage() string {
	return `run [flags]

Boots one logical CPU with its scheduler, runs the workload shaped by the
global flags until it completes or SIGINT/SIGTERM is received, and prints a
JSON report.
`
}

// SetFlags implements subcommands.Command.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.trace, "trace", false, "include the workload execution trace in the report")
	f.StringVar(&r.output, "output", "", "write the report to this file instead of stdout")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	l, err := boot.New(conf)
	if err != nil {
		return Errorf("booting: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigs:
			l.RequestStop()
		case <-done:
		}
	}()

	report, err := l.Run(r.trace)
	if err != nil {
		return Errorf("running: %v", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Errorf("encoding report: %v", err)
	}
	if r.output == "" {
		fmt.Println(string(out))
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(r.output, append(out, '\n'), 0644); err != nil {
		return Errorf("writing report: %v", err)
	}
	return subcommands.ExitSuccess
}
