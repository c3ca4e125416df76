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

// Binary runsched runs workloads on a cooperative single-CPU scheduler.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/runsc/flag"

	"github.com/unikraft/schedcoop/runsched/cmd"
	"github.com/unikraft/schedcoop/runsched/config"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.State), "")

	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	conf, err := config.FromFlags(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runsched: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	log.SetTarget(newEmitter(conf.LogFormat, os.Stderr))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	default:
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
	}
}
