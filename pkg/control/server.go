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

// Package control serves a running scheduler's state over a Unix socket.
//
// The protocol is a stream of JSON objects: each Command is answered by
// one Response. The server only reads state the scheduler publishes for
// other goroutines and raises interrupts, which are safe from any
// goroutine; it never touches the scheduler directly.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/unikraft/schedcoop/pkg/alloc"
	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/pkg/sched"
)

// Command is a request to the server.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the server's answer to a Command.
type Response struct {
	Status string          `json:"status"` // "ok" or "error"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Command types.
const (
	CmdGetState       = "GetState"
	CmdGetStats       = "GetStats"
	CmdRaiseInterrupt = "RaiseInterrupt"
	CmdShutdown       = "Shutdown"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// RaiseInterruptRequest is the data for RaiseInterrupt.
type RaiseInterruptRequest struct {
	Vector lcpu.Vector `json:"vector"`
}

// StatsResponse is the response for GetStats.
type StatsResponse struct {
	Scheduler sched.Stats  `json:"scheduler"`
	CPU       *lcpu.Stats  `json:"cpu,omitempty"`
	Alloc     *alloc.Stats `json:"alloc,omitempty"`

	// Injector is set when the CPU runs on virtual time.
	Injector *lcpu.InjectorStats `json:"injector,omitempty"`
}

// Target is what the server exposes.
type Target struct {
	// Scheduler must be configured with PublishState.
	Scheduler *sched.Scheduler

	// CPU receives raised interrupts.
	CPU lcpu.CPU

	// Alloc is reported by GetStats if set.
	Alloc *alloc.Region

	// Injector is reported by GetStats if set.
	Injector *lcpu.InterruptInjector

	// OnShutdown is called for the Shutdown command if set.
	OnShutdown func()
}

// cpuStats is implemented by the CPUs in package lcpu.
type cpuStats interface {
	Stats() lcpu.Stats
}

// Server answers commands on a Unix socket.
type Server struct {
	socketPath string
	target     Target
	done       chan struct{}

	mu sync.Mutex

	// +checklocks:mu
	listener net.Listener

	// +checklocks:mu
	shutdownOnce bool
}

// NewServer creates a server for target.
func NewServer(socketPath string, target Target) *Server {
	return &Server{
		socketPath: socketPath,
		target:     target,
		done:       make(chan struct{}),
	}
}

// Start listens on the socket and serves connections in the background.
func (s *Server) Start() error {
	// Remove a stale socket file.
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listening on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Infof("control: listening on %s", s.socketPath)

	go s.acceptLoop(listener)
	return nil
}

// Stop closes the socket. Open connections end with their next command.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Warningf("control: accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var cmd Command
		if err := decoder.Decode(&cmd); err != nil {
			if err != io.EOF {
				log.Warningf("control: decode error: %v", err)
			}
			return
		}

		resp := s.handleCommand(cmd)
		if err := encoder.Encode(resp); err != nil {
			log.Warningf("control: encode error: %v", err)
			return
		}
		if cmd.Type == CmdShutdown {
			return
		}
	}
}

func (s *Server) handleCommand(cmd Command) Response {
	switch cmd.Type {
	case CmdGetState:
		return okResponse(s.target.Scheduler.PublishedState())
	case CmdGetStats:
		return s.handleGetStats()
	case CmdRaiseInterrupt:
		return s.handleRaiseInterrupt(cmd.Data)
	case CmdShutdown:
		return s.handleShutdown()
	default:
		return errorResponse(fmt.Errorf("unknown command: %s", cmd.Type))
	}
}

func (s *Server) handleGetStats() Response {
	resp := StatsResponse{
		Scheduler: s.target.Scheduler.Stats(),
	}
	if cs, ok := s.target.CPU.(cpuStats); ok {
		stats := cs.Stats()
		resp.CPU = &stats
	}
	if s.target.Alloc != nil {
		stats := s.target.Alloc.Stats()
		resp.Alloc = &stats
	}
	if s.target.Injector != nil {
		stats := s.target.Injector.GetStats()
		resp.Injector = &stats
	}
	return okResponse(resp)
}

func (s *Server) handleRaiseInterrupt(data json.RawMessage) Response {
	var req RaiseInterruptRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(err)
	}
	if s.target.CPU == nil {
		return errorResponse(fmt.Errorf("no CPU to interrupt"))
	}
	s.target.CPU.Raise(req.Vector)
	log.Debugf("control: raised vector %#x", req.Vector)
	return okResponse(nil)
}

func (s *Server) handleShutdown() Response {
	s.mu.Lock()
	first := !s.shutdownOnce
	s.shutdownOnce = true
	s.mu.Unlock()

	if first && s.target.OnShutdown != nil {
		log.Infof("control: shutdown requested")
		s.target.OnShutdown()
	}
	return okResponse(nil)
}

func okResponse(v any) Response {
	if v == nil {
		return Response{Status: statusOK}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: statusOK, Data: data}
}

func errorResponse(err error) Response {
	return Response{Status: statusError, Error: err.Error()}
}
