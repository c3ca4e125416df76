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

package control

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/unikraft/schedcoop/pkg/lcpu"
	"github.com/unikraft/schedcoop/pkg/sched"
)

// Client issues commands to a Server. It is not safe for concurrent use.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
}

// Dial connects to the server listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: connecting to %s: %w", socketPath, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a command with the optional request data and decodes the
// response data into resp if it is non-nil.
func (c *Client) Call(cmdType string, req, resp any) error {
	cmd := Command{Type: cmdType}
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("control: encoding %s request: %w", cmdType, err)
		}
		cmd.Data = data
	}
	if err := c.encoder.Encode(cmd); err != nil {
		return fmt.Errorf("control: sending %s: %w", cmdType, err)
	}

	var r Response
	if err := c.decoder.Decode(&r); err != nil {
		return fmt.Errorf("control: reading %s response: %w", cmdType, err)
	}
	if r.Status != statusOK {
		return fmt.Errorf("control: %s failed: %s", cmdType, r.Error)
	}
	if resp != nil && len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, resp); err != nil {
			return fmt.Errorf("control: decoding %s response: %w", cmdType, err)
		}
	}
	return nil
}

// GetState returns the scheduler's published state.
func (c *Client) GetState() (sched.State, error) {
	var st sched.State
	err := c.Call(CmdGetState, nil, &st)
	return st, err
}

// GetStats returns the scheduler, CPU and allocator counters.
func (c *Client) GetStats() (StatsResponse, error) {
	var st StatsResponse
	err := c.Call(CmdGetStats, nil, &st)
	return st, err
}

// RaiseInterrupt raises v on the target CPU.
func (c *Client) RaiseInterrupt(v lcpu.Vector) error {
	return c.Call(CmdRaiseInterrupt, RaiseInterruptRequest{Vector: v}, nil)
}

// Shutdown asks the target to stop.
func (c *Client) Shutdown() error {
	return c.Call(CmdShutdown, nil, nil)
}
