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
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

// TLSLayout describes the thread-local storage image every thread starts
// with: Template is copied to the start of the area (.tdata) and the rest
// up to Size is zeroed (.tbss).
type TLSLayout struct {
	Size     int
	Template []byte
}

// Enabled reports whether threads get a TLS area at all.
func (l TLSLayout) Enabled() bool {
	return l.Size > 0
}

// Init initializes a TLS area for a new thread.
func (l TLSLayout) Init(area []byte) error {
	if len(area) < l.Size || len(l.Template) > l.Size {
		return linuxerr.EINVAL
	}
	n := copy(area, l.Template)
	clear(area[n:])
	return nil
}
