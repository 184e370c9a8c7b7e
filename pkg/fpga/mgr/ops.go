// Copyright 2026 Intel Corporation. All Rights Reserved.
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

package mgr

import (
	"io"

	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

// Ops is the low level driver of a manager. Besides Ops a driver must
// implement exactly one of BufferWriter and SGWriter.
type Ops interface {
	// WriteInit prepares the device for an image. header holds the leading
	// image bytes when the driver is a HeaderSizer, nil otherwise.
	WriteInit(m *Manager, info *ImageInfo, header []byte) error
	// WriteComplete finishes programming after all data was written.
	WriteComplete(m *Manager, info *ImageInfo) error
	// State queries the device state.
	State(m *Manager) State
}

// BufferWriter is implemented by drivers that take the image as flat buffers.
// Write is called sequentially, in image order.
type BufferWriter interface {
	Write(m *Manager, buf []byte) error
}

// SGWriter is implemented by drivers that take the whole scatter-gather table.
type SGWriter interface {
	WriteSG(m *Manager, sgt *sg.Table) error
}

// StatusReader reports the hardware status bits.
type StatusReader interface {
	Status(m *Manager) (Status, error)
}

// Reader reads back the configuration data of an operating device.
type Reader interface {
	Read(m *Manager, w io.Writer) error
}

// Remover is called on Unregister.
type Remover interface {
	Remove(m *Manager)
}

// HeaderSizer declares how many leading image bytes WriteInit needs.
type HeaderSizer interface {
	InitialHeaderSize() int
}

// ChunkSizer limits the size of each Write call on the flat buffer path.
// Zero means the whole image in one call.
type ChunkSizer interface {
	WriteChunkSize() int
}
