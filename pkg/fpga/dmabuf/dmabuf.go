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

// Package dmabuf provides reference counted shared buffers that a device can
// attach to and map as scatter-gather tables, mirroring the kernel dma-buf
// attach/map/unmap/detach sequence.
package dmabuf

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

// Direction is the DMA direction a mapping is made for.
type Direction int

// Supported directions.
const (
	Bidirectional Direction = iota
	ToDevice
	FromDevice
)

var (
	// ErrReleased is returned when a buffer is used after its last reference was dropped.
	ErrReleased = errors.New("dma-buf already released")
	// ErrBadHandle is returned for handles the exporter doesn't know.
	ErrBadHandle = errors.New("bad dma-buf handle")
)

// Buffer is a shared memory object. The creator holds the first reference.
type Buffer struct {
	release     func() error
	attachments map[*Attachment]struct{}
	name        string
	data        []byte
	refs        int
	mutex       sync.Mutex
}

// New wraps data in a Buffer holding one reference.
func New(name string, data []byte) *Buffer {
	return &Buffer{
		name:        name,
		data:        data,
		refs:        1,
		attachments: make(map[*Attachment]struct{}),
	}
}

// NewWithRelease is like New but calls release when the last reference is dropped.
func NewWithRelease(name string, data []byte, release func() error) *Buffer {
	b := New(name, data)
	b.release = release

	return b
}

// Name returns the buffer name given at creation.
func (b *Buffer) Name() string {
	return b.name
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Get takes an additional reference.
func (b *Buffer) Get() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.refs == 0 {
		return ErrReleased
	}

	b.refs++

	return nil
}

// Put drops a reference. The backing memory is released with the last one.
func (b *Buffer) Put() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.refs == 0 {
		return ErrReleased
	}

	b.refs--
	if b.refs > 0 || b.release == nil {
		return nil
	}

	return b.release()
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.refs
}

// Attachments returns the number of live attachments.
func (b *Buffer) Attachments() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.attachments)
}

// Attach connects device dev to the buffer.
func (b *Buffer) Attach(dev string) (*Attachment, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.refs == 0 {
		return nil, errors.Wrapf(ErrReleased, "attach %s to %s", dev, b.name)
	}

	a := &Attachment{buf: b, dev: dev}
	b.attachments[a] = struct{}{}

	return a, nil
}

// Attachment is one device's view of a Buffer.
type Attachment struct {
	buf    *Buffer
	mapped *sg.Table
	dev    string
}

// Device returns the attached device name.
func (a *Attachment) Device() string {
	return a.dev
}

// Map returns a scatter-gather table describing the buffer memory.
func (a *Attachment) Map(dir Direction) (*sg.Table, error) {
	if a.mapped != nil {
		return nil, errors.Errorf("%s: attachment of %s is already mapped", a.dev, a.buf.name)
	}

	t, err := sg.FromBuffer(a.buf.data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: map %s", a.dev, a.buf.name)
	}

	a.mapped = t

	return t, nil
}

// Mapped reports whether the attachment has a live mapping.
func (a *Attachment) Mapped() bool {
	return a.mapped != nil
}

// Unmap releases a table returned by Map.
func (a *Attachment) Unmap(t *sg.Table, dir Direction) {
	if t != a.mapped {
		return
	}

	t.Free()
	a.mapped = nil
}

// Detach disconnects the device from the buffer.
func (a *Attachment) Detach() {
	a.buf.mutex.Lock()
	defer a.buf.mutex.Unlock()

	delete(a.buf.attachments, a)
}

// Exporter hands out integer handles for buffers, the way file descriptors
// name dma-bufs shared between drivers.
type Exporter struct {
	bufs  map[int]*Buffer
	next  int
	mutex sync.Mutex
}

// NewExporter returns an empty exporter.
func NewExporter() *Exporter {
	return &Exporter{
		bufs: make(map[int]*Buffer),
		next: 1,
	}
}

// Export publishes b under a new handle. The exporter takes its own reference.
func (e *Exporter) Export(b *Buffer) (int, error) {
	if err := b.Get(); err != nil {
		return -1, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	fd := e.next
	e.next++
	e.bufs[fd] = b

	return fd, nil
}

// Get returns the buffer behind fd with a reference the caller must Put.
func (e *Exporter) Get(fd int) (*Buffer, error) {
	e.mutex.Lock()
	b, ok := e.bufs[fd]
	e.mutex.Unlock()

	if !ok {
		return nil, errors.Wrapf(ErrBadHandle, "fd %d", fd)
	}

	if err := b.Get(); err != nil {
		return nil, errors.Wrapf(err, "fd %d", fd)
	}

	return b, nil
}

// Close withdraws fd and drops the exporter's reference.
func (e *Exporter) Close(fd int) error {
	e.mutex.Lock()
	b, ok := e.bufs[fd]
	delete(e.bufs, fd)
	e.mutex.Unlock()

	if !ok {
		return errors.Wrapf(ErrBadHandle, "fd %d", fd)
	}

	return b.Put()
}
