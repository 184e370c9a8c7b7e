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
	"sync"

	"github.com/go-logr/logr"

	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

type call struct {
	op    string
	state State
}

type mockDriver struct {
	initErr     error
	writeErr    error
	completeErr error

	// entered is closed when WriteInit starts, block holds it there.
	entered chan struct{}
	block   chan struct{}

	info    *ImageInfo
	calls   []call
	header  []byte
	written []byte
	sizes   []int
	data    []byte

	initial    State
	status     Status
	headerSize int
	chunkSize  int
	failAt     int

	removed bool
	mutex   sync.Mutex
}

func (d *mockDriver) record(m *Manager, op string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.calls = append(d.calls, call{op: op, state: m.State()})
}

func (d *mockDriver) count(op string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	n := 0

	for _, c := range d.calls {
		if c.op == op {
			n++
		}
	}

	return n
}

func (d *mockDriver) WriteInit(m *Manager, info *ImageInfo, header []byte) error {
	d.record(m, "init")

	d.mutex.Lock()
	d.info = info
	d.header = append([]byte(nil), header...)
	d.mutex.Unlock()

	if d.entered != nil {
		close(d.entered)
	}

	if d.block != nil {
		<-d.block
	}

	return d.initErr
}

func (d *mockDriver) WriteComplete(m *Manager, info *ImageInfo) error {
	d.record(m, "complete")
	return d.completeErr
}

func (d *mockDriver) State(m *Manager) State {
	return d.initial
}

func (d *mockDriver) InitialHeaderSize() int {
	return d.headerSize
}

func (d *mockDriver) WriteChunkSize() int {
	return d.chunkSize
}

func (d *mockDriver) Status(m *Manager) (Status, error) {
	return d.status, nil
}

func (d *mockDriver) Read(m *Manager, w io.Writer) error {
	_, err := w.Write(d.data)
	return err
}

func (d *mockDriver) Remove(m *Manager) {
	d.removed = true
}

func (d *mockDriver) accept(data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.sizes = append(d.sizes, len(data))

	if d.writeErr != nil && len(d.sizes) > d.failAt {
		return d.writeErr
	}

	d.written = append(d.written, data...)

	return nil
}

// bufDriver takes the image as flat buffers.
type bufDriver struct {
	*mockDriver
}

func (d bufDriver) Write(m *Manager, buf []byte) error {
	d.record(m, "write")
	return d.accept(buf)
}

// sgDriver takes the image as a scatter-gather table.
type sgDriver struct {
	*mockDriver
}

func (d sgDriver) WriteSG(m *Manager, sgt *sg.Table) error {
	d.record(m, "write_sg")

	data := make([]byte, sgt.Len())
	sg.CopyToBuffer(sgt, data)

	return d.accept(data)
}

// bareDriver has no optional capabilities.
type bareDriver struct{}

func (bareDriver) WriteInit(*Manager, *ImageInfo, []byte) error { return nil }
func (bareDriver) WriteComplete(*Manager, *ImageInfo) error     { return nil }
func (bareDriver) State(*Manager) State                         { return StatePowerOff }
func (bareDriver) Write(*Manager, []byte) error                 { return nil }

type fakeLoader struct {
	images map[string][]byte
	// seen is the manager state observed when Request ran.
	seen State
	mgr  *Manager
}

func (l *fakeLoader) Request(name, device string) (*firmware.Firmware, error) {
	if l.mgr != nil {
		l.seen = l.mgr.State()
	}

	data, ok := l.images[name]
	if !ok {
		return nil, firmware.ErrNotFound
	}

	return &firmware.Firmware{Name: name, Data: data}, nil
}

func newTestRegistry(opts ...Option) *Registry {
	return NewRegistry(append([]Option{WithLogger(logr.Discard())}, opts...)...)
}

func newTestManager(t interface {
	Helper()
	Fatalf(string, ...interface{})
}, r *Registry, ops Ops) *Manager {
	t.Helper()

	m, err := r.Create(&Device{Name: "test"}, "Test FPGA Manager", ops, nil)
	if err != nil {
		t.Fatalf("create failed: %+v", err)
	}

	if err = r.Register(m); err != nil {
		t.Fatalf("register failed: %+v", err)
	}

	return m
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}

	return data
}
