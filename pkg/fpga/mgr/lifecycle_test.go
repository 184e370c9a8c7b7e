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

package mgr_test

import (
	"bytes"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

// loopback keeps the last image written and reads it back.
type loopback struct {
	image   bytes.Buffer
	removed bool
	mutex   sync.Mutex
}

func (l *loopback) WriteInit(m *mgr.Manager, info *mgr.ImageInfo, header []byte) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if info.Flags&mgr.FlagPartialReconfig == 0 {
		return errors.New("only partial reconfiguration is supported")
	}

	l.image.Reset()

	return nil
}

func (l *loopback) Write(m *mgr.Manager, buf []byte) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.image.Write(buf)

	return nil
}

func (l *loopback) WriteComplete(m *mgr.Manager, info *mgr.ImageInfo) error {
	return nil
}

func (l *loopback) State(m *mgr.Manager) mgr.State {
	return mgr.StatePowerOff
}

func (l *loopback) Read(m *mgr.Manager, w io.Writer) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	_, err := w.Write(l.image.Bytes())

	return err
}

func (l *loopback) Remove(m *mgr.Manager) {
	l.removed = true
}

type mapLoader map[string][]byte

func (ml mapLoader) Request(name, device string) (*firmware.Firmware, error) {
	data, ok := ml[name]
	if !ok {
		return nil, errors.Wrap(firmware.ErrNotFound, name)
	}

	return &firmware.Firmware{Name: name, Data: data}, nil
}

var _ = ginkgo.Describe("Manager lifecycle", func() {
	var (
		registry *mgr.Registry
		driver   *loopback
		module   *mgr.Module
		device   *mgr.Device
		manager  *mgr.Manager
	)

	ginkgo.BeforeEach(func() {
		registry = mgr.NewRegistry(
			mgr.WithLogger(logr.Discard()),
			mgr.WithFirmwareLoader(mapLoader{"pr.rbf": []byte("partial image")}),
		)
		driver = &loopback{}
		module = mgr.NewModule("loopback")
		device = &mgr.Device{Name: "loopback.0", Owner: module}

		var err error

		manager, err = registry.Create(device, "Loopback FPGA Manager", driver, nil)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(registry.Register(manager)).To(gomega.Succeed())
	})

	ginkgo.AfterEach(func() {
		registry.Close()
	})

	ginkgo.It("seeds the state from the driver", func() {
		gomega.Expect(manager.State()).To(gomega.Equal(mgr.StatePowerOff))
		gomega.Expect(manager.DevName()).To(gomega.Equal("fpga0"))
	})

	ginkgo.It("programs persisted firmware and reads it back", func() {
		m, err := registry.Get(device)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer registry.Put(m)

		gomega.Expect(module.Unload()).NotTo(gomega.Succeed())

		m.SetFlags(mgr.FlagPartialReconfig)
		gomega.Expect(m.LoadFirmware("pr.rbf")).To(gomega.Succeed())
		gomega.Expect(m.State()).To(gomega.Equal(mgr.StateOperating))

		var out bytes.Buffer
		gomega.Expect(m.Read(&out)).To(gomega.Succeed())
		gomega.Expect(out.String()).To(gomega.Equal("partial image"))
	})

	ginkgo.It("stops at write init when the driver refuses the flags", func() {
		err := manager.LoadFirmware("pr.rbf")
		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(manager.State()).To(gomega.Equal(mgr.StateWriteInitErr))

		gomega.Expect(manager.Read(io.Discard)).To(gomega.MatchError(mgr.ErrNotOperating))
	})

	ginkgo.It("records a firmware request error for unknown images", func() {
		manager.SetFlags(mgr.FlagPartialReconfig)

		err := manager.LoadFirmware("full.rbf")
		gomega.Expect(errors.Is(err, firmware.ErrNotFound)).To(gomega.BeTrue())
		gomega.Expect(manager.State()).To(gomega.Equal(mgr.StateFirmwareReqErr))

		total, failed := manager.Loads()
		gomega.Expect(total).To(gomega.BeEquivalentTo(1))
		gomega.Expect(failed).To(gomega.BeEquivalentTo(1))
	})

	ginkgo.It("calls the remove hook and withdraws on unregister", func() {
		registry.Unregister(manager)
		registry.Free(manager)

		gomega.Expect(driver.removed).To(gomega.BeTrue())

		_, err := registry.Find(manager.ID())
		gomega.Expect(err).To(gomega.MatchError(mgr.ErrNoDevice))
	})
})
