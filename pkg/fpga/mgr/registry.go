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

// Package mgr implements the FPGA manager core: the programming state
// machine, image source adapters and the registry of managers.
package mgr

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/platinasystems/fdt"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/dmabuf"
	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
)

// Registry owns manager instance numbers and publishes registered managers.
type Registry struct {
	logger   logr.Logger
	firmware firmware.Loader
	dmabufs  *dmabuf.Exporter

	ids      map[int]*Manager
	managers map[int]*Manager
	mutex    sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger managers derive theirs from.
func WithLogger(logger logr.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFirmwareLoader sets the loader used for firmware sources.
func WithFirmwareLoader(l firmware.Loader) Option {
	return func(r *Registry) {
		r.firmware = l
	}
}

// WithDmaBufExporter sets the exporter dma-buf handles are resolved with.
func WithDmaBufExporter(e *dmabuf.Exporter) Option {
	return func(r *Registry) {
		r.dmabufs = e
	}
}

// NewRegistry returns an empty registry. Without options firmware is read
// from the default search path and dma-buf sources are not supported.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:   klog.Background().WithName("fpga-manager"),
		firmware: firmware.NewDirLoader(),
		ids:      make(map[int]*Manager),
		managers: make(map[int]*Manager),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create validates ops and allocates a manager with the lowest free
// instance number. The manager isn't visible until Register.
func (r *Registry) Create(dev *Device, name string, ops Ops, priv interface{}) (*Manager, error) {
	if dev == nil {
		return nil, errors.Wrap(ErrNoDevice, "attempt to create without parent device")
	}

	if ops == nil {
		return nil, errors.Wrapf(ErrInvalidOps, "%s: no ops", dev.Name)
	}

	if name == "" {
		return nil, errors.Wrap(ErrNoName, dev.Name)
	}

	m := &Manager{
		ops:  ops,
		priv: priv,
		dev:  dev,
		reg:  r,
		name: name,
	}

	m.bufw, _ = ops.(BufferWriter)
	m.sgw, _ = ops.(SGWriter)

	if (m.bufw == nil) == (m.sgw == nil) {
		return nil, errors.Wrapf(ErrInvalidOps, "%s: driver must implement exactly one of Write and WriteSG", name)
	}

	m.status, _ = ops.(StatusReader)
	m.reader, _ = ops.(Reader)
	m.remover, _ = ops.(Remover)

	if hs, ok := ops.(HeaderSizer); ok {
		m.header = hs.InitialHeaderSize()
	}

	if cs, ok := ops.(ChunkSizer); ok {
		m.chunk = cs.WriteChunkSize()
	}

	if m.header < 0 || m.chunk < 0 {
		return nil, errors.Wrapf(ErrInvalidOps, "%s: negative header or chunk size", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := 0
	for r.ids[id] != nil {
		id++
	}

	m.id = id
	r.ids[id] = m
	m.logger = r.logger.WithValues("device", m.DevName(), "name", name)

	return m, nil
}

// Register seeds the manager state from the driver and publishes it. If
// another manager already serves the same device the instance number is
// released and the manager can't be reused.
func (r *Registry) Register(m *Manager) error {
	r.mutex.RLock()
	owned, published := r.ids[m.id] == m, r.managers[m.id] == m
	r.mutex.RUnlock()

	if !owned {
		return errors.Wrapf(ErrNoDevice, "%s was not created by this registry", m.DevName())
	}

	if published {
		return errors.Wrap(ErrExists, m.DevName())
	}

	m.setState(m.ops.State(m))

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, other := range r.managers {
		if other.dev == m.dev {
			delete(r.ids, m.id)
			return errors.Wrapf(ErrExists, "%s already manages %s", other.DevName(), m.dev.Name)
		}
	}

	r.managers[m.id] = m

	m.logger.Info("registered")

	return nil
}

// Unregister withdraws a registered manager and calls the driver's Remove
// hook. Managers that aren't registered are left alone.
func (r *Registry) Unregister(m *Manager) {
	r.mutex.Lock()
	published := r.managers[m.id] == m
	if published {
		delete(r.managers, m.id)
	}
	r.mutex.Unlock()

	if !published {
		return
	}

	m.logger.V(1).Info("unregistering")

	if m.remover != nil {
		m.remover.Remove(m)
	}
}

// Free releases the instance number of an unregistered manager.
func (r *Registry) Free(m *Manager) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.managers[m.id] == m {
		m.logger.Error(ErrBusy, "freeing a registered manager")
		return
	}

	if r.ids[m.id] == m {
		delete(r.ids, m.id)
	}
}

// Find returns the registered manager with instance number id.
func (r *Registry) Find(id int) (*Manager, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, ok := r.managers[id]
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "fpga%d", id)
	}

	return m, nil
}

// FindByName returns the first registered manager, by instance number,
// with the given name.
func (r *Registry) FindByName(name string) (*Manager, error) {
	for _, m := range r.List() {
		if m.name == name {
			return m, nil
		}
	}

	return nil, errors.Wrap(ErrNoDevice, name)
}

// List returns the registered managers ordered by instance number.
func (r *Registry) List() []*Manager {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	list := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		list = append(list, m)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	return list
}

func (r *Registry) get(match func(*Manager) bool, what string) (*Manager, error) {
	for _, m := range r.List() {
		if !match(m) {
			continue
		}

		if !m.dev.Owner.TryGet() {
			return nil, errors.Wrapf(ErrNoDevice, "%s: module %s is unloading", m.DevName(), m.dev.Owner.Name())
		}

		return m, nil
	}

	return nil, errors.Wrap(ErrNoDevice, what)
}

// Get returns the manager registered for dev and pins its driver module.
// The caller must Put it.
func (r *Registry) Get(dev *Device) (*Manager, error) {
	if dev == nil {
		return nil, errors.Wrap(ErrNoDevice, "nil device")
	}

	return r.get(func(m *Manager) bool { return m.dev == dev }, dev.Name)
}

// GetByOFNode is Get for the device described by a device tree node.
func (r *Registry) GetByOFNode(node *fdt.Node) (*Manager, error) {
	if node == nil {
		return nil, errors.Wrap(ErrNoDevice, "nil device tree node")
	}

	return r.get(func(m *Manager) bool { return m.dev.OFNode == node }, node.Name)
}

// Put releases a manager returned by Get or GetByOFNode.
func (r *Registry) Put(m *Manager) {
	m.dev.Owner.Put()
}

// Close unregisters and frees every manager.
func (r *Registry) Close() {
	for _, m := range r.List() {
		r.Unregister(m)
		r.Free(m)
	}
}
