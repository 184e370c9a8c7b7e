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
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Manager sequences a low level driver through programming an FPGA.
type Manager struct {
	ops     Ops
	bufw    BufferWriter
	sgw     SGWriter
	status  StatusReader
	reader  Reader
	remover Remover
	priv    interface{}
	dev     *Device
	reg     *Registry
	logger  logr.Logger
	name    string

	id     int
	header int
	chunk  int

	state    atomic.Int32
	loads    atomic.Uint64
	failures atomic.Uint64

	// lock serializes loads and reads; it is only ever try-locked.
	lock sync.Mutex

	attrMutex sync.Mutex
	flags     Flags
	key       [KeyLen]byte
}

// Name returns the name given at Create.
func (m *Manager) Name() string {
	return m.name
}

// ID returns the instance number allocated at Create.
func (m *Manager) ID() int {
	return m.id
}

// DevName returns the device name, fpga<id>.
func (m *Manager) DevName() string {
	return fmt.Sprintf("fpga%d", m.id)
}

// Parent returns the device the manager was created for.
func (m *Manager) Parent() *Device {
	return m.dev
}

// Priv returns the driver data given at Create.
func (m *Manager) Priv() interface{} {
	return m.priv
}

// Logger returns the manager's logger for use by drivers.
func (m *Manager) Logger() logr.Logger {
	return m.logger
}

// State returns the last recorded state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Flags returns the flags of the last load, or those set with SetFlags.
func (m *Manager) Flags() Flags {
	m.attrMutex.Lock()
	defer m.attrMutex.Unlock()

	return m.flags
}

// SetFlags sets the flags the next LoadFirmware uses.
func (m *Manager) SetFlags(f Flags) {
	m.attrMutex.Lock()
	defer m.attrMutex.Unlock()

	m.flags = f
}

// Key returns the persisted decryption key.
func (m *Manager) Key() [KeyLen]byte {
	m.attrMutex.Lock()
	defer m.attrMutex.Unlock()

	return m.key
}

// SetKey replaces the persisted decryption key. Shorter keys are zero padded.
func (m *Manager) SetKey(key []byte) error {
	if len(key) > KeyLen {
		return errors.Errorf("%s: key is %d bytes, at most %d allowed", m.DevName(), len(key), KeyLen)
	}

	m.attrMutex.Lock()
	defer m.attrMutex.Unlock()

	m.key = [KeyLen]byte{}
	copy(m.key[:], key)

	return nil
}

// persist records the flags and key of the image being loaded.
func (m *Manager) persist(info *ImageInfo) {
	m.attrMutex.Lock()
	defer m.attrMutex.Unlock()

	m.flags = info.Flags
	if info.Flags&FlagUserKeyEncrypted != 0 {
		m.key = info.Key
	}
}

// Loads returns the number of loads attempted and how many of them failed.
func (m *Manager) Loads() (total, failed uint64) {
	return m.loads.Load(), m.failures.Load()
}

// Lock takes exclusive use of the manager. It never waits: if another
// caller holds the lock ErrBusy is returned.
func (m *Manager) Lock() error {
	if !m.lock.TryLock() {
		m.logger.Error(ErrBusy, "FPGA manager is in use.")
		return errors.Wrap(ErrBusy, m.DevName())
	}

	return nil
}

// Unlock releases a lock taken by Lock.
func (m *Manager) Unlock() {
	m.lock.Unlock()
}

// TryLoad is Load under the manager lock.
func (m *Manager) TryLoad(info *ImageInfo) error {
	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()

	return m.Load(info)
}

// LoadFirmware programs the named firmware image using the persisted flags
// and key, under the manager lock.
func (m *Manager) LoadFirmware(name string) error {
	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()

	info := NewImageInfo(m.dev)
	defer info.Free()

	info.FirmwareName = name

	return m.Load(info)
}

// HasStatus reports whether the driver can report status bits.
func (m *Manager) HasStatus() bool {
	return m.status != nil
}

// Status queries the hardware status bits.
func (m *Manager) Status() (Status, error) {
	if m.status == nil {
		return 0, errors.Wrapf(ErrNotSupported, "%s: status", m.DevName())
	}

	return m.status.Status(m)
}

// StatusReport returns the decoded status, one line per error bit.
func (m *Manager) StatusReport() (string, error) {
	s, err := m.Status()
	if err != nil {
		return "", err
	}

	return s.String(), nil
}

// Read writes the configuration data of an operating FPGA to w.
func (m *Manager) Read(w io.Writer) error {
	if m.reader == nil {
		return errors.Wrapf(ErrNotSupported, "%s: read", m.DevName())
	}

	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()

	if s := m.State(); s != StateOperating {
		return errors.Wrapf(ErrNotOperating, "%s: state is %s", m.DevName(), s)
	}

	if err := m.reader.Read(m, w); err != nil {
		m.logger.Error(err, "Error while reading configuration data from FPGA")
		return err
	}

	return nil
}
