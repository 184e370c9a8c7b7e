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
	"sync"

	"github.com/pkg/errors"
	"github.com/platinasystems/fdt"
)

// Device is the parent a manager is registered for.
type Device struct {
	// OFNode is the device tree node describing the device, if any.
	OFNode *fdt.Node
	// Owner is the module providing the driver. Nil means built in.
	Owner *Module
	Name  string
}

// Module pins a driver's code while managers it provides are in use.
type Module struct {
	name      string
	refs      int
	unloading bool
	mutex     sync.Mutex
}

// NewModule returns a loaded module.
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name returns the module name.
func (mod *Module) Name() string {
	if mod == nil {
		return ""
	}

	return mod.name
}

// TryGet takes a reference unless the module is being unloaded.
func (mod *Module) TryGet() bool {
	if mod == nil {
		return true
	}

	mod.mutex.Lock()
	defer mod.mutex.Unlock()

	if mod.unloading {
		return false
	}

	mod.refs++

	return true
}

// Put drops a reference taken by TryGet.
func (mod *Module) Put() {
	if mod == nil {
		return
	}

	mod.mutex.Lock()
	defer mod.mutex.Unlock()

	if mod.refs > 0 {
		mod.refs--
	}
}

// Refs returns the number of references held.
func (mod *Module) Refs() int {
	if mod == nil {
		return 0
	}

	mod.mutex.Lock()
	defer mod.mutex.Unlock()

	return mod.refs
}

// Unload marks the module as going away. It fails while references are held.
func (mod *Module) Unload() error {
	if mod == nil {
		return errors.New("built in modules can't be unloaded")
	}

	mod.mutex.Lock()
	defer mod.mutex.Unlock()

	if mod.refs > 0 {
		return errors.Wrapf(ErrBusy, "module %s has %d users", mod.name, mod.refs)
	}

	mod.unloading = true

	return nil
}
