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

// Package config holds the fpgamgr configuration file format.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"

	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

// DefaultPath is read when no configuration file is given.
const DefaultPath = "/etc/fpgamgr/config.yaml"

// Low-level driver kinds.
const (
	DriverSysfs = "sysfs"
	DriverDFL   = "dfl"
	DriverTool  = "tool"
)

var drivers = sets.New(DriverSysfs, DriverDFL, DriverTool)

// Config is the top level configuration.
type Config struct {
	// FirmwarePath is the firmware root searched after the kernel release
	// specific directories.
	FirmwarePath string `json:"firmwarePath,omitempty"`
	// CustomFirmwarePath is searched before everything else.
	CustomFirmwarePath string `json:"customFirmwarePath,omitempty"`
	// DeviceTree is the flattened device tree blob used to bind managers
	// to their device tree nodes.
	DeviceTree string    `json:"deviceTree,omitempty"`
	Managers   []Manager `json:"managers,omitempty"`
	// CacheFirmware keeps requested images in memory until their files change.
	CacheFirmware bool `json:"cacheFirmware,omitempty"`
	// RawImages disables GBS and AOCX container unwrapping.
	RawImages bool `json:"rawImages,omitempty"`
}

// Manager configures one FPGA manager.
type Manager struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	// Path is the fpga_manager sysfs directory or the DFL FME device node.
	Path string `json:"path,omitempty"`
	// SysfsPath is the DFL FME platform device directory.
	SysfsPath  string `json:"sysfsPath,omitempty"`
	StagingDir string `json:"stagingDir,omitempty"`
	// Flags are the initial image flags, by name or as a hex mask.
	Flags  string `json:"flags,omitempty"`
	OFNode string `json:"ofNode,omitempty"`
	// Command and Args run the external programming tool.
	Command string          `json:"command,omitempty"`
	Args    []string        `json:"args,omitempty"`
	Timeout metav1.Duration `json:"timeout,omitempty"`
	Port    uint32          `json:"port,omitempty"`
}

// Default returns the configuration used without a configuration file.
func Default() *Config {
	return &Config{
		FirmwarePath: firmware.DefaultRoot,
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read configuration %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}

	return cfg, nil
}

// Parse decodes and validates a YAML configuration. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "can't decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	names := sets.New[string]()

	for i := range c.Managers {
		m := &c.Managers[i]

		if m.Name == "" {
			return errors.Errorf("manager #%d has no name", i)
		}

		if names.Has(m.Name) {
			return errors.Errorf("duplicate manager %q", m.Name)
		}

		names.Insert(m.Name)

		if !drivers.Has(m.Driver) {
			return errors.Errorf("manager %q: unknown driver %q, expected one of %v", m.Name, m.Driver, sets.List(drivers))
		}

		switch m.Driver {
		case DriverSysfs, DriverDFL:
			if m.Path == "" {
				return errors.Errorf("manager %q: %s driver needs a path", m.Name, m.Driver)
			}
		case DriverTool:
			if m.Command == "" {
				return errors.Errorf("manager %q: tool driver needs a command", m.Name)
			}
		}

		if _, err := m.ImageFlags(); err != nil {
			return errors.WithMessagef(err, "manager %q", m.Name)
		}

		if m.Timeout.Duration < 0 {
			return errors.Errorf("manager %q: negative timeout %v", m.Name, m.Timeout.Duration)
		}
	}

	return nil
}

// ImageFlags parses the configured initial flags.
func (m *Manager) ImageFlags() (mgr.Flags, error) {
	return mgr.ParseFlags(m.Flags)
}

// ConfigCompleteTimeout returns the configured timeout, zero meaning the
// driver default.
func (m *Manager) ConfigCompleteTimeout() time.Duration {
	return m.Timeout.Duration
}

// FirmwareOptions returns the firmware loader options for the configuration.
func (c *Config) FirmwareOptions() []firmware.Option {
	opts := []firmware.Option{firmware.WithPaths(firmware.DefaultPaths(c.FirmwarePath)...)}

	if c.CustomFirmwarePath != "" {
		opts = append(opts, firmware.WithCustomPath(c.CustomFirmwarePath))
	}

	if c.RawImages {
		opts = append(opts, firmware.WithRawImages())
	}

	return opts
}
