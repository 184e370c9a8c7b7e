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

//go:build linux
// +build linux

package main

import (
	"os"
	"path"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	utilsexec "k8s.io/utils/exec"

	"github.com/intel/intel-fpga-manager/internal/config"
	"github.com/intel/intel-fpga-manager/internal/devicetree"
	"github.com/intel/intel-fpga-manager/pkg/fpga/dmabuf"
	"github.com/intel/intel-fpga-manager/pkg/fpga/drivers/dfl"
	"github.com/intel/intel-fpga-manager/pkg/fpga/drivers/sysfs"
	"github.com/intel/intel-fpga-manager/pkg/fpga/drivers/tool"
	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

// app is the set of managers a command operates on.
type app struct {
	reg      *mgr.Registry
	loader   *firmware.DirLoader
	cache    *firmware.CachingLoader
	exporter *dmabuf.Exporter
	tree     *devicetree.Tree
	closers  []func() error
}

type appOptions struct {
	execer    utilsexec.Interface
	sysfsRoot string
}

func loadConfig(file string) (*config.Config, error) {
	if file != "" {
		return config.Load(file)
	}

	if _, err := os.Stat(config.DefaultPath); err == nil {
		return config.Load(config.DefaultPath)
	}

	return config.Default(), nil
}

func newApp(cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{
		loader:   firmware.NewDirLoader(cfg.FirmwareOptions()...),
		exporter: dmabuf.NewExporter(),
	}

	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var loader firmware.Loader = a.loader

	if cfg.CacheFirmware {
		if a.cache, err = firmware.NewCachingLoader(a.loader, a.loader.Paths()...); err != nil {
			return nil, err
		}

		a.closers = append(a.closers, a.cache.Close)
		loader = a.cache
	}

	if cfg.DeviceTree != "" {
		if a.tree, err = devicetree.Load(cfg.DeviceTree); err != nil {
			return nil, err
		}
	}

	a.reg = mgr.NewRegistry(
		mgr.WithFirmwareLoader(loader),
		mgr.WithDmaBufExporter(a.exporter),
	)

	if len(cfg.Managers) == 0 {
		if err = a.discover(opts.sysfsRoot); err != nil {
			return nil, err
		}

		return a, nil
	}

	for i := range cfg.Managers {
		if err = a.add(&cfg.Managers[i], opts); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// discover registers every kernel fpga_manager found below root.
func (a *app) discover(root string) error {
	infos, err := sysfs.Discover(root)
	if err != nil {
		return err
	}

	for _, info := range infos {
		name := info.Name
		if name == "" {
			name = info.DevName
		}

		dev := &mgr.Device{Name: info.DevName}

		if a.tree != nil && info.OFFullName != "" {
			node, err := a.tree.Find(path.Base(info.OFFullName))
			if err != nil {
				klog.Warningf("%s: %v", info.DevName, err)
			}

			dev.OFNode = node
		}

		if err := a.register(dev, name, sysfs.New(info.Dir), nil, 0); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) add(entry *config.Manager, opts appOptions) error {
	dev := &mgr.Device{Name: entry.Path}
	if dev.Name == "" {
		dev.Name = entry.Name
	}

	if entry.OFNode != "" {
		if a.tree == nil {
			return errors.Errorf("manager %q: ofNode set but no device tree configured", entry.Name)
		}

		node, err := a.tree.Find(entry.OFNode)
		if err != nil {
			return errors.WithMessagef(err, "manager %q", entry.Name)
		}

		dev.OFNode = node
	}

	flags, err := entry.ImageFlags()
	if err != nil {
		return err
	}

	var (
		ops  mgr.Ops
		priv interface{}
	)

	switch entry.Driver {
	case config.DriverSysfs:
		var sopts []sysfs.Option
		if entry.StagingDir != "" {
			sopts = append(sopts, sysfs.WithStagingDir(entry.StagingDir))
		}

		if entry.ConfigCompleteTimeout() > 0 {
			sopts = append(sopts, sysfs.WithTimeout(entry.ConfigCompleteTimeout()))
		}

		ops = sysfs.New(entry.Path, sopts...)
	case config.DriverDFL:
		dopts := []dfl.Option{dfl.WithPort(entry.Port)}
		if entry.SysfsPath != "" {
			dopts = append(dopts, dfl.WithSysfsPath(entry.SysfsPath))
		}

		d, err := dfl.New(entry.Path, dopts...)
		if err != nil {
			return errors.WithMessagef(err, "manager %q", entry.Name)
		}

		a.closers = append(a.closers, d.Close)
		ops, priv = d, d
	case config.DriverTool:
		topts := []tool.Option{}
		if opts.execer != nil {
			topts = append(topts, tool.WithExec(opts.execer))
		}

		if entry.StagingDir != "" {
			topts = append(topts, tool.WithStagingDir(entry.StagingDir))
		}

		d, err := tool.New(tool.Programmer{Command: entry.Command, Args: entry.Args}, topts...)
		if err != nil {
			return errors.WithMessagef(err, "manager %q", entry.Name)
		}

		ops = d
	default:
		return errors.Errorf("manager %q: unknown driver %q", entry.Name, entry.Driver)
	}

	return a.register(dev, entry.Name, ops, priv, flags)
}

func (a *app) register(dev *mgr.Device, name string, ops mgr.Ops, priv interface{}, flags mgr.Flags) error {
	m, err := a.reg.Create(dev, name, ops, priv)
	if err != nil {
		return err
	}

	m.SetFlags(flags)

	if err := a.reg.Register(m); err != nil {
		a.reg.Free(m)
		return err
	}

	return nil
}

func (a *app) close() {
	if a.reg != nil {
		a.reg.Close()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			klog.Warningf("close: %v", err)
		}
	}
}
