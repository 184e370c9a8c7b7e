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

// Package sysfs drives a kernel fpga_manager class device. The image is
// staged as a firmware file and the kernel is asked to program it through
// the firmware attribute.
package sysfs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/firmware"
	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

const (
	// ClassRoot holds one directory per kernel FPGA manager.
	ClassRoot = "/sys/class/fpga_manager"

	defaultPollInterval = 100 * time.Millisecond
	defaultTimeout      = 10 * time.Second
)

// Driver implements mgr.Ops over one fpga_manager sysfs directory.
type Driver struct {
	staging      *os.File
	dir          string
	stageDir     string
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithStagingDir sets the directory images are staged in. It must be on the
// kernel firmware search path.
func WithStagingDir(dir string) Option {
	return func(d *Driver) {
		d.stageDir = dir
	}
}

// WithPollInterval sets how often the state is checked after programming.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.pollInterval = interval
	}
}

// WithTimeout sets the wait for the operating state when the image doesn't
// carry a config complete timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

// New returns a driver for the manager directory dir, e.g. /sys/class/fpga_manager/fpga0.
func New(dir string, opts ...Option) *Driver {
	d := &Driver{
		dir:          dir,
		stageDir:     firmware.DefaultRoot,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dir returns the sysfs directory the driver operates on.
func (d *Driver) Dir() string {
	return d.dir
}

func (d *Driver) readAttr(name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return "", errors.Wrapf(err, "%s: unable to read %q", d.dir, name)
	}

	return strings.TrimSpace(string(b)), nil
}

func (d *Driver) writeAttr(name, value string) error {
	f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "%s: unable to open %q", d.dir, name)
	}

	_, err = f.WriteString(value)
	cerr := f.Close()

	if err != nil {
		return errors.Wrapf(err, "%s: unable to write %q", d.dir, name)
	}

	return errors.Wrapf(cerr, "%s: unable to write %q", d.dir, name)
}

// WriteInit passes the image flags and key to the kernel and opens a
// staging file for the image.
func (d *Driver) WriteInit(m *mgr.Manager, info *mgr.ImageInfo, header []byte) error {
	if err := d.writeAttr("flags", fmt.Sprintf("%x", uint32(info.Flags))); err != nil {
		return err
	}

	if info.Flags&mgr.FlagUserKeyEncrypted != 0 {
		if err := d.writeAttr("key", string(bytes.TrimRight(info.Key[:], "\x00"))); err != nil {
			return err
		}
	}

	d.discard()

	f, err := os.CreateTemp(d.stageDir, "fpgamgr-"+m.DevName()+"-*.bin")
	if err != nil {
		return errors.Wrap(err, "unable to create staging file")
	}

	d.staging = f

	return nil
}

// Write appends to the staged image.
func (d *Driver) Write(m *mgr.Manager, buf []byte) error {
	if d.staging == nil {
		return errors.Errorf("%s: write without write init", m.DevName())
	}

	if _, err := d.staging.Write(buf); err != nil {
		d.discard()
		return errors.WithStack(err)
	}

	return nil
}

// WriteComplete asks the kernel to program the staged image and waits for
// the device to report operating.
func (d *Driver) WriteComplete(m *mgr.Manager, info *mgr.ImageInfo) error {
	if d.staging == nil {
		return errors.Errorf("%s: write complete without write init", m.DevName())
	}
	defer d.discard()

	name := filepath.Base(d.staging.Name())
	if err := d.staging.Sync(); err != nil {
		return errors.WithStack(err)
	}

	klog.V(2).Infof("%s: programming staged image %s", m.DevName(), name)

	if err := d.writeAttr("firmware", name); err != nil {
		return err
	}

	timeout := info.ConfigCompleteTimeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	var last mgr.State

	err := wait.PollUntilContextTimeout(context.Background(), d.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		s, err := d.readState()
		if err != nil {
			return false, err
		}

		last = s

		if s.IsError() {
			return false, errors.Errorf("%s: device reports %s", m.DevName(), s)
		}

		return s == mgr.StateOperating, nil
	})
	if wait.Interrupted(err) {
		return errors.Errorf("%s: not operating after %v, last state %s", m.DevName(), timeout, last)
	}

	return err
}

func (d *Driver) discard() {
	if d.staging == nil {
		return
	}

	d.staging.Close()

	if err := os.Remove(d.staging.Name()); err != nil && !os.IsNotExist(err) {
		klog.Warningf("unable to remove %s: %v", d.staging.Name(), err)
	}

	d.staging = nil
}

func (d *Driver) readState() (mgr.State, error) {
	label, err := d.readAttr("state")
	if err != nil {
		return mgr.StateUnknown, err
	}

	return mgr.ParseState(label)
}

// State implements mgr.Ops.
func (d *Driver) State(m *mgr.Manager) mgr.State {
	s, err := d.readState()
	if err != nil {
		klog.V(4).Infof("%s: %v", d.dir, err)
	}

	return s
}

// Status implements mgr.StatusReader.
func (d *Driver) Status(m *mgr.Manager) (mgr.Status, error) {
	report, err := d.readAttr("status")
	if errors.Is(err, os.ErrNotExist) {
		return 0, errors.Wrapf(mgr.ErrNotSupported, "%s: status", d.dir)
	}

	if err != nil {
		return 0, err
	}

	return mgr.ParseStatus(report)
}

// Remove implements mgr.Remover.
func (d *Driver) Remove(m *mgr.Manager) {
	d.discard()
}

// Info describes a kernel FPGA manager found by Discover.
type Info struct {
	Dir        string
	DevName    string
	Name       string
	State      string
	Driver     string
	OFFullName string
}

// Discover lists the managers below root, typically ClassRoot.
func Discover(root string) ([]Info, error) {
	dirs, err := filepath.Glob(filepath.Join(root, "fpga*"))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	infos := make([]Info, 0, len(dirs))

	for _, dir := range dirs {
		info := Info{Dir: dir, DevName: filepath.Base(dir)}

		attrs := map[string]*string{
			"name":  &info.Name,
			"state": &info.State,
		}

		for attr, dst := range attrs {
			b, err := os.ReadFile(filepath.Join(dir, attr))
			if os.IsNotExist(err) {
				continue
			}

			if err != nil {
				return nil, errors.Wrapf(err, "%s: unable to read %q", dir, attr)
			}

			*dst = strings.TrimSpace(string(b))
		}

		if uevent, err := ini.Load(filepath.Join(dir, "device", "uevent")); err == nil {
			sec := uevent.Section(ini.DEFAULT_SECTION)
			info.Driver = sec.Key("DRIVER").String()
			info.OFFullName = sec.Key("OF_FULLNAME").String()
		}

		infos = append(infos, info)
	}

	return infos, nil
}
