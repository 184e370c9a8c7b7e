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

// Package dfl drives partial reconfiguration of a Device Feature List FPGA
// Management Engine through its character device.
package dfl

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

// DFL ioctl numbers, _IO(0xB6, nr).
const (
	ioctlGetAPIVersion  = 0xB600
	ioctlCheckExtension = 0xB601
	ioctlFMEPortPR      = 0xB680

	// APIVersion is the only kernel API revision understood.
	APIVersion = 0
)

// portPR is struct dfl_fpga_fme_port_pr.
type portPR struct {
	Argsz         uint32
	Flags         uint32
	PortID        uint32
	BufferSize    uint32
	BufferAddress uint64
}

// IoctlFunc issues an ioctl on fd.
type IoctlFunc func(fd, req, arg uintptr) (uintptr, error)

func ioctl(fd, req, arg uintptr) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return ret, errno
	}

	return ret, nil
}

// Driver implements mgr.Ops for one FME port.
type Driver struct {
	f         *os.File
	ioctl     IoctlFunc
	devPath   string
	sysfsPath string
	image     []byte
	port      uint32
}

// Option configures a Driver.
type Option func(*Driver)

// WithPort selects the port to reconfigure.
func WithPort(port uint32) Option {
	return func(d *Driver) {
		d.port = port
	}
}

// WithSysfsPath sets the FME sysfs directory errors are read from.
func WithSysfsPath(path string) Option {
	return func(d *Driver) {
		d.sysfsPath = path
	}
}

// WithIoctl replaces the ioctl implementation.
func WithIoctl(fn IoctlFunc) Option {
	return func(d *Driver) {
		d.ioctl = fn
	}
}

// New opens the FME device, e.g. /dev/dfl-fme.0, and checks the kernel API.
func New(devPath string, opts ...Option) (*Driver, error) {
	d := &Driver{
		devPath:   devPath,
		sysfsPath: filepath.Join("/sys/bus/platform/devices", filepath.Base(devPath)),
		ioctl:     ioctl,
	}

	for _, opt := range opts {
		opt(d)
	}

	f, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	d.f = f

	v, err := d.ioctl(f.Fd(), ioctlGetAPIVersion, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s: unable to get API version", devPath)
	}

	if v != APIVersion {
		f.Close()
		return nil, errors.Errorf("%s: kernel API mismatch, version %d", devPath, v)
	}

	return d, nil
}

// Close releases the device.
func (d *Driver) Close() error {
	if d.f == nil {
		return nil
	}

	err := d.f.Close()
	d.f = nil

	return errors.WithStack(err)
}

// CheckExtension reports whether the kernel supports extension ext.
func (d *Driver) CheckExtension(ext uintptr) (bool, error) {
	v, err := d.ioctl(d.f.Fd(), ioctlCheckExtension, ext)
	return v != 0, errors.WithStack(err)
}

// WriteInit implements mgr.Ops. FMEs only do partial reconfiguration.
func (d *Driver) WriteInit(m *mgr.Manager, info *mgr.ImageInfo, header []byte) error {
	if info.Flags&mgr.FlagPartialReconfig == 0 {
		return errors.Errorf("%s: only partial reconfiguration is supported", d.devPath)
	}

	d.image = d.image[:0]

	return nil
}

// Write implements mgr.BufferWriter. The port takes the image in one ioctl,
// so fragments are collected until WriteComplete.
func (d *Driver) Write(m *mgr.Manager, buf []byte) error {
	d.image = append(d.image, buf...)
	return nil
}

// WriteComplete hands the collected image to the FME.
func (d *Driver) WriteComplete(m *mgr.Manager, info *mgr.ImageInfo) error {
	if len(d.image) == 0 {
		return errors.Errorf("%s: empty image", d.devPath)
	}

	if d.f == nil {
		return errors.Errorf("%s: device closed", d.devPath)
	}

	value := portPR{
		PortID:        d.port,
		BufferSize:    uint32(len(d.image)),
		BufferAddress: uint64(uintptr(unsafe.Pointer(&d.image[0]))),
	}
	value.Argsz = uint32(unsafe.Sizeof(value))

	_, err := d.ioctl(d.f.Fd(), ioctlFMEPortPR, uintptr(unsafe.Pointer(&value)))
	runtime.KeepAlive(&value)
	runtime.KeepAlive(d.image)

	d.image = d.image[:0]

	if err != nil {
		if errors.Is(err, unix.EIO) {
			if s, serr := d.Status(m); serr == nil && s != 0 {
				return errors.Wrapf(err, "%s: port %d: %s", d.devPath, d.port, strings.Join(s.Decode(), ", "))
			}
		}

		return errors.Wrapf(err, "%s: port %d", d.devPath, d.port)
	}

	return nil
}

// State implements mgr.Ops. FMEs don't report a state.
func (d *Driver) State(m *mgr.Manager) mgr.State {
	return mgr.StateUnknown
}

// Status implements mgr.StatusReader from the FME PR error register. Its
// low five bits share the status bit layout.
func (d *Driver) Status(m *mgr.Manager) (mgr.Status, error) {
	b, err := os.ReadFile(filepath.Join(d.sysfsPath, "errors", "pr_err"))
	if err != nil {
		return 0, errors.WithStack(err)
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(b)), "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: pr_err", d.sysfsPath)
	}

	const prErrMask = mgr.StatusOperationErr | mgr.StatusCRCErr | mgr.StatusIncompatibleImageErr |
		mgr.StatusIPProtocolErr | mgr.StatusFIFOOverflowErr

	return mgr.Status(v) & prErrMask, nil
}

// Remove implements mgr.Remover.
func (d *Driver) Remove(m *mgr.Manager) {
	if err := d.Close(); err != nil {
		klog.Warningf("%s: %v", d.devPath, err)
	}
}
