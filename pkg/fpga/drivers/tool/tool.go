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

// Package tool drives FPGAs through an external programming utility such
// as OPAE fpgaconf or the OpenCL aocl tool. The image is staged in a
// temporary file and handed to the utility on write complete.
package tool

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	utilsexec "k8s.io/utils/exec"

	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

const (
	// ImageArg is replaced with the staged image path in Programmer.Args.
	ImageArg = "{image}"
	// DeviceArg is replaced with the manager device name in Programmer.Args.
	DeviceArg = "{device}"
)

// Programmer is an external command line programming utility.
type Programmer struct {
	Command string
	Args    []string
}

// Fpgaconf programs a green bitstream into the FPGA on the given socket.
func Fpgaconf(socket string) Programmer {
	return Programmer{
		Command: "/opt/intel/fpga-sw/opae/bin/fpgaconf",
		Args:    []string{"-s", socket, ImageArg},
	}
}

// AOCL programs an OpenCL aocx image into the given acl device number.
func AOCL(devNum string) Programmer {
	return Programmer{
		Command: "/opt/intel/fpga-sw/opencl/aocl",
		Args:    []string{"program", "acl" + devNum, ImageArg},
	}
}

func (p Programmer) argv(image, device string) []string {
	args := make([]string, len(p.Args))
	for i, arg := range p.Args {
		arg = strings.ReplaceAll(arg, ImageArg, image)
		args[i] = strings.ReplaceAll(arg, DeviceArg, device)
	}

	return args
}

// Driver implements mgr.Ops by running a Programmer.
type Driver struct {
	execer   utilsexec.Interface
	staging  *os.File
	prog     Programmer
	stageDir string
	state    atomic.Int32
}

// Option configures a Driver.
type Option func(*Driver)

// WithExec replaces the command executor.
func WithExec(execer utilsexec.Interface) Option {
	return func(d *Driver) {
		d.execer = execer
	}
}

// WithStagingDir sets where images are staged before programming.
func WithStagingDir(dir string) Option {
	return func(d *Driver) {
		d.stageDir = dir
	}
}

// New returns a driver running prog.
func New(prog Programmer, opts ...Option) (*Driver, error) {
	if prog.Command == "" {
		return nil, errors.New("programming tool command is not set")
	}

	d := &Driver{
		execer:   utilsexec.New(),
		prog:     prog,
		stageDir: os.TempDir(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if _, err := d.execer.LookPath(prog.Command); err != nil {
		return nil, errors.Wrapf(err, "programming tool %s", prog.Command)
	}

	return d, nil
}

// WriteInit opens a staging file for the image.
func (d *Driver) WriteInit(m *mgr.Manager, info *mgr.ImageInfo, header []byte) error {
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

// WriteComplete runs the programming tool on the staged image.
func (d *Driver) WriteComplete(m *mgr.Manager, info *mgr.ImageInfo) error {
	if d.staging == nil {
		return errors.Errorf("%s: write complete without write init", m.DevName())
	}
	defer d.discard()

	if err := d.staging.Close(); err != nil {
		return errors.WithStack(err)
	}

	args := d.prog.argv(d.staging.Name(), m.DevName())

	klog.V(2).Infof("%s: running %s %s", m.DevName(), d.prog.Command, strings.Join(args, " "))

	output, err := d.execer.Command(d.prog.Command, args...).CombinedOutput()
	if err != nil {
		d.state.Store(int32(mgr.StateUnknown))
		return errors.Wrapf(err, "%s: %s failed: output: %s", m.DevName(), d.prog.Command, string(output))
	}

	d.state.Store(int32(mgr.StateOperating))

	return nil
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

// State implements mgr.Ops. The tool gives no readback, so the state is
// operating only after a successful run.
func (d *Driver) State(m *mgr.Manager) mgr.State {
	return mgr.State(d.state.Load())
}

// Remove implements mgr.Remover.
func (d *Driver) Remove(m *mgr.Manager) {
	d.discard()
}
