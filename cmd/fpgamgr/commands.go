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
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/bitstream"
	"github.com/intel/intel-fpga-manager/pkg/fpga/dmabuf"
	"github.com/intel/intel-fpga-manager/pkg/fpga/metrics"
	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

const (
	outputText = "text"
	outputYAML = "yaml"

	busyRetryInterval = 100 * time.Millisecond
)

type cliOptions struct {
	manager string
	ofNode  string
	output  string
}

type managerReport struct {
	Device string   `yaml:"device"`
	Name   string   `yaml:"name"`
	State  string   `yaml:"state"`
	Flags  string   `yaml:"flags"`
	OFNode string   `yaml:"ofNode,omitempty"`
	Status []string `yaml:"status,omitempty"`
	Loads  uint64   `yaml:"loads"`
	Failed uint64   `yaml:"failedLoads"`
}

type bitstreamReport struct {
	File        string            `yaml:"file"`
	InterfaceID string            `yaml:"interfaceID"`
	TypeID      string            `yaml:"typeID"`
	UniqueID    string            `yaml:"uniqueID"`
	InstallPath string            `yaml:"installPath,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

func run(a *app, opts cliOptions, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("command is missing")
	}

	if opts.output != outputText && opts.output != outputYAML {
		return errors.Errorf("unknown output format %q", opts.output)
	}

	cmd, args := args[0], args[1:]

	switch cmd {
	case "list":
		return listManagers(a, opts, out)
	case "state":
		return withManager(a, opts, func(m *mgr.Manager) error {
			fmt.Fprintln(out, m.State())
			return nil
		})
	case "status":
		return withManager(a, opts, func(m *mgr.Manager) error {
			report, err := m.StatusReport()
			if err != nil {
				return err
			}

			fmt.Fprint(out, report)

			return nil
		})
	case "load":
		return loadImage(a, opts, args, out)
	case "read":
		return readImage(a, opts, args, out)
	case "info":
		return printBitstreamInfo(opts, args, out)
	case "install":
		return installBitstream(a, args, out)
	case "metrics":
		return serveMetrics(a, args, out)
	}

	return errors.Errorf("unknown command %q", cmd)
}

// withManager runs f on the selected manager with its driver module pinned.
func withManager(a *app, opts cliOptions, f func(m *mgr.Manager) error) error {
	var m *mgr.Manager

	switch {
	case opts.ofNode != "":
		if a.tree == nil {
			return errors.New("no device tree configured")
		}

		node, err := a.tree.Find(opts.ofNode)
		if err != nil {
			return err
		}

		if m, err = a.reg.GetByOFNode(node); err != nil {
			return err
		}
	default:
		found, err := findManager(a.reg, opts.manager)
		if err != nil {
			return err
		}

		if m, err = a.reg.Get(found.Parent()); err != nil {
			return err
		}
	}
	defer a.reg.Put(m)

	return f(m)
}

func findManager(reg *mgr.Registry, name string) (*mgr.Manager, error) {
	if name == "" {
		list := reg.List()
		if len(list) != 1 {
			return nil, errors.Errorf("%d FPGA managers found, select one with -m", len(list))
		}

		return list[0], nil
	}

	if m, err := reg.FindByName(name); err == nil {
		return m, nil
	}

	var id int
	if _, err := fmt.Sscanf(name, "fpga%d", &id); err == nil {
		return reg.Find(id)
	}

	return nil, errors.Wrap(mgr.ErrNoDevice, name)
}

func report(m *mgr.Manager) managerReport {
	r := managerReport{
		Device: m.DevName(),
		Name:   m.Name(),
		State:  m.State().String(),
		Flags:  m.Flags().String(),
	}

	if node := m.Parent().OFNode; node != nil {
		r.OFNode = node.Name
	}

	if m.HasStatus() {
		if s, err := m.Status(); err == nil {
			r.Status = s.Decode()
		}
	}

	r.Loads, r.Failed = m.Loads()

	return r
}

func listManagers(a *app, opts cliOptions, out io.Writer) error {
	managers := a.reg.List()

	reports := make([]managerReport, 0, len(managers))
	for _, m := range managers {
		reports = append(reports, report(m))
	}

	if opts.output == outputYAML {
		return writeYAML(out, reports)
	}

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tNAME\tSTATE\tFLAGS\tOF NODE")

	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Device, r.Name, r.State, r.Flags, r.OFNode)
	}

	return w.Flush()
}

func writeYAML(out io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "unable to encode report")
	}

	_, err = out.Write(data)

	return errors.WithStack(err)
}

// retryBusy calls load until it succeeds, fails with something other than
// ErrBusy, or the attempts run out.
func retryBusy(attempts int, load func() error) error {
	var lastErr error

	backoff := wait.Backoff{
		Duration: busyRetryInterval,
		Factor:   2,
		Jitter:   0.1,
		Steps:    max(attempts, 1),
	}

	err := wait.ExponentialBackoff(backoff, func() (bool, error) {
		lastErr = load()
		if errors.Is(lastErr, mgr.ErrBusy) {
			klog.V(2).Info("FPGA manager busy, retrying")
			return false, nil
		}

		return true, lastErr
	})
	if wait.Interrupted(err) {
		return lastErr
	}

	return err
}

func loadImage(a *app, opts cliOptions, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(out)

	flags := fs.String("flags", "", "Image flags as names joined by | or a hex mask (default from configuration)")
	key := fs.String("key", "", "Key for userkey-encrypted images")
	raw := fs.Bool("raw", false, "Don't unwrap GBS and AOCX containers")
	useDmaBuf := fs.Bool("dmabuf", false, "Pass the image through a memfd backed dma-buf")
	timeout := fs.Duration("timeout", 0, "Time to wait for the FPGA to become operating")
	attempts := fs.Int("attempts", 5, "Load attempts while the manager is busy")

	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	if fs.NArg() != 1 {
		return errors.New("image file or firmware name is missing")
	}

	image := fs.Arg(0)

	return withManager(a, opts, func(m *mgr.Manager) error {
		if *flags != "" {
			f, err := mgr.ParseFlags(*flags)
			if err != nil {
				return err
			}

			m.SetFlags(f)
		}

		if *key != "" {
			if err := m.SetKey([]byte(*key)); err != nil {
				return err
			}

			m.SetFlags(m.Flags() | mgr.FlagUserKeyEncrypted)
		}

		data, err := os.ReadFile(image)

		switch {
		case os.IsNotExist(err):
			klog.V(1).Infof("%s: loading firmware %s", m.DevName(), image)

			err = retryBusy(*attempts, func() error { return m.LoadFirmware(image) })
		case err != nil:
			return errors.WithStack(err)
		default:
			err = loadData(a, m, image, data, *raw, *useDmaBuf, *timeout, *attempts)
		}

		fmt.Fprintf(out, "%s: %s\n", m.DevName(), m.State())

		return err
	})
}

// interfaceChecker is implemented by drivers that know which images fit.
type interfaceChecker interface {
	CheckInterface(interfaceID string) error
}

func checkInterface(checker interfaceChecker, image string, data []byte) error {
	img, err := bitstream.Parse(image, data)
	if err != nil {
		return err
	}
	defer img.Close()

	return checker.CheckInterface(img.InterfaceID())
}

func loadData(a *app, m *mgr.Manager, image string, data []byte, raw, useDmaBuf bool, timeout time.Duration, attempts int) error {
	var err error

	if checker, ok := m.Priv().(interfaceChecker); ok && bitstream.IsContainer(image) {
		if err = checkInterface(checker, image, data); err != nil {
			return err
		}
	}

	if !raw {
		if data, err = bitstream.Unwrap(image, data); err != nil {
			return err
		}
	}

	info := mgr.NewImageInfo(m.Parent())
	defer info.Free()

	info.Flags = m.Flags() &^ mgr.FlagConfigDmaBuf
	info.Key = m.Key()
	info.ConfigCompleteTimeout = timeout

	if useDmaBuf {
		buf, err := dmabuf.NewMemfd(filepath.Base(image), data)
		if err != nil {
			return err
		}

		fd, err := a.exporter.Export(buf)
		// The exporter holds its own reference.
		buf.Put()

		if err != nil {
			return err
		}
		defer a.exporter.Close(fd)

		info.DmaBufFD = fd
		info.Flags |= mgr.FlagConfigDmaBuf
	} else {
		info.Buf = data
	}

	return retryBusy(attempts, func() error { return m.TryLoad(info) })
}

func readImage(a *app, opts cliOptions, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.SetOutput(out)

	dst := fs.String("o", "", "Write the configuration data to this file instead of stdout")

	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	return withManager(a, opts, func(m *mgr.Manager) error {
		if *dst == "" {
			return m.Read(out)
		}

		f, err := os.Create(*dst)
		if err != nil {
			return errors.WithStack(err)
		}

		if err = m.Read(f); err != nil {
			f.Close()
			return err
		}

		return errors.WithStack(f.Close())
	})
}

func printBitstreamInfo(opts cliOptions, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("bitstream filename is missing")
	}

	fname := args[0]

	img, err := bitstream.Open(fname)
	if err != nil {
		return err
	}
	defer img.Close()

	r := bitstreamReport{
		File:        fname,
		InterfaceID: img.InterfaceID(),
		TypeID:      img.TypeID(),
		UniqueID:    img.UniqueID(),
		InstallPath: img.InstallPath(""),
		Metadata:    img.Metadata(),
	}

	if opts.output == outputYAML {
		return writeYAML(out, r)
	}

	fmt.Fprintf(out, "Bitstream file        : %q\n", r.File)
	fmt.Fprintf(out, "Interface UUID        : %q\n", r.InterfaceID)
	fmt.Fprintf(out, "Accelerator Type UUID : %q\n", r.TypeID)
	fmt.Fprintf(out, "Unique UUID           : %q\n", r.UniqueID)
	fmt.Fprintf(out, "Installation Path     : %q\n", r.InstallPath)

	if len(r.Metadata) > 0 {
		fmt.Fprintln(out, "Extra:")

		keys := make([]string, 0, len(r.Metadata))
		for k := range r.Metadata {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(out, "\t%s : %q\n", k, r.Metadata[k])
		}
	}

	return nil
}

func installBitstream(a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	fs.SetOutput(out)

	dryRun := fs.Bool("dry-run", false, "Don't copy, only print the destination")
	name := fs.String("name", "", "Firmware name to install as (default from the bitstream metadata)")

	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	if fs.NArg() != 1 {
		return errors.New("bitstream filename is missing")
	}

	fname := fs.Arg(0)

	if *name == "" {
		*name = filepath.Base(fname)

		if bitstream.IsContainer(fname) {
			img, err := bitstream.Open(fname)
			if err != nil {
				return err
			}

			if p := img.InstallPath(""); p != "" {
				*name = p
			}

			img.Close()
		}
	}

	fmt.Fprintf(out, "Installing bitstream %q as %q\n", fname, *name)

	if *dryRun {
		fmt.Fprintln(out, "Dry-run: no copying performed")
		return nil
	}

	dst, err := a.loader.Install(fname, *name)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Installed %s\n", dst)

	return nil
}

func serveMetrics(a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	fs.SetOutput(out)

	listen := fs.String("listen", "", "Serve /metrics on this address instead of printing once")

	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	if *listen == "" {
		return metrics.Write(out, a.reg.List())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.reg.List))

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	klog.Infof("serving metrics on %s", *listen)

	return errors.WithStack(srv.ListenAndServe())
}
