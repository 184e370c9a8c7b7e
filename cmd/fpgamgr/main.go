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
	"os"

	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/drivers/sysfs"
)

func main() {
	var (
		configPath string
		opts       cliOptions
	)

	klog.InitFlags(nil)

	flag.StringVar(&configPath, "config", "", "Configuration file (default /etc/fpgamgr/config.yaml if present)")
	flag.StringVar(&opts.manager, "m", "", "FPGA manager name or device (fpgaN)")
	flag.StringVar(&opts.ofNode, "of-node", "", "Select the FPGA manager bound to this device tree node")
	flag.StringVar(&opts.output, "o", outputText, "Output format: text or yaml")
	flag.Parse()

	if flag.NArg() < 1 {
		klog.Fatal("Please provide command: list, state, status, load, read, info, install, metrics")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		klog.Fatalf("%+v", err)
	}

	a, err := newApp(cfg, appOptions{sysfsRoot: sysfs.ClassRoot})
	if err != nil {
		klog.Fatalf("%+v", err)
	}

	err = run(a, opts, flag.Args(), os.Stdout)

	a.close()

	if err != nil {
		klog.Fatalf("%+v", err)
	}
}
