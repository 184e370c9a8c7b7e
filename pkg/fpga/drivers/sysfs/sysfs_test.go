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

package sysfs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

type fakeClass struct {
	dir   string
	stage string
}

func newFakeClass(t *testing.T, state string, status bool) *fakeClass {
	t.Helper()

	root := t.TempDir()
	fc := &fakeClass{
		dir:   filepath.Join(root, "class", "fpga0"),
		stage: filepath.Join(root, "firmware"),
	}

	files := map[string]string{
		"name":     "Altera SOCFPGA FPGA Manager\n",
		"state":    state + "\n",
		"flags":    "0\n",
		"key":      "",
		"firmware": "",
	}

	if status {
		files["status"] = "reconfig CRC error\n"
	}

	for name, content := range files {
		fc.write(t, name, content)
	}

	if err := os.MkdirAll(fc.stage, 0755); err != nil {
		t.Fatal(err)
	}

	return fc
}

func (fc *fakeClass) write(t *testing.T, name, content string) {
	t.Helper()

	path := filepath.Join(fc.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func (fc *fakeClass) read(name string) string {
	b, _ := os.ReadFile(filepath.Join(fc.dir, name))
	return string(b)
}

// program emulates the kernel: once a firmware name is written it records
// the staged image and moves the device to result.
func (fc *fakeClass) program(t *testing.T, result string) <-chan []byte {
	images := make(chan []byte, 1)

	go func() {
		var image []byte

		_ = wait.PollUntilContextTimeout(context.Background(), 5*time.Millisecond, 5*time.Second, true, func(ctx context.Context) (bool, error) {
			name := strings.TrimSpace(fc.read("firmware"))
			if name == "" {
				return false, nil
			}

			image, _ = os.ReadFile(filepath.Join(fc.stage, name))

			return true, os.WriteFile(filepath.Join(fc.dir, "state"), []byte(result+"\n"), 0600)
		})

		images <- image
	}()

	return images
}

func register(t *testing.T, d *Driver) *mgr.Manager {
	t.Helper()

	r := mgr.NewRegistry(mgr.WithLogger(logr.Discard()))

	m, err := r.Create(&mgr.Device{Name: d.Dir()}, "sysfs", d, nil)
	if err != nil {
		t.Fatalf("create failed: %+v", err)
	}

	if err = r.Register(m); err != nil {
		t.Fatalf("register failed: %+v", err)
	}

	return m
}

func TestLoad(t *testing.T) {
	image := bytes.Repeat([]byte("bitstream"), 1000)

	tcases := []struct {
		name          string
		result        string
		timeout       time.Duration
		expectedState mgr.State
		expectedErr   bool
	}{
		{
			name:          "Device becomes operating",
			result:        "operating",
			expectedState: mgr.StateOperating,
		},
		{
			name:          "Device reports an error",
			result:        "write error",
			expectedState: mgr.StateWriteCompleteErr,
			expectedErr:   true,
		},
		{
			name:          "Device never finishes",
			result:        "write",
			timeout:       100 * time.Millisecond,
			expectedState: mgr.StateWriteCompleteErr,
			expectedErr:   true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			fc := newFakeClass(t, "power off", false)
			d := New(fc.dir, WithStagingDir(fc.stage), WithPollInterval(5*time.Millisecond))
			m := register(t, d)

			if m.State() != mgr.StatePowerOff {
				t.Fatalf("state not read from sysfs: %s", m.State())
			}

			images := fc.program(t, tc.result)

			info := mgr.NewImageInfo(m.Parent())
			info.Buf = image
			info.Flags = mgr.FlagPartialReconfig | mgr.FlagUserKeyEncrypted
			info.ConfigCompleteTimeout = tc.timeout
			copy(info.Key[:], "sekrit")

			err := m.Load(info)
			if tc.expectedErr && err == nil {
				t.Error("unexpected success")
			}

			if !tc.expectedErr && err != nil {
				t.Errorf("unexpected error: %+v", err)
			}

			if m.State() != tc.expectedState {
				t.Errorf("expected %s, got %s", tc.expectedState, m.State())
			}

			if got := <-images; !bytes.Equal(got, image) {
				t.Errorf("kernel saw %d bytes, expected %d", len(got), len(image))
			}

			if fc.read("flags") != "21" || fc.read("key") != "sekrit" {
				t.Errorf("unexpected flags %q or key %q", fc.read("flags"), fc.read("key"))
			}

			if left, _ := filepath.Glob(filepath.Join(fc.stage, "*")); len(left) != 0 {
				t.Errorf("staging files left behind: %v", left)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	fc := newFakeClass(t, "operating", true)
	m := register(t, New(fc.dir, WithStagingDir(fc.stage)))

	report, err := m.StatusReport()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if report != "reconfig CRC error\n" {
		t.Errorf("unexpected report %q", report)
	}

	plain := newFakeClass(t, "bogus state", false)
	pm := register(t, New(plain.dir))

	if _, err = pm.StatusReport(); !errors.Is(err, mgr.ErrNotSupported) {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}

	if pm.State() != mgr.StateUnknown {
		t.Errorf("unparsable state must read as unknown, got %s", pm.State())
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()

	fpga0 := &fakeClass{dir: filepath.Join(root, "fpga0")}
	fpga0.write(t, "name", "Altera SOCFPGA FPGA Manager\n")
	fpga0.write(t, "state", "operating\n")
	fpga0.write(t, filepath.Join("device", "uevent"), "DRIVER=socfpga_fpga_manager\nOF_NAME=fpgamgr\nOF_FULLNAME=/soc/fpgamgr@ff706000\n")

	fpga1 := &fakeClass{dir: filepath.Join(root, "fpga1")}
	fpga1.write(t, "name", "dfl-fme-mgr\n")

	infos, err := Discover(root)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	expected := []Info{
		{
			Dir:        fpga0.dir,
			DevName:    "fpga0",
			Name:       "Altera SOCFPGA FPGA Manager",
			State:      "operating",
			Driver:     "socfpga_fpga_manager",
			OFFullName: "/soc/fpgamgr@ff706000",
		},
		{
			Dir:     fpga1.dir,
			DevName: "fpga1",
			Name:    "dfl-fme-mgr",
		},
	}

	if diff := cmp.Diff(expected, infos); diff != "" {
		t.Errorf("unexpected managers (-want +got):\n%s", diff)
	}
}

func TestWriteFailureDiscardsStaging(t *testing.T) {
	fc := newFakeClass(t, "operating", false)
	d := New(fc.dir, WithStagingDir(fc.stage))
	m := register(t, d)

	if err := d.WriteInit(m, mgr.NewImageInfo(m.Parent()), nil); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	// A closed staging file makes the next write fail.
	d.staging.Close()

	if err := d.Write(m, []byte("bitstream")); err == nil {
		t.Fatal("expected write to fail")
	}

	if left, _ := filepath.Glob(filepath.Join(fc.stage, "*")); len(left) != 0 {
		t.Errorf("staging files left behind: %v", left)
	}

	if fc.read("firmware") != "" {
		t.Errorf("firmware attribute written: %q", fc.read("firmware"))
	}
}
