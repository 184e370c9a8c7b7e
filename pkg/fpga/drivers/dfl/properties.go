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

package dfl

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Properties are the FME attributes exported in sysfs.
type Properties struct {
	// InterfaceID is the compat_id of the FME region, the interface ID
	// partial images must be built for.
	InterfaceID       string
	BitstreamID       string
	BitstreamMetadata string
	SocketID          string
	PortsNum          string
}

// readAttrs reads the attributes named by the keys of attrs below dir into
// the values. Keys may be glob patterns matching exactly one file; missing
// attributes are left empty.
func readAttrs(dir string, attrs map[string]*string) error {
	for attr, dst := range attrs {
		fname := filepath.Join(dir, attr)

		if strings.ContainsAny(fname, "?*[") {
			files, err := filepath.Glob(fname)
			if err != nil || len(files) != 1 {
				continue
			}

			fname = files[0]
		}

		b, err := os.ReadFile(fname)
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return errors.Wrapf(err, "%s: unable to read %q", dir, attr)
		}

		*dst = strings.TrimSpace(string(b))
	}

	return nil
}

// Properties reads the FME attributes.
func (d *Driver) Properties() (*Properties, error) {
	p := &Properties{}

	err := readAttrs(d.sysfsPath, map[string]*string{
		"bitstream_id":       &p.BitstreamID,
		"bitstream_metadata": &p.BitstreamMetadata,
		"ports_num":          &p.PortsNum,
		"socket_id":          &p.SocketID,
		"dfl-fme-region.*/fpga_region/region*/compat_id": &p.InterfaceID,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// CheckInterface fails unless an image built for interfaceID fits the FME.
func (d *Driver) CheckInterface(interfaceID string) error {
	p, err := d.Properties()
	if err != nil {
		return err
	}

	if p.InterfaceID == "" {
		return errors.Errorf("%s: FME interface ID is unknown", d.devPath)
	}

	want := strings.ToLower(strings.ReplaceAll(interfaceID, "-", ""))
	if want != strings.ToLower(p.InterfaceID) {
		return errors.Errorf("bitstream is not for this device: interface %s, FME %s", interfaceID, p.InterfaceID)
	}

	return nil
}
