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

// Package bitstream parses FPGA image containers and extracts the raw
// configuration stream a manager writes to the device.
package bitstream

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned for files that are not a known container.
var ErrUnsupported = errors.New("unsupported image format")

// Open parses the named file, detecting its type by extension.
func Open(name string) (Image, error) {
	switch filepath.Ext(name) {
	case extGBS:
		return OpenGBS(name)
	case extAOCX:
		return OpenAOCX(name)
	}

	return nil, errors.Wrap(ErrUnsupported, name)
}

// Parse parses an in-memory image, detecting its type by the extension of name.
func Parse(name string, data []byte) (Image, error) {
	var (
		img Image
		err error
	)

	switch filepath.Ext(name) {
	case extGBS:
		img, err = ParseGBS(data)
	case extAOCX:
		img, err = ParseAOCX(data)
	default:
		return nil, errors.Wrap(ErrUnsupported, name)
	}

	if err != nil {
		return nil, errors.Wrap(err, name)
	}

	return img, nil
}

// IsContainer reports whether name carries a container extension.
func IsContainer(name string) bool {
	ext := filepath.Ext(name)
	return ext == extGBS || ext == extAOCX
}

// Unwrap returns the raw configuration stream inside a container image.
// Data of files that are not containers is returned unchanged.
func Unwrap(name string, data []byte) ([]byte, error) {
	if !IsContainer(name) {
		return data, nil
	}

	img, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return img.Payload()
}

// Find looks up an installed image by interface and accelerator ID below dir.
func Find(dir, interfaceID, typeID string) (Image, error) {
	for _, ext := range []string{extGBS, extAOCX} {
		path := filepath.Join(dir, interfaceID, typeID+ext)

		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return nil, errors.Wrapf(err, "%s: stat", path)
		}

		return Open(path)
	}

	return nil, errors.Errorf("%s/%s: image not found", interfaceID, typeID)
}
