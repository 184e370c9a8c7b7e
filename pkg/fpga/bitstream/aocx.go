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

package bitstream

import (
	"bytes"
	"compress/gzip"
	"debug/elf"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// OpenCLUUID is the accelerator ID shared by all OpenCL BSP images.
	OpenCLUUID = "18b79ffa2ee54aa096ef4230dafacb5f"
	extAOCX    = ".aocx"

	sectionFPGABin = ".acl.fpga.bin"
	sectionGBSGz   = ".acl.gbs.gz"
)

// AOCX is a parsed OpenCL offline compiler executable wrapping a GBS.
type AOCX struct {
	closer  io.Closer
	GBS     *GBS
	Board   string
	Target  string
	Hash    string
	Version string
}

// OpenAOCX opens and parses the named AOCX file.
func OpenAOCX(name string) (*AOCX, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	a, err := NewAOCX(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, name)
	}

	a.closer = f

	return a, nil
}

// ParseAOCX parses an AOCX image held in memory.
func ParseAOCX(data []byte) (*AOCX, error) {
	return NewAOCX(bytes.NewReader(data))
}

// NewAOCX parses an AOCX image from r.
func NewAOCX(r io.ReaderAt) (*AOCX, error) {
	el, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read AOCX ELF header")
	}

	a := new(AOCX)
	fields := map[string]*string{
		".acl.board":     &a.Board,
		".acl.target":    &a.Target,
		".acl.rand_hash": &a.Hash,
		".acl.version":   &a.Version,
	}

	for _, s := range el.Sections {
		if s.Name == sectionFPGABin {
			data, err := s.Data()
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read %s", sectionFPGABin)
			}

			if a.GBS, err = unpackFPGABin(data); err != nil {
				return nil, err
			}

			continue
		}

		if field, ok := fields[s.Name]; ok {
			data, err := s.Data()
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read %s", s.Name)
			}

			*field = strings.TrimSpace(string(data))
		}
	}

	if a.GBS == nil {
		return nil, errors.Errorf("no %s section in AOCX", sectionFPGABin)
	}

	return a, nil
}

func unpackFPGABin(d []byte) (*GBS, error) {
	el, err := elf.NewFile(bytes.NewReader(d))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", sectionFPGABin)
	}

	gz := el.Section(sectionGBSGz)
	if gz == nil {
		return nil, errors.Errorf("no %s section in %s", sectionGBSGz, sectionFPGABin)
	}

	zr, err := gzip.NewReader(gz.Open())
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", sectionGBSGz)
	}

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to uncompress %s", sectionGBSGz)
	}

	g, err := ParseGBS(raw)
	if err != nil {
		return nil, err
	}

	if id := g.TypeID(); id != OpenCLUUID {
		return nil, errors.Errorf("incorrect OpenCL BSP accelerator ID %s", id)
	}

	return g, nil
}

// Close releases the underlying file if the image was opened by name.
func (a *AOCX) Close() (err error) {
	if a.closer != nil {
		err = a.closer.Close()
		a.closer = nil
	}

	return
}

// PayloadReader implements Image.
func (a *AOCX) PayloadReader() io.ReadSeeker {
	return a.GBS.PayloadReader()
}

// Payload implements Image.
func (a *AOCX) Payload() ([]byte, error) {
	return a.GBS.Payload()
}

// InterfaceID implements Image.
func (a *AOCX) InterfaceID() string {
	return a.GBS.InterfaceID()
}

// TypeID implements Image.
func (a *AOCX) TypeID() string {
	return a.GBS.TypeID()
}

// UniqueID implements Image. For AOCX it is the compiler's random hash.
func (a *AOCX) UniqueID() string {
	return a.Hash
}

// InstallPath implements Image.
func (a *AOCX) InstallPath(root string) string {
	return installPath(root, a, extAOCX)
}

// Metadata implements Image.
func (a *AOCX) Metadata() map[string]string {
	return map[string]string{
		"Board":   a.Board,
		"Target":  a.Target,
		"Hash":    a.Hash,
		"Version": a.Version,
		"Size":    strconv.FormatUint(a.GBS.Size, 10),
	}
}
