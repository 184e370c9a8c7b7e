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
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	gbsGUID1        uint64 = 0x414750466e6f6558
	gbsGUID2        uint64 = 0x31303076534247b7
	gbsHeaderLength        = 20
	gbsMaxMetadata         = 4096
	extGBS                 = ".gbs"
)

// GBSHeader is the fixed little-endian prefix of a GBS file.
type GBSHeader struct {
	GUID1          uint64
	GUID2          uint64
	MetadataLength uint32
}

// GBSMetadata is the JSON document following the header.
type GBSMetadata struct {
	Version      int    `json:"version"`
	PlatformName string `json:"platform-name,omitempty"`
	AfuImage     struct {
		MagicNo             int    `json:"magic-no,omitempty"`
		InterfaceUUID       string `json:"interface-uuid,omitempty"`
		Power               int    `json:"power"`
		AcceleratorClusters []struct {
			AcceleratorTypeUUID string `json:"accelerator-type-uuid"`
			Name                string `json:"name"`
			TotalContexts       int    `json:"total-contexts"`
		} `json:"accelerator-clusters"`
	} `json:"afu-image"`
}

// GBS is a parsed Green BitStream image.
type GBS struct {
	closer  io.Closer
	payload *io.SectionReader
	GBSHeader
	Info     GBSMetadata
	Size     uint64
}

type readSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// OpenGBS opens and parses the named GBS file.
func OpenGBS(name string) (*GBS, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	g, err := NewGBS(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, name)
	}

	g.closer = f

	return g, nil
}

// ParseGBS parses a GBS image held in memory.
func ParseGBS(data []byte) (*GBS, error) {
	return NewGBS(bytes.NewReader(data))
}

// NewGBS parses a GBS image from r.
func NewGBS(r readSeekerAt) (*GBS, error) {
	g := new(GBS)

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := binary.Read(r, binary.LittleEndian, &g.GBSHeader); err != nil {
		return nil, errors.Wrap(err, "unable to read GBS header")
	}

	if g.GUID1 != gbsGUID1 || g.GUID2 != gbsGUID2 {
		return nil, errors.Errorf("wrong GBS magic %#x %#x, expected %#x %#x", g.GUID1, g.GUID2, gbsGUID1, gbsGUID2)
	}

	if g.MetadataLength == 0 || g.MetadataLength >= gbsMaxMetadata {
		return nil, errors.Errorf("incorrect GBS metadata length %d", g.MetadataLength)
	}

	dec := json.NewDecoder(io.NewSectionReader(r, gbsHeaderLength, int64(g.MetadataLength)))
	if err := dec.Decode(&g.Info); err != nil {
		return nil, errors.Wrap(err, "unable to parse GBS metadata")
	}

	if n := len(g.Info.AfuImage.AcceleratorClusters); n != 1 {
		return nil, errors.Errorf("GBS metadata must describe exactly one accelerator, got %d", n)
	}

	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine GBS size")
	}

	start := int64(gbsHeaderLength) + int64(g.MetadataLength)
	if end < start {
		return nil, errors.Errorf("GBS truncated: %d bytes, metadata ends at %d", end, start)
	}

	g.Size = uint64(end - start)
	g.payload = io.NewSectionReader(r, start, int64(g.Size))

	return g, nil
}

// Close releases the underlying file if the image was opened by name.
func (g *GBS) Close() (err error) {
	if g.closer != nil {
		err = g.closer.Close()
		g.closer = nil
	}

	return
}

// PayloadReader implements Image.
func (g *GBS) PayloadReader() io.ReadSeeker {
	return io.NewSectionReader(g.payload, 0, int64(g.Size))
}

// Payload implements Image.
func (g *GBS) Payload() ([]byte, error) {
	data := make([]byte, g.Size)
	n, err := io.ReadFull(g.PayloadReader(), data)

	return data[:n], errors.WithStack(err)
}

func normalizeUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

// InterfaceID implements Image.
func (g *GBS) InterfaceID() string {
	return normalizeUUID(g.Info.AfuImage.InterfaceUUID)
}

// TypeID implements Image.
func (g *GBS) TypeID() string {
	if len(g.Info.AfuImage.AcceleratorClusters) != 1 {
		return ""
	}

	return normalizeUUID(g.Info.AfuImage.AcceleratorClusters[0].AcceleratorTypeUUID)
}

// UniqueID implements Image. For GBS it is the accelerator type.
func (g *GBS) UniqueID() string {
	return g.TypeID()
}

// InstallPath implements Image.
func (g *GBS) InstallPath(root string) string {
	return installPath(root, g, extGBS)
}

// Metadata implements Image.
func (g *GBS) Metadata() map[string]string {
	return map[string]string{
		"Platform": g.Info.PlatformName,
		"Size":     strconv.FormatUint(g.Size, 10),
	}
}

func installPath(root string, img Image, ext string) string {
	iface, uniq := img.InterfaceID(), img.UniqueID()
	if iface == "" || uniq == "" {
		return ""
	}

	return filepath.Join(root, iface, uniq+ext)
}
