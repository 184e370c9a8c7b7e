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

package mgr

import (
	"time"

	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

// KeyLen is the size of a user supplied bitstream decryption key.
const KeyLen = 64

// ImageInfo describes one programming request. Exactly one source should be
// set; Load picks the first of dma-buf, SGT, Buf and FirmwareName.
type ImageInfo struct {
	dev *Device

	// SGT is a caller built table. Load also sets it while a dma-buf is mapped.
	SGT *sg.Table
	// Buf is an image in memory. A non-nil empty slice is still a source.
	Buf []byte
	// FirmwareName is looked up by the registry's firmware loader.
	FirmwareName string
	// DmaBufFD names an exported dma-buf. Used when FlagConfigDmaBuf is set.
	DmaBufFD int

	Flags Flags
	Key   [KeyLen]byte

	EnableTimeout         time.Duration
	DisableTimeout        time.Duration
	ConfigCompleteTimeout time.Duration
}

// NewImageInfo returns an empty descriptor owned by dev.
func NewImageInfo(dev *Device) *ImageInfo {
	return &ImageInfo{dev: dev, DmaBufFD: -1}
}

// Device returns the owner given to NewImageInfo.
func (info *ImageInfo) Device() *Device {
	return info.dev
}

// Free drops the references held by the descriptor.
func (info *ImageInfo) Free() {
	if info == nil {
		return
	}

	info.FirmwareName = ""
	info.Buf = nil
	info.SGT = nil
	info.dev = nil
}
