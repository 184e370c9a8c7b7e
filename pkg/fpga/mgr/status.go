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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Flags select how an image is applied. Only FlagUserKeyEncrypted and
// FlagConfigDmaBuf are acted upon here, the rest are for drivers.
type Flags uint32

// Image flags.
const (
	FlagPartialReconfig Flags = 1 << iota
	FlagExternalConfig
	FlagEncryptedBitstream
	FlagBitstreamLSBFirst
	FlagCompressedBitstream
	FlagUserKeyEncrypted
	FlagDDRMemAuth
	FlagSecureMemAuth
	FlagConfigDmaBuf
)

var flagNames = []string{
	"partial-reconfig",
	"external-config",
	"encrypted",
	"lsb-first",
	"compressed",
	"userkey-encrypted",
	"ddr-mem-auth",
	"secure-mem-auth",
	"dma-buf",
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}

	var names []string

	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
			f &^= 1 << i
		}
	}

	if f != 0 {
		names = append(names, "0x"+strconv.FormatUint(uint64(f), 16))
	}

	return strings.Join(names, "|")
}

// ParseFlags accepts either a hexadecimal mask, as found in the flags
// attribute, or a "|" separated list of flag names.
func ParseFlags(s string) (Flags, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return 0, nil
	}

	if v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32); err == nil {
		return Flags(v), nil
	}

	var f Flags

	for _, part := range strings.Split(s, "|") {
		found := false

		for i, name := range flagNames {
			if strings.TrimSpace(part) == name {
				f |= 1 << i
				found = true

				break
			}
		}

		if !found {
			return 0, errors.Errorf("unknown image flag %q", part)
		}
	}

	return f, nil
}

// Status is the hardware status bitmask reported by a driver.
type Status uint64

// Status bits.
const (
	StatusOperationErr Status = 1 << iota
	StatusCRCErr
	StatusIncompatibleImageErr
	StatusIPProtocolErr
	StatusFIFOOverflowErr
	StatusSecurityErr
	StatusDeviceInitErr
	StatusSignalErr
	StatusHighZStateErr
	StatusEOSErr
	StatusFirmwareReqErr
)

var statusLines = []string{
	"reconfig operation error",
	"reconfig CRC error",
	"reconfig incompatible image",
	"reconfig IP protocol error",
	"reconfig fifo overflow error",
	"reconfig security error",
	"initialization has not finished",
	"device internal signal error",
	"all I/Os are placed in High-Z state",
	"start-up sequence has not finished",
	"firmware request error",
}

// Decode returns one line per recognized bit. Unknown bits are ignored.
func (s Status) Decode() []string {
	var lines []string

	for i, line := range statusLines {
		if s&(1<<i) != 0 {
			lines = append(lines, line)
		}
	}

	return lines
}

func (s Status) String() string {
	var b strings.Builder

	for _, line := range s.Decode() {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	return b.String()
}

// ParseStatus reverses String.
func ParseStatus(report string) (Status, error) {
	var s Status

	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		found := false

		for i, known := range statusLines {
			if line == known {
				s |= 1 << i
				found = true

				break
			}
		}

		if !found {
			return 0, errors.Errorf("unknown status line %q", line)
		}
	}

	return s, nil
}
