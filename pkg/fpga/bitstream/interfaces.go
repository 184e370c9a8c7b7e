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

import "io"

// Image is a container file wrapping a raw FPGA configuration stream
// together with metadata identifying what it programs.
type Image interface {
	io.Closer
	// PayloadReader returns a reader over the raw configuration stream.
	PayloadReader() io.ReadSeeker
	// Payload returns the raw configuration stream.
	Payload() ([]byte, error)
	// InterfaceID is the ID of the static region the image fits into.
	InterfaceID() string
	// TypeID is the accelerator function ID the image provides.
	TypeID() string
	// UniqueID identifies the image among images with the same InterfaceID.
	UniqueID() string
	// InstallPath returns where the image is stored below root.
	InstallPath(root string) string
	// Metadata returns additional descriptive key/value pairs.
	Metadata() map[string]string
}
