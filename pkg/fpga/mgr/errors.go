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
	"github.com/pkg/errors"
)

var (
	// ErrBusy is returned when another operation holds the manager lock.
	ErrBusy = errors.New("FPGA manager is in use")
	// ErrInvalidImage is returned when an ImageInfo names no source.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNotSupported is returned when the driver lacks an optional capability.
	ErrNotSupported = errors.New("not supported")
	// ErrNotOperating is returned by Read when the device isn't operating.
	ErrNotOperating = errors.New("FPGA is not operating")
	// ErrInvalidOps is returned by Create for incomplete drivers.
	ErrInvalidOps = errors.New("invalid low level driver")
	// ErrNoName is returned by Create for an empty name.
	ErrNoName = errors.New("attempt to register with no name")
	// ErrNoDevice is returned when no registered manager matches a lookup.
	ErrNoDevice = errors.New("no such FPGA manager")
	// ErrExists is returned by Register for duplicates.
	ErrExists = errors.New("FPGA manager already registered")
)
