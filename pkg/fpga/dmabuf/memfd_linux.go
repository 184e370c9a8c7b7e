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

package dmabuf

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NewMemfd copies data into an anonymous shared memory file and returns a
// Buffer backed by a mapping of it. The file and mapping are released with
// the last reference.
func NewMemfd(name string, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.Errorf("%s: can't back an empty dma-buf", name)
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("memfd_create", err), name)
	}

	if err = unix.Ftruncate(fd, int64(len(data))); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("ftruncate", err), name)
	}

	mem, err := unix.Mmap(fd, 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(os.NewSyscallError("mmap", err), name)
	}

	copy(mem, data)

	return NewWithRelease(name, mem, func() error {
		merr := unix.Munmap(mem)
		cerr := unix.Close(fd)

		if merr != nil {
			return errors.Wrap(merr, "munmap")
		}

		return errors.Wrap(cerr, "close")
	}), nil
}
