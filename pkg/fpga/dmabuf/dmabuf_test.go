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

package dmabuf

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/intel/intel-fpga-manager/pkg/fpga/sg"
)

func TestBufferRefs(t *testing.T) {
	released := 0
	b := New("test", []byte("payload"))
	b.release = func() error {
		released++
		return nil
	}

	if err := b.Get(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if b.Refs() != 2 {
		t.Errorf("expected 2 references, got %d", b.Refs())
	}

	for i := 0; i < 2; i++ {
		if err := b.Put(); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
	}

	if released != 1 {
		t.Errorf("expected one release, got %d", released)
	}

	if err := b.Get(); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased, got %v", err)
	}

	if _, err := b.Attach("fpga0"); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased on attach, got %v", err)
	}
}

func TestAttachMap(t *testing.T) {
	data := bytes.Repeat([]byte{0xa5}, 3*sg.PageSize+7)
	b := New("test", data)

	a, err := b.Attach("fpga0")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if b.Attachments() != 1 {
		t.Errorf("expected 1 attachment, got %d", b.Attachments())
	}

	tbl, err := a.Map(ToDevice)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if _, err = a.Map(ToDevice); err == nil {
		t.Error("expected double map to fail")
	}

	got := make([]byte, tbl.Len())
	sg.CopyToBuffer(tbl, got)

	if !bytes.Equal(got, data) {
		t.Error("mapped table doesn't describe the buffer")
	}

	a.Unmap(tbl, ToDevice)

	if a.Mapped() {
		t.Error("attachment still mapped")
	}

	a.Detach()

	if b.Attachments() != 0 {
		t.Errorf("expected no attachments, got %d", b.Attachments())
	}
}

func TestExporter(t *testing.T) {
	tcases := []struct {
		name      string
		fd        func(fd int) int
		expectErr bool
	}{
		{
			name: "Known handle",
			fd:   func(fd int) int { return fd },
		},
		{
			name:      "Unknown handle",
			fd:        func(fd int) int { return fd + 100 },
			expectErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewExporter()
			b := New("test", []byte("x"))

			fd, err := e.Export(b)
			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}

			got, err := e.Get(tc.fd(fd))
			if tc.expectErr {
				if !errors.Is(err, ErrBadHandle) {
					t.Errorf("expected ErrBadHandle, got %v", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}

			if got != b || b.Refs() != 3 {
				t.Errorf("unexpected buffer or refcount %d", b.Refs())
			}

			if err = got.Put(); err != nil {
				t.Error(err)
			}

			if err = e.Close(fd); err != nil {
				t.Error(err)
			}

			if b.Refs() != 1 {
				t.Errorf("expected creator reference only, got %d", b.Refs())
			}

			if err = e.Close(fd); !errors.Is(err, ErrBadHandle) {
				t.Errorf("expected ErrBadHandle on double close, got %v", err)
			}
		})
	}
}

func TestMemfd(t *testing.T) {
	data := []byte("bitstream")

	b, err := NewMemfd("memfd-test", data)
	if err != nil {
		t.Skipf("memfd unavailable: %v", err)
	}

	a, err := b.Attach("fpga0")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	tbl, err := a.Map(ToDevice)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	got := make([]byte, len(data))
	if n := sg.CopyToBuffer(tbl, got); n != len(data) || !bytes.Equal(got, data) {
		t.Errorf("got %q", got[:n])
	}

	a.Unmap(tbl, ToDevice)
	a.Detach()

	if err = b.Put(); err != nil {
		t.Errorf("release failed: %+v", err)
	}

	if _, err = NewMemfd("empty", nil); err == nil {
		t.Error("expected error for empty buffer")
	}
}
