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

package sg

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func framesAt(pfns ...uint64) []*Page {
	pages := make([]*Page, len(pfns))
	for i, pfn := range pfns {
		data := make([]byte, PageSize)
		for j := range data {
			data[j] = byte(int(pfn) + j)
		}

		pages[i] = NewPage(pfn, data)
	}

	return pages
}

func entryShape(t *Table) [][3]int {
	var shape [][3]int
	for _, e := range t.Entries() {
		shape = append(shape, [3]int{len(e.Pages), e.Offset, e.Length})
	}

	return shape
}

func TestAllocFromPages(t *testing.T) {
	tcases := []struct {
		name          string
		pfns          []uint64
		offset        int
		size          int
		maxSegment    int
		lastLen       int
		lastBase      int
		expectedShape [][3]int
		expectedErr   bool
	}{
		{
			name:          "adjacent frames merge",
			pfns:          []uint64{10, 11, 12},
			size:          3 * PageSize,
			expectedShape: [][3]int{{3, 0, 3 * PageSize}},
		},
		{
			name:          "gap splits entries",
			pfns:          []uint64{10, 11, 20},
			offset:        16,
			size:          3*PageSize - 32,
			expectedShape: [][3]int{{2, 16, 2*PageSize - 16}, {1, 0, PageSize - 16}},
		},
		{
			name:          "max segment splits adjacent frames",
			pfns:          []uint64{1, 2, 3, 4},
			size:          4 * PageSize,
			maxSegment:    2 * PageSize,
			expectedShape: [][3]int{{2, 0, 2 * PageSize}, {2, 0, 2 * PageSize}},
		},
		{
			name: "zero size gives empty table",
			pfns: []uint64{1},
		},
		{
			name:        "offset past the first page",
			pfns:        []uint64{1, 2},
			offset:      PageSize,
			size:        1,
			expectedErr: true,
		},
		{
			name:        "range longer than pages",
			pfns:        []uint64{1},
			offset:      1,
			size:        PageSize,
			expectedErr: true,
		},
		{
			name:        "short page",
			pfns:        []uint64{10},
			size:        200,
			lastLen:     100,
			expectedErr: true,
		},
		{
			name:        "page data starts past the range",
			pfns:        []uint64{10, 11},
			offset:      8,
			size:        PageSize,
			lastBase:    16,
			lastLen:     PageSize - 16,
			expectedErr: true,
		},
		{
			name:          "short last page holding the tail",
			pfns:          []uint64{10, 11},
			size:          PageSize + 100,
			lastLen:       100,
			expectedShape: [][3]int{{2, 0, PageSize + 100}},
		},
		{
			name:        "max segment below page size",
			pfns:        []uint64{1},
			size:        1,
			maxSegment:  1,
			expectedErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			pages := framesAt(tc.pfns...)
			if tc.lastLen > 0 {
				last := pages[len(pages)-1]
				last.Base = tc.lastBase
				last.Data = last.Data[:tc.lastLen]
			}

			tbl, err := AllocFromPages(pages, tc.offset, tc.size, tc.maxSegment)
			if tc.expectedErr {
				if err == nil {
					t.Error("expected error, got none")
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}

			if diff := cmp.Diff(tc.expectedShape, entryShape(tbl)); diff != "" {
				t.Errorf("unexpected entries (-want +got):\n%s", diff)
			}

			if tbl.Len() != tc.size {
				t.Errorf("expected length %d, got %d", tc.size, tbl.Len())
			}
		})
	}
}

func TestFromBufferRoundTrip(t *testing.T) {
	backing := make([]byte, 6*PageSize)
	for i := range backing {
		backing[i] = byte(i * 7)
	}

	for _, offset := range []int{0, 1, 100, PageSize - 1} {
		for _, length := range []int{0, 1, 17, PageSize, 4096, 3*PageSize + 17} {
			buf := backing[offset : offset+length]

			tbl, err := FromBuffer(buf)
			if err != nil {
				t.Fatalf("offset %d length %d: unexpected error: %+v", offset, length, err)
			}

			if tbl.Len() != length {
				t.Errorf("offset %d length %d: table describes %d bytes", offset, length, tbl.Len())
			}

			var got []byte

			it := NewMappingIter(tbl)
			for it.Next() {
				if it.Length > PageSize || it.Length != len(it.Addr) {
					t.Errorf("offset %d length %d: bad fragment length %d", offset, length, it.Length)
				}

				got = append(got, it.Addr...)
			}
			it.Stop()

			if !bytes.Equal(got, buf) {
				t.Errorf("offset %d length %d: fragments don't reproduce the buffer", offset, length)
			}

			copied := make([]byte, length)
			if n := CopyToBuffer(tbl, copied); n != length || !bytes.Equal(copied, buf) {
				t.Errorf("offset %d length %d: CopyToBuffer copied %d bytes", offset, length, n)
			}
		}
	}
}

func TestFromBufferMergesVirtualPages(t *testing.T) {
	buf := make([]byte, 5*PageSize)

	tbl, err := FromBuffer(buf[3:])
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if tbl.Nents() != 1 {
		t.Errorf("expected a single entry for contiguous memory, got %d", tbl.Nents())
	}
}

func TestMappingIterFragments(t *testing.T) {
	tbl, err := AllocFromPages(framesAt(4, 5, 9), 10, 2*PageSize, 0)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	var lengths []int

	it := NewMappingIter(tbl)
	for it.Next() {
		lengths = append(lengths, it.Length)
	}

	if it.Next() {
		t.Error("iterator restarted after exhaustion")
	}

	expected := []int{PageSize - 10, PageSize, 10}
	if diff := cmp.Diff(expected, lengths); diff != "" {
		t.Errorf("unexpected fragments (-want +got):\n%s", diff)
	}
}

func TestCopyToBufferShortDestination(t *testing.T) {
	tbl, err := AllocFromPages(framesAt(1, 3), PageSize-2, 6, 0)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	dst := make([]byte, 4)
	if n := CopyToBuffer(tbl, dst); n != 4 {
		t.Fatalf("expected 4 bytes, got %d", n)
	}

	pages := framesAt(1, 3)
	expected := []byte{pages[0].Data[PageSize-2], pages[0].Data[PageSize-1], pages[1].Data[0], pages[1].Data[1]}

	if !bytes.Equal(dst, expected) {
		t.Errorf("expected %v, got %v", expected, dst)
	}
}
