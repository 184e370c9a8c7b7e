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

// Package sg describes memory as scatter-gather tables of page fragments so
// that flat buffers, dma-bufs and caller-built tables all reach an FPGA
// through the same write path.
package sg

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultMaxSegment is the largest entry AllocFromPages builds when the
// caller passes no limit.
const DefaultMaxSegment = math.MaxInt32

var (
	// PageSize is the memory page size of the host.
	PageSize = unix.Getpagesize()

	// ErrInvalid is returned when a page list can't describe the requested range.
	ErrInvalid = errors.New("invalid scatter-gather range")
)

// Page is one page frame. Only the bytes in Data are accessible, and
// Data[0] sits at in-page offset Base.
type Page struct {
	Data []byte
	PFN  uint64
	Base int
}

// NewPage returns a frame whose accessible bytes start at the beginning of the page.
func NewPage(pfn uint64, data []byte) *Page {
	return &Page{PFN: pfn, Data: data}
}

func (p *Page) bytes(off, n int) []byte {
	return p.Data[off-p.Base : off-p.Base+n]
}

// Entry is a run of physically adjacent pages. The described bytes start at
// Offset within the first page and span Length bytes.
type Entry struct {
	Pages  []*Page
	Offset int
	Length int
}

// Table is an ordered list of entries covering one logical byte range.
type Table struct {
	entries []Entry
}

// Entries returns the table entries in order.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Nents returns the number of entries.
func (t *Table) Nents() int {
	return len(t.entries)
}

// Len returns the number of bytes described by the table.
func (t *Table) Len() (n int) {
	for _, e := range t.entries {
		n += e.Length
	}

	return n
}

// Free drops the references the table holds to its pages.
func (t *Table) Free() {
	t.entries = nil
}

// AllocFromPages builds a table describing size bytes starting at offset
// within the first of pages. Pages with consecutive frame numbers are merged
// into one entry as long as the entry stays within maxSegment bytes. A
// maxSegment of zero selects DefaultMaxSegment.
func AllocFromPages(pages []*Page, offset, size, maxSegment int) (*Table, error) {
	if maxSegment == 0 {
		maxSegment = DefaultMaxSegment
	}

	if offset < 0 || offset >= PageSize || size < 0 || maxSegment < PageSize {
		return nil, errors.Wrapf(ErrInvalid, "offset %d size %d max segment %d", offset, size, maxSegment)
	}

	if offset+size > len(pages)*PageSize {
		return nil, errors.Wrapf(ErrInvalid, "%d pages can't hold %d bytes at offset %d", len(pages), size, offset)
	}

	if err := checkPages(pages, offset, size); err != nil {
		return nil, err
	}

	t := &Table{}

	for cur := 0; cur < len(pages) && size > 0; {
		segLen := PageSize
		next := cur + 1

		for ; next < len(pages); next++ {
			if pages[next].PFN != pages[next-1].PFN+1 || segLen+PageSize > maxSegment {
				break
			}

			segLen += PageSize
		}

		length := min(size, segLen-offset)
		t.entries = append(t.entries, Entry{
			Pages:  pages[cur:next],
			Offset: offset,
			Length: length,
		})

		size -= length
		offset = 0
		cur = next
	}

	return t, nil
}

// checkPages verifies that every page holds the in-page range the table
// will describe in it.
func checkPages(pages []*Page, offset, size int) error {
	for i, start := 0, offset; size > 0; i, start = i+1, 0 {
		end := min(PageSize, start+size)
		p := pages[i]

		if p == nil || p.Base < 0 || p.Base > start || p.Base+len(p.Data) < end {
			return errors.Wrapf(ErrInvalid, "page %d doesn't hold bytes [%d, %d)", i, start, end)
		}

		size -= end - start
	}

	return nil
}

// FromBuffer describes a virtually contiguous buffer as a table of the pages
// backing it. buf need not start on a page boundary.
func FromBuffer(buf []byte) (*Table, error) {
	if len(buf) == 0 {
		return &Table{}, nil
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	offset := int(addr % uintptr(PageSize))
	first := uint64(addr / uintptr(PageSize))
	nrPages := (offset + len(buf) + PageSize - 1) / PageSize

	pages := make([]*Page, nrPages)

	for i := range pages {
		start := i*PageSize - offset
		end := min(start+PageSize, len(buf))
		base := 0

		if start < 0 {
			base = -start
			start = 0
		}

		pages[i] = &Page{PFN: first + uint64(i), Base: base, Data: buf[start:end]}
	}

	return AllocFromPages(pages, offset, len(buf), 0)
}

// CopyToBuffer copies the leading bytes described by t into dst and returns
// the number of bytes copied.
func CopyToBuffer(t *Table, dst []byte) int {
	var n int

	it := NewMappingIter(t)
	defer it.Stop()

	for n < len(dst) && it.Next() {
		n += copy(dst[n:], it.Addr)
	}

	return n
}
