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

// MappingIter walks a table yielding one virtually contiguous fragment at a
// time. A fragment never crosses a page boundary.
type MappingIter struct {
	t     *Table
	entry int
	done  int

	// Addr is the current fragment. It is valid until the next call to Next or Stop.
	Addr []byte
	// Length is len(Addr).
	Length int
}

// NewMappingIter starts an iteration over t.
func NewMappingIter(t *Table) *MappingIter {
	return &MappingIter{t: t}
}

// Next advances to the next fragment and reports whether there is one.
func (it *MappingIter) Next() bool {
	if it.t == nil {
		return false
	}

	it.done += it.Length
	it.Addr, it.Length = nil, 0

	for it.entry < len(it.t.entries) {
		e := &it.t.entries[it.entry]
		if it.done >= e.Length {
			it.entry++
			it.done = 0

			continue
		}

		pos := e.Offset + it.done
		inPage := pos % PageSize
		n := min(PageSize-inPage, e.Length-it.done)

		it.Addr = e.Pages[pos/PageSize].bytes(inPage, n)
		it.Length = n

		return true
	}

	return false
}

// Stop ends the iteration. Next returns false afterwards.
func (it *MappingIter) Stop() {
	it.t = nil
	it.Addr = nil
	it.Length = 0
}
