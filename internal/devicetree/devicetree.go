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

// Package devicetree locates FPGA manager nodes in a flattened device tree
// blob so that registered managers can be bound to their OF node.
package devicetree

import (
	"encoding/binary"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/platinasystems/fdt"
)

const (
	// DefaultPath is where the running kernel exposes its device tree blob.
	DefaultPath = "/sys/firmware/fdt"

	fdtMagic      = 0xd00dfeed
	fdtHeaderSize = 40

	compatibleProp = "compatible"
)

// Tree is a parsed device tree.
type Tree struct {
	fdt *fdt.Tree
}

// Load reads and parses the device tree blob stored at path.
func Load(path string) (*Tree, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read device tree %s", path)
	}

	return Parse(blob)
}

// Parse parses a flattened device tree blob.
func Parse(blob []byte) (tree *Tree, err error) {
	if len(blob) < fdtHeaderSize {
		return nil, errors.Errorf("device tree blob too short: %d bytes", len(blob))
	}

	if magic := binary.BigEndian.Uint32(blob); magic != fdtMagic {
		return nil, errors.Errorf("bad device tree magic 0x%08x", magic)
	}

	if total := binary.BigEndian.Uint32(blob[4:]); int(total) > len(blob) {
		return nil, errors.Errorf("device tree blob truncated: %d of %d bytes", len(blob), total)
	}

	// The parser indexes the blob without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			tree, err = nil, errors.Errorf("malformed device tree: %v", r)
		}
	}()

	t := &fdt.Tree{}
	if err = t.Parse(blob); err != nil {
		return nil, errors.Wrap(err, "malformed device tree")
	}

	if t.RootNode == nil {
		return nil, errors.New("device tree has no root node")
	}

	return &Tree{fdt: t}, nil
}

// Root returns the root node.
func (t *Tree) Root() *fdt.Node {
	return t.fdt.RootNode
}

// Find returns the node with the given full name, e.g. "fpga-mgr@ff706000".
// A name matching several nodes is rejected.
func (t *Tree) Find(name string) (*fdt.Node, error) {
	var found []*fdt.Node

	t.fdt.MatchNode(name, func(n *fdt.Node) {
		found = append(found, n)
	})

	switch len(found) {
	case 0:
		return nil, errors.Errorf("device tree node %q not found", name)
	case 1:
		return found[0], nil
	default:
		return nil, errors.Errorf("device tree node name %q is ambiguous (%d matches)", name, len(found))
	}
}

// FindCompatible returns all nodes listing compat in their compatible
// property, ordered by node name.
func (t *Tree) FindCompatible(compat string) []*fdt.Node {
	var found []*fdt.Node

	walk(t.fdt.RootNode, func(n *fdt.Node) {
		for _, c := range Compatible(n) {
			if c == compat {
				found = append(found, n)
				return
			}
		}
	})

	sort.Slice(found, func(i, j int) bool {
		return found[i].Name < found[j].Name
	})

	return found
}

// Compatible returns the compatible strings of the node.
func Compatible(n *fdt.Node) []string {
	return StringList(n, compatibleProp)
}

// StringList decodes a NUL separated string list property.
func StringList(n *fdt.Node, prop string) []string {
	if n == nil {
		return nil
	}

	value, ok := n.Properties[prop]
	if !ok || len(value) == 0 {
		return nil
	}

	return strings.Split(strings.TrimRight(string(value), "\x00"), "\x00")
}

// String returns the first string of a string property.
func String(n *fdt.Node, prop string) string {
	if list := StringList(n, prop); len(list) > 0 {
		return list[0]
	}

	return ""
}

// UnitName strips the unit address from a node name.
func UnitName(n *fdt.Node) string {
	name, _, _ := strings.Cut(n.Name, "@")
	return name
}

func walk(n *fdt.Node, f func(*fdt.Node)) {
	if n == nil {
		return
	}

	f(n)

	children := make([]string, 0, len(n.Children))
	for name := range n.Children {
		children = append(children, name)
	}

	sort.Strings(children)

	for _, name := range children {
		walk(n.Children[name], f)
	}
}
