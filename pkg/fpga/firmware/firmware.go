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

// Package firmware resolves firmware names to image bytes the way the
// kernel firmware loader does, searching a fixed list of directories.
package firmware

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/bitstream"
)

// DefaultRoot is the base of the default search path.
const DefaultRoot = "/lib/firmware"

var (
	// ErrNotFound is returned when no search directory holds the name.
	ErrNotFound = errors.New("firmware not found")
	// ErrBadName is returned for empty names or names escaping the search path.
	ErrBadName = errors.New("invalid firmware name")
)

// Firmware is a loaded image. Release must be called when done with Data.
type Firmware struct {
	release func()
	Name    string
	Path    string
	Data    []byte
}

// Release drops the caller's hold on the image.
func (f *Firmware) Release() {
	if f == nil {
		return
	}

	if f.release != nil {
		f.release()
		f.release = nil
	}

	f.Data = nil
}

// Loader resolves a firmware name on behalf of device.
type Loader interface {
	Request(name, device string) (*Firmware, error)
}

// DirLoader reads firmware from a list of directories, first match wins.
type DirLoader struct {
	paths []string
	raw   bool
}

// Option configures a DirLoader.
type Option func(*DirLoader)

// WithPaths replaces the default search path.
func WithPaths(paths ...string) Option {
	return func(l *DirLoader) {
		l.paths = paths
	}
}

// WithCustomPath puts path in front of the search list.
func WithCustomPath(path string) Option {
	return func(l *DirLoader) {
		if path != "" {
			l.paths = append([]string{path}, l.paths...)
		}
	}
}

// WithRawImages disables unwrapping of container formats.
func WithRawImages() Option {
	return func(l *DirLoader) {
		l.raw = true
	}
}

// DefaultPaths returns the search path used by the kernel loader.
func DefaultPaths(root string) []string {
	release := ""

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		release = unix.ByteSliceToString(uts.Release[:])
	}

	paths := []string{filepath.Join(root, "updates")}
	if release != "" {
		paths = []string{
			filepath.Join(root, "updates", release),
			filepath.Join(root, "updates"),
			filepath.Join(root, release),
		}
	}

	return append(paths, root)
}

// NewDirLoader returns a loader over the default search path adjusted by opts.
func NewDirLoader(opts ...Option) *DirLoader {
	l := &DirLoader{paths: DefaultPaths(DefaultRoot)}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Paths returns the search path in lookup order.
func (l *DirLoader) Paths() []string {
	return append([]string(nil), l.paths...)
}

// ValidateName rejects names the loader refuses to resolve.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(ErrBadName, "empty name")
	}

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return errors.Wrapf(ErrBadName, "%s contains ..", name)
		}
	}

	return nil
}

// Request implements Loader.
func (l *DirLoader) Request(name, device string) (*Firmware, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	for _, dir := range l.paths {
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			klog.V(4).Infof("%s: skipping %s: %v", device, path, err)
			continue
		}

		if !l.raw {
			if data, err = bitstream.Unwrap(name, data); err != nil {
				return nil, errors.Wrapf(err, "%s: unwrap %s", device, path)
			}
		}

		klog.V(2).Infof("%s: loaded firmware %s from %s (%d bytes)", device, name, path, len(data))

		return &Firmware{Name: name, Path: path, Data: data}, nil
	}

	return nil, errors.Wrapf(ErrNotFound, "%s: %s", device, name)
}

// Install copies src into the first search directory under name.
func (l *DirLoader) Install(src, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	if len(l.paths) == 0 {
		return "", errors.New("empty firmware search path")
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", errors.WithStack(err)
	}

	dst := filepath.Join(l.paths[0], name)
	if err = os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", errors.WithStack(err)
	}

	if err = os.WriteFile(dst, data, 0644); err != nil {
		return "", errors.WithStack(err)
	}

	return dst, nil
}
