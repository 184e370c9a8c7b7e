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

package firmware

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CachingLoader keeps images returned by another loader in memory until a
// change in one of the watched directories invalidates them.
type CachingLoader struct {
	next    Loader
	watcher *fsnotify.Watcher
	cache   map[string]*cached
	done    chan struct{}
	wg      sync.WaitGroup
	mutex   sync.Mutex
}

type cached struct {
	fw    *Firmware
	users int
}

// NewCachingLoader wraps next and watches dirs for changes. Directories that
// don't exist are skipped.
func NewCachingLoader(next Loader, dirs ...string) (*CachingLoader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create watcher")
	}

	for _, dir := range dirs {
		if err = w.Add(dir); err != nil {
			klog.V(4).Infof("not watching %s: %v", dir, err)
		}
	}

	c := &CachingLoader{
		next:    next,
		watcher: w,
		cache:   make(map[string]*cached),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)

	go c.watch()

	return c, nil
}

func (c *CachingLoader) watch() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			klog.V(4).Infof("firmware cache invalidated by %s", ev)
			c.Flush()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			klog.Warningf("firmware watcher: %v", err)
		}
	}
}

// Request implements Loader.
func (c *CachingLoader) Request(name, device string) (*Firmware, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.cache[name]
	if !ok {
		fw, err := c.next.Request(name, device)
		if err != nil {
			return nil, err
		}

		entry = &cached{fw: fw}
		c.cache[name] = entry
	}

	entry.users++

	return &Firmware{
		Name:    entry.fw.Name,
		Path:    entry.fw.Path,
		Data:    entry.fw.Data,
		release: func() { c.release(entry) },
	}, nil
}

func (c *CachingLoader) release(entry *cached) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry.users--
	if entry.users == 0 && c.cache[entry.fw.Name] != entry {
		entry.fw.Release()
	}
}

// Cached reports whether name is held in memory.
func (c *CachingLoader) Cached(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, ok := c.cache[name]

	return ok
}

// Flush drops every cached image. Images still in use are released by
// their last user.
func (c *CachingLoader) Flush() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for name, entry := range c.cache {
		delete(c.cache, name)

		if entry.users == 0 {
			entry.fw.Release()
		}
	}
}

// Close stops watching and empties the cache.
func (c *CachingLoader) Close() error {
	close(c.done)
	err := c.watcher.Close()
	c.wg.Wait()
	c.Flush()

	return errors.WithStack(err)
}
