// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernels manages kernel runtimes: kernelspec discovery, process
// launch with log capture, the session registry, and session persistence.
package kernels

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// Kernelspecs
// =============================================================================

// specFileName is the kernelspec manifest inside each kernel directory,
// following the Jupyter layout: <dir>/<name>/kernel.json.
const specFileName = "kernel.json"

// watchDebounce coalesces bursts of filesystem events into one refresh.
const watchDebounce = 500 * time.Millisecond

// KernelSpec describes an installed kernel runtime.
type KernelSpec struct {
	// Name is the directory name the spec was loaded from.
	Name string `json:"-"`

	// DisplayName is the human-readable kernel name.
	DisplayName string `json:"display_name"`

	// Language is the runtime language, e.g. "python" or "r".
	Language string `json:"language"`

	// Argv is the launch command. The {connection_file} placeholder is
	// replaced with the path of the session's connection file.
	Argv []string `json:"argv"`

	// Env is extra environment for the kernel process, KEY=VALUE.
	Env map[string]string `json:"env,omitempty"`
}

// Catalog is the set of kernelspecs discovered under the configured
// spec directories. Safe for concurrent use.
type Catalog struct {
	dirs   []string
	logger *slog.Logger

	mu    sync.RWMutex
	specs map[string]KernelSpec
}

// NewCatalog creates a catalog over the given spec directories and loads
// it once. Missing directories are skipped, not an error.
func NewCatalog(dirs []string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{dirs: dirs, logger: logger, specs: make(map[string]KernelSpec)}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh rescans the spec directories. Individual broken specs are
// logged and skipped so one bad kernel.json cannot hide the rest.
func (c *Catalog) Refresh() error {
	specs := make(map[string]KernelSpec)
	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("kernels: read spec dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), specFileName)
			spec, err := loadSpec(path)
			if err != nil {
				if !os.IsNotExist(err) {
					c.logger.Warn("skipping broken kernelspec",
						"path", path, "error", err)
				}
				continue
			}
			spec.Name = entry.Name()
			specs[spec.Name] = spec
		}
	}
	c.mu.Lock()
	c.specs = specs
	c.mu.Unlock()
	c.logger.Info("kernelspec catalog refreshed", "count", len(specs))
	return nil
}

// Get returns the spec for a kernel name.
func (c *Catalog) Get(name string) (KernelSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[name]
	return spec, ok
}

// List returns all specs sorted by name.
func (c *Catalog) List() []KernelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]KernelSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch refreshes the catalog whenever a spec directory changes, until
// done is closed. Events are debounced. Blocking; run in a goroutine.
func (c *Catalog) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kernels: create watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range c.dirs {
		if err := watcher.Add(dir); err != nil {
			c.logger.Warn("cannot watch spec dir", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return nil
	}

	var pending *time.Timer
	refresh := make(chan struct{}, 1)
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if pending == nil {
				pending = time.AfterFunc(watchDebounce, func() {
					select {
					case refresh <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(watchDebounce)
			}
		case <-refresh:
			pending = nil
			if err := c.Refresh(); err != nil {
				c.logger.Error("kernelspec refresh failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("kernelspec watcher error", "error", err)
		case <-done:
			return nil
		}
	}
}

func loadSpec(path string) (KernelSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KernelSpec{}, err
	}
	var spec KernelSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return KernelSpec{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(spec.Argv) == 0 {
		return KernelSpec{}, fmt.Errorf("parse %s: empty argv", path)
	}
	return spec, nil
}
