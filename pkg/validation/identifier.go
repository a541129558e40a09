// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths, store keys, or subprocess calls. Using these validators
// prevents injection attacks (command injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// kernelNamePattern matches valid kernel names.
// Kernel names become directory names and log file components, so the
// character set is deliberately narrow: lowercase letters, digits, dots,
// hyphens and underscores, matching the Jupyter kernelspec convention.
// Max length: 64 characters.
var kernelNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// commIDPattern matches valid comm and session identifiers: UUIDs plus
// the short opaque ids some frontends generate. Alphanumeric, hyphens,
// underscores, 1-64 characters.
var commIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateKernelName validates a kernel name before it is used to build
// file paths or launch a process.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9
//   - Dots (.), underscores (_) and hyphens (-) after the first character
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateKernelName(name); err != nil {
//	    return nil, fmt.Errorf("invalid kernel: %w", err)
//	}
//	// Safe to use in a log file path
func ValidateKernelName(name string) error {
	if name == "" {
		return fmt.Errorf("kernel name cannot be empty")
	}
	if !kernelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid kernel name: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", name)
	}
	return nil
}

// ValidateID validates a session or comm identifier before it is used as
// a store key or path component.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !commIDPattern.MatchString(id) {
		return fmt.Errorf("invalid id: %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// SanitizeKernelName normalizes and validates a kernel name.
// Returns the lowercase name if valid, or an error if invalid.
func SanitizeKernelName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateKernelName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
