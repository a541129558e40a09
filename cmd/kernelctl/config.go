// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

var configValidate = validator.New()

// Config is the kernelctl configuration, loaded from kernelctl.yaml with
// environment variable overrides.
type Config struct {
	// BridgeURL is the base URL of the kernel bridge service.
	BridgeURL string `yaml:"bridge_url" validate:"required,url"`

	// AuthToken is the bearer token for the bridge, if it requires one.
	AuthToken string `yaml:"auth_token"`

	// TimeoutSeconds bounds each HTTP request to the bridge.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=1,lte=300"`
}

// DefaultConfig returns the local-mode defaults.
func DefaultConfig() Config {
	return Config{
		BridgeURL:      "http://localhost:12250",
		TimeoutSeconds: 30,
	}
}

// ApplyEnv overlays environment variables onto the file configuration.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("KERNELBRIDGE_URL"); v != "" {
		c.BridgeURL = v
	}
	if v := os.Getenv("KERNELBRIDGE_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
