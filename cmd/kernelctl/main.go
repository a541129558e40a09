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
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// .env is optional; it carries KERNELBRIDGE_AUTH_TOKEN in dev setups.
		_ = godotenv.Load()

		config = DefaultConfig()
		if raw, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(raw, &config); err != nil {
				log.Fatalf("Error parsing %s: %v", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("Error reading %s: %v", configPath, err)
		}
		config.ApplyEnv()
		if err := config.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}
}
