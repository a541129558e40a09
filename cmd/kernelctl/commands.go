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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	showHistory bool

	rootCmd = &cobra.Command{
		Use:   "kernelctl",
		Short: "A cli to manage kernel sessions on an Aleutian kernel bridge",
		Long: `kernelctl talks to a running kernel bridge service: list the
				installed kernels, start and stop sessions, and interrupt
				a stuck kernel.`,
	}

	// --- Kernels ---
	kernelsCmd = &cobra.Command{
		Use:   "kernels",
		Short: "Inspect the kernelspec catalog",
	}
	kernelsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the kernels installed on the bridge",
		Run:   runKernelsList, // Defined in cmd_kernels.go
	}
	kernelsRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Force a rescan of the kernelspec directories",
		Run:   runKernelsRefresh,
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage kernel sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions on the bridge",
		Run:   runSessionsList, // Defined in cmd_sessions.go
	}
	sessionsStartCmd = &cobra.Command{
		Use:   "start [kernel]",
		Short: "Start a new kernel session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsStart,
	}
	sessionsStopCmd = &cobra.Command{
		Use:   "stop [session-id]",
		Short: "Shut a session down",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsStop,
	}
	sessionsInterruptCmd = &cobra.Command{
		Use:   "interrupt [session-id]",
		Short: "Send an interrupt to a session's kernel",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsInterrupt,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "kernelctl.yaml",
		"path to the kernelctl config file")

	sessionsListCmd.Flags().BoolVar(&showHistory, "history", false,
		"include sessions from earlier bridge runs")

	kernelsCmd.AddCommand(kernelsListCmd, kernelsRefreshCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsStartCmd,
		sessionsStopCmd, sessionsInterruptCmd)
	rootCmd.AddCommand(kernelsCmd, sessionsCmd)
}
