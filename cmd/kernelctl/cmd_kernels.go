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
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
)

func runKernelsList(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	var resp struct {
		Kernels []datatypes.KernelSpecResponse `json:"kernels"`
	}
	if err := client.do(ctx, "GET", "/v1/kernels", nil, &resp); err != nil {
		log.Fatalf("Failed to list kernels: %v", err)
	}
	if len(resp.Kernels) == 0 {
		fmt.Println("No kernels installed.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISPLAY NAME\tLANGUAGE")
	for _, k := range resp.Kernels {
		fmt.Fprintf(w, "%s\t%s\t%s\n", k.Name, k.DisplayName, k.Language)
	}
	w.Flush()
}

func runKernelsRefresh(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	var resp struct {
		Count int `json:"count"`
	}
	if err := client.do(ctx, "POST", "/v1/kernels/refresh", nil, &resp); err != nil {
		log.Fatalf("Failed to refresh kernels: %v", err)
	}
	fmt.Printf("Catalog refreshed: %d kernels.\n", resp.Count)
}
