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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
)

func runSessionsList(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	if showHistory {
		var resp struct {
			Records []datatypes.SessionRecord `json:"records"`
		}
		if err := client.do(ctx, "GET", "/v1/sessions/history", nil, &resp); err != nil {
			log.Fatalf("Failed to list session history: %v", err)
		}
		if len(resp.Records) == 0 {
			fmt.Println("No session history.")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKERNEL\tSTATE\tSTARTED\tEXIT CODE")
		for _, rec := range resp.Records {
			exit := "-"
			if rec.ExitCode != nil {
				exit = fmt.Sprintf("%d", *rec.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.Kernel,
				rec.State, rec.StartedAt.Local().Format(time.RFC3339), exit)
		}
		w.Flush()
		return
	}

	var resp struct {
		Sessions []datatypes.SessionResponse `json:"sessions"`
	}
	if err := client.do(ctx, "GET", "/v1/sessions", nil, &resp); err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}
	if len(resp.Sessions) == 0 {
		fmt.Println("No live sessions.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKERNEL\tSTATE\tSTARTED\tCHANNELS")
	for _, sess := range resp.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", sess.ID, sess.Kernel,
			sess.State, sess.StartedAt.Local().Format(time.RFC3339), sess.Channels)
	}
	w.Flush()
}

func runSessionsStart(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	var sess datatypes.SessionResponse
	req := datatypes.CreateSessionRequest{Kernel: args[0]}
	if err := client.do(ctx, "POST", "/v1/sessions", req, &sess); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	fmt.Printf("Session %s started (kernel %s, state %s).\n",
		sess.ID, sess.Kernel, sess.State)
}

func runSessionsStop(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	if err := client.do(ctx, "DELETE", "/v1/sessions/"+args[0], nil, nil); err != nil {
		log.Fatalf("Failed to stop session: %v", err)
	}
	fmt.Printf("Session %s shut down.\n", args[0])
}

func runSessionsInterrupt(cmd *cobra.Command, args []string) {
	client := newBridgeClient(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()

	path := "/v1/sessions/" + args[0] + "/interrupt"
	if err := client.do(ctx, "POST", path, nil, nil); err != nil {
		log.Fatalf("Failed to interrupt session: %v", err)
	}
	fmt.Printf("Interrupt delivered to session %s.\n", args[0])
}
