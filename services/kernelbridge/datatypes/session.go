// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire and persistence types shared by the
// kernelbridge service, its handlers and its CLI client.
package datatypes

import "time"

// SessionState describes where a kernel session is in its lifecycle.
type SessionState string

const (
	// SessionStarting means the kernel process was spawned but the
	// transport is not connected yet.
	SessionStarting SessionState = "starting"

	// SessionReady means the transport is connected and channels can be
	// opened.
	SessionReady SessionState = "ready"

	// SessionExited means the kernel process exited on its own.
	SessionExited SessionState = "exited"

	// SessionShutdown means the bridge stopped the session deliberately.
	SessionShutdown SessionState = "shutdown"
)

// SessionRecord is the persisted description of a kernel session. Stored
// in BadgerDB so session history survives bridge restarts.
type SessionRecord struct {
	ID        string       `json:"id"`
	Kernel    string       `json:"kernel"`
	State     SessionState `json:"state"`
	LogPath   string       `json:"log_path,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	ExitCode  *int         `json:"exit_code,omitempty"`
}

// CreateSessionRequest starts a new kernel session.
type CreateSessionRequest struct {
	// Kernel is the kernelspec name to launch.
	Kernel string `json:"kernel" binding:"required"`
}

// SessionResponse is the API view of a session.
type SessionResponse struct {
	ID        string       `json:"id"`
	Kernel    string       `json:"kernel"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	Channels  int          `json:"channels"`
}

// KernelSpecResponse is the API view of an installed kernelspec.
type KernelSpecResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}
