// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package comm

// =============================================================================
// Channel States
// =============================================================================

// ClientState is the lifecycle state of a comm channel client.
//
// A client is in exactly one state at a time. Transitions are driven only
// by local Open/Close calls and by inbound transport events:
//
//	Uninitialized ──Open()──► Opening ──ack/ready──► Connected
//	Connected ──Close()──► Closing ──► Closed
//	any state ──comm_close / transport loss──► Closed
type ClientState int

const (
	// StateUninitialized is the state of a freshly constructed client.
	StateUninitialized ClientState = iota

	// StateOpening means the open envelope was sent and the client is
	// waiting for the kernel acknowledgment (or the server-comm ready
	// notification).
	StateOpening

	// StateConnected means the handshake completed and the channel can
	// carry messages and RPCs.
	StateConnected

	// StateClosing means a local close was requested while connected and
	// the close envelope is being issued.
	StateClosing

	// StateClosed is terminal. The client holds no transport resources.
	StateClosed
)

// String returns the lowercase state name.
func (s ClientState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason explains why a channel reached StateClosed.
type CloseReason int

const (
	// CloseReasonNone is reported while the channel is still live.
	CloseReasonNone CloseReason = iota

	// CloseReasonLocal means the UI side called Close or disposed the
	// client.
	CloseReasonLocal

	// CloseReasonKernel means the kernel side sent comm_close.
	CloseReasonKernel

	// CloseReasonTransport means the transport shut down (kernel process
	// exit or local transport close).
	CloseReasonTransport

	// CloseReasonOpenTimeout means the open handshake did not complete
	// within the configured bound.
	CloseReasonOpenTimeout
)

// String returns the lowercase reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "none"
	case CloseReasonLocal:
		return "local"
	case CloseReasonKernel:
		return "kernel"
	case CloseReasonTransport:
		return "transport"
	case CloseReasonOpenTimeout:
		return "open_timeout"
	default:
		return "unknown"
	}
}

// StateChange is delivered on a client's Events channel whenever the
// channel transitions.
type StateChange struct {
	// State is the state entered.
	State ClientState

	// Reason is set when State is StateClosed.
	Reason CloseReason
}
