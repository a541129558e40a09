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

import "errors"

// Error taxonomy for the comm layer. These are the only caller-visible
// failure categories; envelopes for unknown channels are dropped silently
// and are not an error. There is no retry logic at this layer — a failed
// open or RPC is surfaced directly to the caller, which decides whether
// to retry (a UI-level decision).
var (
	// ErrOpenTimeout is returned by Client.Open when the channel does not
	// reach Connected within the open timeout. The client is force-closed.
	ErrOpenTimeout = errors.New("comm: open handshake timed out")

	// ErrRPCTimeout is returned by Client.PerformRPC when no matching
	// reply arrives within the RPC timeout.
	ErrRPCTimeout = errors.New("comm: rpc timed out")

	// ErrTransportClosed is returned when an operation is attempted on,
	// or interrupted by, a transport that has shut down.
	ErrTransportClosed = errors.New("comm: transport closed")

	// ErrNotConnected is returned when a message or RPC is attempted on
	// a channel that is not in the Connected state.
	ErrNotConnected = errors.New("comm: channel not connected")

	// ErrAlreadyOpen is returned by Client.Open on a client that has left
	// the Uninitialized state.
	ErrAlreadyOpen = errors.New("comm: channel already opened")

	// ErrDuplicateSubscription is returned by Dispatcher.Subscribe when a
	// subscription already exists for the comm id.
	ErrDuplicateSubscription = errors.New("comm: duplicate subscription for comm id")
)
