// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package comm implements the client side of Jupyter-style comm channels.
//
// # Description
//
// A comm is a named bidirectional channel between a UI-side client object
// (variables pane, plot, data explorer) and its kernel-side counterpart.
// This package provides:
//
//   - Envelope: the wire record exchanged with the kernel
//     (comm_open / comm_msg / comm_close)
//   - Client: the per-channel state machine with an open/close handshake
//     and a request/reply (RPC) interface bounded by timeouts
//   - Dispatcher: a central router that owns the transport read loop and
//     delivers envelopes to per-channel subscriptions keyed by comm id
//
// # Concurrency
//
// All channel operations are safe for concurrent use, but a channel has one
// logical owner (the UI feature that opened it); envelopes for a given
// channel are delivered in the order the transport produced them.
package comm

import (
	"context"
	"encoding/json"
)

// =============================================================================
// Message Types
// =============================================================================

// MessageType identifies the kind of a comm envelope.
//
// Only the three comm message kinds are recognized. Anything else is
// preserved on the wire but treated as a no-op by clients so that future
// message kinds do not break older bridges.
type MessageType string

const (
	// MessageTypeCommOpen opens a channel. The kernel echoes it back to
	// acknowledge a direct comm.
	MessageTypeCommOpen MessageType = "comm_open"

	// MessageTypeCommMsg carries channel data, RPC requests and replies.
	MessageTypeCommMsg MessageType = "comm_msg"

	// MessageTypeCommClose closes a channel from either side.
	MessageTypeCommClose MessageType = "comm_close"
)

// Known reports whether the message type is one of the three comm kinds.
func (m MessageType) Known() bool {
	switch m {
	case MessageTypeCommOpen, MessageTypeCommMsg, MessageTypeCommClose:
		return true
	default:
		return false
	}
}

// =============================================================================
// Envelope
// =============================================================================

// Envelope is the typed record exchanged with the kernel process.
//
// The field names msg_type, comm_id and data are an external contract with
// the kernel side and must not change.
type Envelope struct {
	// MsgType is the message kind (comm_open, comm_msg, comm_close).
	MsgType MessageType `json:"msg_type"`

	// CommID is the unique id of the target channel.
	CommID string `json:"comm_id"`

	// MsgID uniquely identifies this envelope. Used for RPC correlation
	// and duplicate suppression.
	MsgID string `json:"msg_id,omitempty"`

	// ParentID is the MsgID of the request this envelope replies to.
	// Empty for kernel-initiated events.
	ParentID string `json:"parent_id,omitempty"`

	// Target is the channel type (e.g. "variables", "plot"). Only set on
	// comm_open.
	Target string `json:"target_name,omitempty"`

	// Data is the opaque payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// Transport is the message-passing layer connecting the bridge to one
// kernel process. Implementations must deliver envelopes in order.
//
// Recv returns the inbound stream; the channel is closed when the transport
// shuts down. Done is closed when the transport is no longer usable (local
// Close or kernel process exit).
type Transport interface {
	Send(ctx context.Context, env *Envelope) error
	Recv() <-chan *Envelope
	Done() <-chan struct{}
	Close() error
}
