// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "encoding/json"

// Channel bridge actions exchanged with UI clients over the WebSocket
// endpoint. A UI client opens comms, performs RPCs and receives channel
// events for one kernel session.

// ChannelRequest is a UI-originated command on the channel bridge.
type ChannelRequest struct {
	// Action is one of "open_comm", "close_comm", "rpc", "send".
	Action string `json:"action" binding:"required"`

	// CommID targets an existing channel (close_comm, rpc, send) or
	// names the channel to create (open_comm; generated when empty).
	CommID string `json:"comm_id,omitempty"`

	// Target is the channel type for open_comm, e.g. "variables".
	Target string `json:"target,omitempty"`

	// ServerComm selects the deferred-ready open variant.
	ServerComm bool `json:"server_comm,omitempty"`

	// Method and Params describe an RPC call.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// TimeoutMs overrides the RPC timeout.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// RequestID correlates the bridge's reply with this request.
	RequestID string `json:"request_id,omitempty"`
}

// ChannelResponse is a bridge-originated reply or event.
type ChannelResponse struct {
	// Kind is one of "opened", "closed", "state", "rpc_result",
	// "message", "error".
	Kind string `json:"kind"`

	CommID    string          `json:"comm_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	State     string          `json:"state,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}
