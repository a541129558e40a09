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

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// JSON-RPC 2.0 payloads
// =============================================================================

// Comm payloads use JSON-RPC 2.0 framing inside comm_msg envelopes: the UI
// sends method calls, the kernel replies with a result or an error, and
// either side may emit named-method notifications (events).

// JSON-RPC error codes used by kernel-side comm handlers.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCRequest is a JSON-RPC 2.0 method call.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error implements the error interface so kernel-reported failures can be
// wrapped and inspected with errors.As.
func (e *RPCError) Error() string {
	return fmt.Sprintf("comm: rpc error %d: %s", e.Code, e.Message)
}

// RPCResponse is a JSON-RPC 2.0 reply. Exactly one of Result or Error is
// populated. Method is set on notifications (events) instead.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRPCRequest builds a JSON-RPC 2.0 request payload.
//
// params may be nil for methods without arguments; any other value is
// marshaled to JSON.
func NewRPCRequest(method string, params any) (json.RawMessage, error) {
	req := RPCRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("comm: marshal rpc params: %w", err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("comm: marshal rpc request: %w", err)
	}
	return payload, nil
}

// ParseRPCResponse decodes a comm_msg payload as a JSON-RPC reply.
//
// Returns the result payload, or the kernel-reported *RPCError as err when
// the reply carries an error object.
func ParseRPCResponse(payload json.RawMessage) (json.RawMessage, error) {
	var resp RPCResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("comm: decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
