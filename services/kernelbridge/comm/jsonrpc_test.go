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
	"errors"
	"testing"
)

func TestNewRPCRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params any
		want   string
	}{
		{
			name:   "no params",
			method: "list",
			want:   `{"jsonrpc":"2.0","method":"list"}`,
		},
		{
			name:   "object params",
			method: "inspect",
			params: map[string]string{"path": "df"},
			want:   `{"jsonrpc":"2.0","method":"inspect","params":{"path":"df"}}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := NewRPCRequest(tc.method, tc.params)
			if err != nil {
				t.Fatalf("NewRPCRequest: %v", err)
			}
			if string(payload) != tc.want {
				t.Errorf("payload = %s, want %s", payload, tc.want)
			}
		})
	}
}

func TestNewRPCRequestRejectsUnmarshalableParams(t *testing.T) {
	if _, err := NewRPCRequest("x", make(chan int)); err == nil {
		t.Error("expected an error for unmarshalable params")
	}
}

func TestParseRPCResponse(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		result, err := ParseRPCResponse(json.RawMessage(`{"jsonrpc":"2.0","result":[1,2]}`))
		if err != nil {
			t.Fatalf("ParseRPCResponse: %v", err)
		}
		if string(result) != "[1,2]" {
			t.Errorf("result = %s, want [1,2]", result)
		}
	})

	t.Run("error object", func(t *testing.T) {
		_, err := ParseRPCResponse(json.RawMessage(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"bad params"}}`))
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("error = %v, want *RPCError", err)
		}
		if rpcErr.Code != CodeInvalidParams || rpcErr.Message != "bad params" {
			t.Errorf("got %d/%q", rpcErr.Code, rpcErr.Message)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		if _, err := ParseRPCResponse(json.RawMessage(`{not json`)); err == nil {
			t.Error("expected a decode error")
		}
	})
}

func TestMessageTypeKnown(t *testing.T) {
	for _, known := range []MessageType{MessageTypeCommOpen, MessageTypeCommMsg, MessageTypeCommClose} {
		if !known.Known() {
			t.Errorf("%s should be known", known)
		}
	}
	if MessageType("server_started").Known() {
		t.Error("server_started is a payload type, not an envelope type")
	}
}
