// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
)

// dialBridge creates a session over HTTP and connects a UI WebSocket
// client to its channel bridge.
func dialBridge(t *testing.T, fx *bridgeFixture) (*websocket.Conn, string) {
	t.Helper()
	rec := fx.request(t, "POST", "/v1/sessions", `{"kernel":"python3"}`)
	if rec.Code != 201 {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	srv := httptest.NewServer(fx.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/v1/sessions/" + sess.ID + "/channels/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial channel bridge: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws, sess.ID
}

// readResponse reads bridge responses until one of the wanted kinds
// arrives, skipping interleaved state notifications.
func readResponse(t *testing.T, ws *websocket.Conn, kinds ...string) datatypes.ChannelResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = ws.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var resp datatypes.ChannelResponse
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read bridge response: %v", err)
		}
		for _, kind := range kinds {
			if resp.Kind == kind {
				return resp
			}
		}
		if resp.Kind == "state" {
			continue
		}
		t.Fatalf("unexpected response kind %q (want one of %v): %+v", resp.Kind, kinds, resp)
	}
	t.Fatal("timed out waiting for a bridge response")
	return datatypes.ChannelResponse{}
}

func TestChannelBridgeOpenRPCClose(t *testing.T) {
	fx := newBridgeFixture(t)
	ws, _ := dialBridge(t, fx)

	// Open a channel.
	if err := ws.WriteJSON(datatypes.ChannelRequest{
		Action:    "open_comm",
		Target:    "variables",
		RequestID: "r1",
	}); err != nil {
		t.Fatalf("write open_comm: %v", err)
	}
	opened := readResponse(t, ws, "opened")
	if opened.RequestID != "r1" || opened.CommID == "" {
		t.Fatalf("opened = %+v", opened)
	}
	if opened.State != "connected" {
		t.Errorf("opened state = %s, want connected", opened.State)
	}

	// Perform an RPC on it.
	if err := ws.WriteJSON(datatypes.ChannelRequest{
		Action:    "rpc",
		CommID:    opened.CommID,
		Method:    "ping",
		RequestID: "r2",
	}); err != nil {
		t.Fatalf("write rpc: %v", err)
	}
	result := readResponse(t, ws, "rpc_result")
	if result.RequestID != "r2" {
		t.Errorf("rpc_result request_id = %s, want r2", result.RequestID)
	}
	if string(result.Payload) != `{"pong":true}` {
		t.Errorf("rpc payload = %s", result.Payload)
	}

	// Close it.
	if err := ws.WriteJSON(datatypes.ChannelRequest{
		Action:    "close_comm",
		CommID:    opened.CommID,
		RequestID: "r3",
	}); err != nil {
		t.Fatalf("write close_comm: %v", err)
	}
	closed := readResponse(t, ws, "closed")
	if closed.RequestID != "r3" {
		t.Errorf("closed request_id = %s, want r3", closed.RequestID)
	}
}

func TestChannelBridgeRejectsUnknownAction(t *testing.T) {
	fx := newBridgeFixture(t)
	ws, _ := dialBridge(t, fx)

	if err := ws.WriteJSON(datatypes.ChannelRequest{Action: "dance", RequestID: "r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, ws, "error")
	if !strings.Contains(resp.Error, "unknown action") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestChannelBridgeRejectsUnknownCommID(t *testing.T) {
	fx := newBridgeFixture(t)
	ws, _ := dialBridge(t, fx)

	if err := ws.WriteJSON(datatypes.ChannelRequest{
		Action:    "rpc",
		CommID:    "ghost",
		Method:    "ping",
		RequestID: "r1",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, ws, "error")
	if !strings.Contains(resp.Error, "unknown comm id") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestChannelBridgeRejectsBadCommID(t *testing.T) {
	fx := newBridgeFixture(t)
	ws, _ := dialBridge(t, fx)

	if err := ws.WriteJSON(datatypes.ChannelRequest{
		Action:    "open_comm",
		CommID:    "../../etc/passwd",
		Target:    "variables",
		RequestID: "r1",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readResponse(t, ws, "error")
	if resp.RequestID != "r1" {
		t.Errorf("request_id = %s, want r1", resp.RequestID)
	}
}

func TestChannelBridgeSessionNotFound(t *testing.T) {
	fx := newBridgeFixture(t)
	rec := fx.request(t, "GET", "/v1/sessions/ghost/channels/ws", "")
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
