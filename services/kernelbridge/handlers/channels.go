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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianKernels/pkg/validation"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/comm"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

// bridgeConn serializes writes to one UI WebSocket client.
type bridgeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (b *bridgeConn) send(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ws.WriteJSON(v); err != nil {
		slog.Warn("failed to write bridge response", "error", err)
		return err
	}
	return nil
}

// HandleChannelBridge bridges one UI WebSocket client onto a session's
// comm channels: the client opens comms, performs RPCs and receives
// channel state changes and kernel-initiated messages.
func HandleChannelBridge(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := mgr.Get(c.Param("sessionId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		observability.DefaultMetrics.BridgeClientsActive.Inc()
		defer observability.DefaultMetrics.BridgeClientsActive.Dec()
		slog.Info("bridge client connected", "session_id", sess.ID)

		conn := &bridgeConn{ws: ws}
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		for {
			var req datatypes.ChannelRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("bridge client disconnected", "error", err.Error())
				return
			}
			switch req.Action {
			case "open_comm":
				handleOpenComm(ctx, conn, sess, req)
			case "close_comm":
				handleCloseComm(conn, sess, req)
			case "rpc":
				handleRPC(ctx, conn, sess, req)
			case "send":
				handleSend(ctx, conn, sess, req)
			default:
				_ = conn.send(datatypes.ChannelResponse{
					Kind:      "error",
					RequestID: req.RequestID,
					Error:     "unknown action: " + req.Action,
				})
			}
		}
	}
}

func handleOpenComm(ctx context.Context, conn *bridgeConn, sess *kernels.Session,
	req datatypes.ChannelRequest) {

	if req.CommID != "" {
		if err := validation.ValidateID(req.CommID); err != nil {
			_ = conn.send(datatypes.ChannelResponse{
				Kind:      "error",
				RequestID: req.RequestID,
				Error:     err.Error(),
			})
			return
		}
	}
	client, err := sess.OpenClient(ctx, comm.ClientOptions{
		ID:         req.CommID,
		Target:     req.Target,
		ServerComm: req.ServerComm,
	})
	if err != nil {
		status := "error"
		if errors.Is(err, comm.ErrOpenTimeout) {
			status = "timeout"
		}
		observability.DefaultMetrics.CommOpensTotal.
			WithLabelValues(req.Target, status).Inc()
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "error",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Error:     err.Error(),
		})
		return
	}
	observability.DefaultMetrics.CommOpensTotal.
		WithLabelValues(req.Target, "success").Inc()
	observability.DefaultMetrics.ChannelsActive.Inc()

	// Pump channel events and kernel messages to the UI client until the
	// channel dies.
	go func() {
		defer observability.DefaultMetrics.ChannelsActive.Dec()
		for {
			select {
			case change, ok := <-client.Events():
				if !ok {
					return
				}
				_ = conn.send(datatypes.ChannelResponse{
					Kind:   "state",
					CommID: client.ID(),
					State:  change.State.String(),
					Reason: change.Reason.String(),
				})
				if change.State == comm.StateClosed {
					return
				}
			case payload := <-client.Messages():
				_ = conn.send(datatypes.ChannelResponse{
					Kind:    "message",
					CommID:  client.ID(),
					Payload: payload,
				})
			case <-client.Done():
				return
			}
		}
	}()

	_ = conn.send(datatypes.ChannelResponse{
		Kind:      "opened",
		CommID:    client.ID(),
		RequestID: req.RequestID,
		State:     client.State().String(),
	})
}

func handleCloseComm(conn *bridgeConn, sess *kernels.Session,
	req datatypes.ChannelRequest) {

	client, ok := sess.Client(req.CommID)
	if !ok {
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "error",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Error:     "unknown comm id",
		})
		return
	}
	_ = client.Close()
	_ = conn.send(datatypes.ChannelResponse{
		Kind:      "closed",
		CommID:    req.CommID,
		RequestID: req.RequestID,
	})
}

func handleRPC(ctx context.Context, conn *bridgeConn, sess *kernels.Session,
	req datatypes.ChannelRequest) {

	client, ok := sess.Client(req.CommID)
	if !ok {
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "error",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Error:     "unknown comm id",
		})
		return
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond

	// RPCs run off the read loop so a slow kernel cannot block other
	// bridge actions on this connection.
	go func() {
		start := time.Now()
		result, err := client.PerformRPC(ctx, req.Method, req.Params, timeout)
		status := "success"
		if err != nil {
			if errors.Is(err, comm.ErrRPCTimeout) {
				status = "timeout"
			} else {
				status = "error"
			}
		}
		observability.DefaultMetrics.RPCDurationSeconds.
			WithLabelValues(client.Target(), status).
			Observe(time.Since(start).Seconds())
		if err != nil {
			_ = conn.send(datatypes.ChannelResponse{
				Kind:      "error",
				CommID:    req.CommID,
				RequestID: req.RequestID,
				Error:     err.Error(),
			})
			return
		}
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "rpc_result",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Payload:   result,
		})
	}()
}

func handleSend(ctx context.Context, conn *bridgeConn, sess *kernels.Session,
	req datatypes.ChannelRequest) {

	client, ok := sess.Client(req.CommID)
	if !ok {
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "error",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Error:     "unknown comm id",
		})
		return
	}
	if err := client.SendMessage(ctx, req.Params); err != nil {
		_ = conn.send(datatypes.ChannelResponse{
			Kind:      "error",
			CommID:    req.CommID,
			RequestID: req.RequestID,
			Error:     err.Error(),
		})
	}
}
