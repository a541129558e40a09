// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/comm"
)

const (
	// sendQueue bounds outbound envelopes awaiting the writer goroutine.
	sendQueue = 64

	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
)

// wsFrame is the on-wire JSON frame: the envelope fields inline, plus an
// optional hmac signature over the serialized envelope.
type wsFrame struct {
	comm.Envelope
	HMAC string `json:"hmac,omitempty"`
}

// WebSocketTransport carries envelopes to one kernel over a WebSocket
// connection, with optional HMAC signing.
//
// Writes are serialized through a single writer goroutine; reads feed the
// Recv channel in arrival order. A read error, a malformed frame, or a
// local Close shuts the transport down, closing Done and Recv so every
// channel on the connection degrades to Closed.
type WebSocketTransport struct {
	conn   *websocket.Conn
	signer *Signer
	logger *slog.Logger

	out  chan *comm.Envelope
	in   chan *comm.Envelope
	done chan struct{}
	once sync.Once
}

// DialWebSocket connects to a kernel WebSocket endpoint and starts the
// transport pumps. signer may be nil for unsigned connections.
func DialWebSocket(ctx context.Context, url string, signer *Signer,
	logger *slog.Logger) (*WebSocketTransport, error) {

	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	t := newWebSocketTransport(conn, signer, logger)
	return t, nil
}

// NewWebSocketTransport wraps an already-upgraded connection. Used by the
// server side of the channel bridge and by tests.
func NewWebSocketTransport(conn *websocket.Conn, signer *Signer,
	logger *slog.Logger) *WebSocketTransport {

	if logger == nil {
		logger = slog.Default()
	}
	return newWebSocketTransport(conn, signer, logger)
}

func newWebSocketTransport(conn *websocket.Conn, signer *Signer,
	logger *slog.Logger) *WebSocketTransport {

	t := &WebSocketTransport{
		conn:   conn,
		signer: signer,
		logger: logger,
		out:    make(chan *comm.Envelope, sendQueue),
		in:     make(chan *comm.Envelope, sendQueue),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t
}

// Send queues an envelope for delivery to the kernel.
func (t *WebSocketTransport) Send(ctx context.Context, env *comm.Envelope) error {
	select {
	case <-t.done:
		return comm.ErrTransportClosed
	default:
	}
	select {
	case t.out <- env:
		return nil
	case <-t.done:
		return comm.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the inbound envelope stream. Closed on shutdown.
func (t *WebSocketTransport) Recv() <-chan *comm.Envelope { return t.in }

// Done is closed when the transport is no longer usable.
func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

// Close shuts the transport down. Idempotent.
func (t *WebSocketTransport) Close() error {
	t.shutdown()
	return nil
}

// shutdown signals closure and tears down the connection. Recv is closed
// by the read loop alone, which is its only sender.
func (t *WebSocketTransport) shutdown() {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *WebSocketTransport) writeLoop() {
	for {
		select {
		case env := <-t.out:
			frame, err := t.encode(env)
			if err != nil {
				t.logger.Error("failed to encode envelope", "error", err)
				continue
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Warn("websocket write failed", "error", err)
				t.shutdown()
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) readLoop() {
	defer func() {
		t.shutdown()
		close(t.in)
	}()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Info("websocket transport closed", "error", err.Error())
			}
			return
		}
		env, err := t.decode(data)
		if err != nil {
			// A frame we cannot parse means the stream is corrupt;
			// shut down so channels degrade to Closed.
			t.logger.Error("malformed envelope, closing transport", "error", err)
			return
		}
		if env == nil {
			continue // dropped (bad signature)
		}
		select {
		case t.in <- env:
		case <-t.done:
			return
		}
	}
}

// encode serializes and, when a signer is configured, signs an envelope.
func (t *WebSocketTransport) encode(env *comm.Envelope) ([]byte, error) {
	if t.signer == nil {
		return json.Marshal(env)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	sig, err := t.signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsFrame{Envelope: *env, HMAC: sig})
}

// decode parses a frame, verifying the signature when signing is enabled.
// Returns (nil, nil) for frames dropped due to a bad signature.
func (t *WebSocketTransport) decode(data []byte) (*comm.Envelope, error) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	if t.signer != nil {
		payload, err := json.Marshal(&frame.Envelope)
		if err != nil {
			return nil, err
		}
		if err := t.signer.Verify(payload, frame.HMAC); err != nil {
			t.logger.Warn("dropped envelope with bad signature",
				"comm_id", frame.CommID)
			return nil, nil
		}
	}
	return &frame.Envelope, nil
}
