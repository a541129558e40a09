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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultOpenTimeout bounds the open handshake.
	DefaultOpenTimeout = 20 * time.Second

	// DefaultRPCTimeout bounds a request/reply exchange when the caller
	// passes no explicit timeout.
	DefaultRPCTimeout = 20 * time.Second

	// closeSendTimeout bounds the best-effort comm_close send during a
	// local close.
	closeSendTimeout = 5 * time.Second

	// eventBuffer is the capacity of the state-change and message
	// channels handed to the UI consumer.
	eventBuffer = 16
)

// serverStartedType is the payload msg_type that completes the handshake
// of a server comm (deferred-ready variant).
const serverStartedType = "server_started"

// =============================================================================
// Client
// =============================================================================

// ClientOptions configures a comm channel client.
type ClientOptions struct {
	// ID is the channel id. Generated when empty.
	ID string

	// Target is the channel type, e.g. "variables" or "plot". Sent as
	// target_name on comm_open.
	Target string

	// ServerComm defers the Connected transition until the kernel sends
	// a server_started notification instead of connecting on the
	// comm_open echo.
	ServerComm bool

	// OpenTimeout bounds Open. Defaults to DefaultOpenTimeout.
	OpenTimeout time.Duration

	// Logger may be nil, in which case slog.Default() is used.
	Logger *slog.Logger
}

// Client is one logical comm channel between the bridge and its
// kernel-side counterpart.
//
// # Description
//
// A client starts Uninitialized. Open sends comm_open and waits, bounded
// by the open timeout, for the Connected transition: immediate on the
// comm_open echo for direct comms, or deferred until the kernel's
// server_started notification for server comms. Close issues comm_close
// and transitions to Closed without waiting for an acknowledgment.
//
// If the open handshake times out the client force-transitions to Closed
// and fires the close notification, so a failed open never leaves a
// half-open channel behind.
//
// # Thread Safety
//
// Safe for concurrent use, though a channel has a single logical owner.
type Client struct {
	id          string
	target      string
	serverComm  bool
	openTimeout time.Duration
	disp        *Dispatcher
	logger      *slog.Logger

	mu      sync.Mutex
	state   ClientState
	reason  CloseReason
	pending map[string]chan *Envelope
	closed  bool

	events    chan StateChange
	messages  chan json.RawMessage
	connected chan struct{}
	connOnce  sync.Once
	done      chan struct{}
}

// NewClient constructs a client bound to the dispatcher of one kernel
// connection. The client is Uninitialized until Open is called.
func NewClient(d *Dispatcher, opts ClientOptions) *Client {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		id:          opts.ID,
		target:      opts.Target,
		serverComm:  opts.ServerComm,
		openTimeout: opts.OpenTimeout,
		disp:        d,
		logger:      opts.Logger.With("comm_id", opts.ID, "target", opts.Target),
		state:       StateUninitialized,
		pending:     make(map[string]chan *Envelope),
		events:      make(chan StateChange, eventBuffer),
		messages:    make(chan json.RawMessage, eventBuffer),
		connected:   make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the channel id.
func (c *Client) ID() string { return c.id }

// Target returns the channel type.
func (c *Client) Target() string { return c.target }

// State returns the current channel state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events delivers state transitions to the UI consumer. Slow consumers
// lose older events rather than stalling the channel.
func (c *Client) Events() <-chan StateChange { return c.events }

// Messages delivers kernel-initiated payloads (comm_msg envelopes that are
// neither RPC replies nor handshake notifications).
func (c *Client) Messages() <-chan json.RawMessage { return c.messages }

// Done is closed once the client reaches StateClosed.
func (c *Client) Done() <-chan struct{} { return c.done }

// =============================================================================
// Lifecycle
// =============================================================================

// Open performs the open handshake.
//
// Sends comm_open and blocks until the channel reaches Connected, the open
// timeout elapses, ctx is canceled, or the transport shuts down. On
// timeout the client is force-closed and ErrOpenTimeout is returned.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.mu.Unlock()

	sub, err := c.disp.Subscribe(c.id)
	if err != nil {
		return err
	}
	go c.run(sub)

	c.setState(StateOpening, CloseReasonNone)
	env := &Envelope{
		MsgType: MessageTypeCommOpen,
		CommID:  c.id,
		MsgID:   uuid.NewString(),
		Target:  c.target,
	}
	if err := c.disp.Send(ctx, env); err != nil {
		c.forceClose(CloseReasonTransport)
		return fmt.Errorf("comm: send comm_open: %w", err)
	}

	timer := time.NewTimer(c.openTimeout)
	defer timer.Stop()
	select {
	case <-c.connected:
		return nil
	case <-timer.C:
		c.logger.Warn("comm open timed out", "timeout", c.openTimeout)
		c.forceClose(CloseReasonOpenTimeout)
		return fmt.Errorf("%w after %s", ErrOpenTimeout, c.openTimeout)
	case <-c.done:
		return ErrTransportClosed
	case <-ctx.Done():
		c.forceClose(CloseReasonLocal)
		return ctx.Err()
	}
}

// Close disposes the channel.
//
// While Connected this emits the Closing transition, issues comm_close
// (best effort; the design does not wait for a kernel acknowledgment) and
// transitions to Closed. In any other state it transitions straight to
// Closed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.mu.Unlock()

	if wasConnected {
		c.setState(StateClosing, CloseReasonNone)
		ctx, cancel := context.WithTimeout(context.Background(), closeSendTimeout)
		defer cancel()
		env := &Envelope{
			MsgType: MessageTypeCommClose,
			CommID:  c.id,
			MsgID:   uuid.NewString(),
		}
		if err := c.disp.Send(ctx, env); err != nil {
			c.logger.Warn("failed to send comm_close", "error", err)
		}
	}
	c.forceClose(CloseReasonLocal)
	return nil
}

// =============================================================================
// Messaging
// =============================================================================

// SendMessage sends a fire-and-forget comm_msg payload to the kernel.
func (c *Client) SendMessage(ctx context.Context, payload any) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("comm: marshal payload: %w", err)
	}
	env := &Envelope{
		MsgType: MessageTypeCommMsg,
		CommID:  c.id,
		MsgID:   uuid.NewString(),
		Data:    raw,
	}
	return c.disp.Send(ctx, env)
}

// PerformRPC sends a JSON-RPC request and waits for the correlated reply.
//
// A fresh request id is attached to the outbound envelope; the reply must
// carry it as parent_id. At most one outstanding reply is expected per id;
// replies for ids that already resolved are ignored by the receive loop.
// timeout <= 0 selects DefaultRPCTimeout.
func (c *Client) PerformRPC(ctx context.Context, method string, params any,
	timeout time.Duration) (json.RawMessage, error) {

	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	payload, err := NewRPCRequest(method, params)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}

	reqID := uuid.NewString()
	outcome := make(chan *Envelope, 1)
	c.mu.Lock()
	c.pending[reqID] = outcome
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	env := &Envelope{
		MsgType: MessageTypeCommMsg,
		CommID:  c.id,
		MsgID:   reqID,
		Data:    payload,
	}
	if err := c.disp.Send(ctx, env); err != nil {
		return nil, fmt.Errorf("comm: send rpc request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-outcome:
		if !ok {
			return nil, ErrTransportClosed
		}
		return ParseRPCResponse(reply.Data)
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (method %s)", ErrRPCTimeout, timeout, method)
	case <-c.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// Receive loop
// =============================================================================

// run consumes the channel's subscription until the client closes or the
// transport shuts down.
func (c *Client) run(sub <-chan *Envelope) {
	for {
		select {
		case env, ok := <-sub:
			if !ok {
				c.forceClose(CloseReasonTransport)
				return
			}
			c.handle(env)
		case <-c.disp.Done():
			c.forceClose(CloseReasonTransport)
			return
		case <-c.done:
			return
		}
	}
}

// handle applies one inbound envelope to the state machine. Only the three
// comm message kinds are recognized; anything else is a silent no-op.
func (c *Client) handle(env *Envelope) {
	switch env.MsgType {
	case MessageTypeCommOpen:
		// Kernel acknowledgment of our open. Server comms stay in
		// Opening until server_started arrives.
		if c.serverComm {
			return
		}
		c.markConnected()

	case MessageTypeCommMsg:
		if c.serverComm && c.State() == StateOpening && isServerStarted(env.Data) {
			// Handshake notification; swallowed, never forwarded.
			c.markConnected()
			return
		}
		if env.ParentID != "" {
			c.resolvePending(env)
			return
		}
		select {
		case c.messages <- env.Data:
		case <-c.done:
		}

	case MessageTypeCommClose:
		c.forceClose(CloseReasonKernel)
	}
}

// markConnected performs the Opening → Connected transition exactly once.
func (c *Client) markConnected() {
	c.mu.Lock()
	if c.state != StateOpening {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.mu.Unlock()
	c.emit(StateChange{State: StateConnected})
	c.connOnce.Do(func() { close(c.connected) })
	c.logger.Debug("comm connected")
}

// resolvePending hands an RPC reply to its waiter. Replies whose parent id
// has no pending record (already resolved, or never ours) are dropped.
func (c *Client) resolvePending(env *Envelope) {
	c.mu.Lock()
	waiter, ok := c.pending[env.ParentID]
	if ok {
		delete(c.pending, env.ParentID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropped reply with no pending request", "parent_id", env.ParentID)
		return
	}
	waiter <- env
}

// =============================================================================
// State transitions
// =============================================================================

// setState records a non-terminal transition and notifies listeners.
func (c *Client) setState(state ClientState, reason CloseReason) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.reason = reason
	c.mu.Unlock()
	c.emit(StateChange{State: state, Reason: reason})
}

// forceClose moves the client to Closed from any state, releases its
// subscription and fails outstanding RPCs. Idempotent; duplicate close
// events (e.g. a second comm_close) are no-ops.
func (c *Client) forceClose(reason CloseReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	c.reason = reason
	pending := c.pending
	c.pending = make(map[string]chan *Envelope)
	c.mu.Unlock()

	c.disp.Unsubscribe(c.id)
	for _, waiter := range pending {
		close(waiter)
	}
	c.emit(StateChange{State: StateClosed, Reason: reason})
	close(c.done)
	c.logger.Debug("comm closed", "reason", reason.String())
}

// emit delivers a state change without blocking; slow consumers lose
// events rather than stalling the receive loop.
func (c *Client) emit(change StateChange) {
	select {
	case c.events <- change:
	default:
		c.logger.Debug("dropped state change event", "state", change.State.String())
	}
}

// isServerStarted reports whether a comm_msg payload is the server-comm
// ready notification.
func isServerStarted(data json.RawMessage) bool {
	var probe struct {
		MsgType string `json:"msg_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.MsgType == serverStartedType
}
