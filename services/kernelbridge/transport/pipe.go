// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport provides concrete message transports for kernel
// connections: a WebSocket transport for out-of-process kernels, an
// in-memory pipe for tests, and HMAC message signing per the Jupyter
// connection-file key.
package transport

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/comm"
)

// pipeBuffer is the per-direction queue depth of an in-memory pipe.
const pipeBuffer = 64

// Pipe is an in-memory, ordered transport endpoint. NewPipe returns two
// connected endpoints; envelopes sent on one are received on the other in
// send order, matching the ordered process-local stream the comm layer
// assumes.
type Pipe struct {
	in   chan *comm.Envelope
	peer *Pipe

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPipe returns a connected pair of transport endpoints.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{in: make(chan *comm.Envelope, pipeBuffer), done: make(chan struct{})}
	b := &Pipe{in: make(chan *comm.Envelope, pipeBuffer), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Send queues the envelope for the peer endpoint.
func (p *Pipe) Send(ctx context.Context, env *comm.Envelope) error {
	select {
	case <-p.done:
		return comm.ErrTransportClosed
	case <-p.peer.done:
		return comm.ErrTransportClosed
	default:
	}
	select {
	case p.peer.in <- env:
		return nil
	case <-p.done:
		return comm.ErrTransportClosed
	case <-p.peer.done:
		return comm.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the inbound envelope stream.
func (p *Pipe) Recv() <-chan *comm.Envelope { return p.in }

// Done is closed when either endpoint closes.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Close shuts down both endpoints. Idempotent.
func (p *Pipe) Close() error {
	p.closeLocal()
	p.peer.closeLocal()
	return nil
}

func (p *Pipe) closeLocal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}
