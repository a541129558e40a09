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
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/observability"
)

// =============================================================================
// Dispatcher
// =============================================================================

// subscriberBuffer bounds how many envelopes a single channel can have
// queued before the dispatcher applies backpressure to the transport.
const subscriberBuffer = 64

// seenCacheSize bounds the duplicate-suppression window.
const seenCacheSize = 512

// Dispatcher owns the transport read loop for one kernel connection and
// routes inbound envelopes to per-channel subscriptions keyed by comm id.
//
// # Description
//
// All channel clients on a kernel connection multiplex over one transport.
// Rather than every client scanning every event, clients obtain an explicit
// subscription for their comm id; the dispatcher delivers each envelope to
// exactly one subscription (or drops it).
//
// Envelopes whose comm id has no subscription are dropped silently; this is
// not an error (the kernel may address channels the bridge never opened).
// Envelopes whose msg id was already delivered are suppressed, so duplicate
// acknowledgments cannot double-trigger a state transition.
//
// # Ordering
//
// Delivery is sequential in transport order. A slow subscriber therefore
// backpressures the whole connection rather than reordering it.
//
// # Thread Safety
//
// Safe for concurrent use. Run must be called exactly once.
type Dispatcher struct {
	transport Transport
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription

	seen *lru.Cache[string, struct{}]

	dropped atomic.Uint64
	deduped atomic.Uint64

	done     chan struct{}
	shutOnce sync.Once
}

type subscription struct {
	ch   chan *Envelope
	gone chan struct{}
}

// NewDispatcher creates a dispatcher over the given transport.
//
// logger may be nil, in which case slog.Default() is used.
func NewDispatcher(t Transport, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Dispatcher{
		transport: t,
		logger:    logger,
		subs:      make(map[string]*subscription),
		seen:      seen,
		done:      make(chan struct{}),
	}
}

// Run consumes the transport until it shuts down, then closes every
// subscription so clients observe the transport loss. Blocking; callers
// run it in a goroutine.
func (d *Dispatcher) Run() {
	defer d.shutdown()
	for {
		select {
		case env, ok := <-d.transport.Recv():
			if !ok {
				return
			}
			d.dispatch(env)
		case <-d.transport.Done():
			return
		}
	}
}

// dispatch routes one envelope to its subscription, if any.
func (d *Dispatcher) dispatch(env *Envelope) {
	if env == nil || env.CommID == "" {
		d.markDropped()
		return
	}
	if env.MsgID != "" {
		if _, dup := d.seen.Get(env.MsgID); dup {
			d.markDeduped()
			d.logger.Debug("suppressed duplicate envelope",
				"comm_id", env.CommID, "msg_id", env.MsgID)
			return
		}
		d.seen.Add(env.MsgID, struct{}{})
	}

	d.mu.Lock()
	sub := d.subs[env.CommID]
	d.mu.Unlock()

	if sub == nil {
		d.markDropped()
		d.logger.Debug("dropped envelope for unknown comm",
			"comm_id", env.CommID, "msg_type", string(env.MsgType))
		return
	}

	select {
	case sub.ch <- env:
	case <-sub.gone:
		d.markDropped()
	case <-d.done:
	}
}

func (d *Dispatcher) markDropped() {
	d.dropped.Add(1)
	observability.DefaultMetrics.EnvelopesDroppedTotal.Inc()
}

func (d *Dispatcher) markDeduped() {
	d.deduped.Add(1)
	observability.DefaultMetrics.EnvelopesDedupedTotal.Inc()
}

// Subscribe registers interest in envelopes addressed to commID.
//
// The returned channel is closed when the subscription is removed or the
// transport shuts down. At most one subscription may exist per comm id.
func (d *Dispatcher) Subscribe(commID string) (<-chan *Envelope, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.subs[commID]; exists {
		return nil, ErrDuplicateSubscription
	}
	select {
	case <-d.done:
		return nil, ErrTransportClosed
	default:
	}
	sub := &subscription{
		ch:   make(chan *Envelope, subscriberBuffer),
		gone: make(chan struct{}),
	}
	d.subs[commID] = sub
	return sub.ch, nil
}

// Unsubscribe removes the subscription for commID. Idempotent; in-flight
// envelopes for the id are dropped afterwards.
//
// The subscription channel is not closed here: the dispatcher is its only
// sender and closes it during shutdown. Callers that unsubscribe simply
// stop reading.
func (d *Dispatcher) Unsubscribe(commID string) {
	d.mu.Lock()
	sub := d.subs[commID]
	delete(d.subs, commID)
	d.mu.Unlock()
	if sub != nil {
		close(sub.gone)
	}
}

// Send forwards an envelope to the kernel over the transport.
func (d *Dispatcher) Send(ctx context.Context, env *Envelope) error {
	select {
	case <-d.done:
		return ErrTransportClosed
	default:
	}
	return d.transport.Send(ctx, env)
}

// Done is closed once the dispatcher has shut down.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Dropped returns how many envelopes were discarded for lack of a
// subscription (or after one was removed).
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Deduped returns how many duplicate envelopes were suppressed.
func (d *Dispatcher) Deduped() uint64 {
	return d.deduped.Load()
}

// shutdown closes every live subscription exactly once.
func (d *Dispatcher) shutdown() {
	d.shutOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		subs := d.subs
		d.subs = make(map[string]*subscription)
		d.mu.Unlock()
		for _, sub := range subs {
			close(sub.gone)
			close(sub.ch)
		}
	})
}
