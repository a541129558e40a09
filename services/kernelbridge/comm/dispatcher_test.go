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
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/observability"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	disp := NewDispatcher(ft, nil)
	go disp.Run()
	t.Cleanup(func() { ft.Close() })
	return disp, ft
}

func TestSubscribeRoutesByCommID(t *testing.T) {
	disp, ft := newTestDispatcher(t)

	subA, err := disp.Subscribe("a")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	subB, err := disp.Subscribe("b")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}

	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "b", MsgID: uuid.NewString()})
	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "a", MsgID: uuid.NewString()})

	select {
	case env := <-subA:
		if env.CommID != "a" {
			t.Errorf("subscription a got envelope for %s", env.CommID)
		}
	case <-time.After(testWait):
		t.Fatal("subscription a got nothing")
	}
	select {
	case env := <-subB:
		if env.CommID != "b" {
			t.Errorf("subscription b got envelope for %s", env.CommID)
		}
	case <-time.After(testWait):
		t.Fatal("subscription b got nothing")
	}
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	disp, _ := newTestDispatcher(t)
	if _, err := disp.Subscribe("a"); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := disp.Subscribe("a"); !errors.Is(err, ErrDuplicateSubscription) {
		t.Errorf("second Subscribe = %v, want ErrDuplicateSubscription", err)
	}
}

func TestUnknownCommIsDropped(t *testing.T) {
	disp, ft := newTestDispatcher(t)
	sub, _ := disp.Subscribe("a")
	droppedBefore := testutil.ToFloat64(observability.DefaultMetrics.EnvelopesDroppedTotal)

	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "ghost", MsgID: uuid.NewString()})
	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "a", MsgID: uuid.NewString()})

	// The second envelope arriving proves the first was processed.
	select {
	case <-sub:
	case <-time.After(testWait):
		t.Fatal("subscription got nothing")
	}
	if got := disp.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if got := testutil.ToFloat64(observability.DefaultMetrics.EnvelopesDroppedTotal); got != droppedBefore+1 {
		t.Errorf("envelopes_dropped_total moved %v, want +1", got-droppedBefore)
	}
}

func TestDuplicateMsgIDSuppressed(t *testing.T) {
	disp, ft := newTestDispatcher(t)
	sub, _ := disp.Subscribe("a")
	dedupedBefore := testutil.ToFloat64(observability.DefaultMetrics.EnvelopesDedupedTotal)

	msgID := uuid.NewString()
	ft.fromKernel(&Envelope{MsgType: MessageTypeCommOpen, CommID: "a", MsgID: msgID})
	ft.fromKernel(&Envelope{MsgType: MessageTypeCommOpen, CommID: "a", MsgID: msgID})
	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "a", MsgID: uuid.NewString()})

	first := <-sub
	if first.MsgID != msgID {
		t.Fatalf("first delivery msg_id = %s, want %s", first.MsgID, msgID)
	}
	second := <-sub
	if second.MsgID == msgID {
		t.Error("duplicate envelope was delivered twice")
	}
	if got := disp.Deduped(); got != 1 {
		t.Errorf("Deduped() = %d, want 1", got)
	}
	if got := testutil.ToFloat64(observability.DefaultMetrics.EnvelopesDedupedTotal); got != dedupedBefore+1 {
		t.Errorf("envelopes_deduped_total moved %v, want +1", got-dedupedBefore)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	disp, ft := newTestDispatcher(t)
	sub, _ := disp.Subscribe("a")
	disp.Unsubscribe("a")

	ft.fromKernel(&Envelope{MsgType: MessageTypeCommMsg, CommID: "a", MsgID: uuid.NewString()})
	select {
	case env, ok := <-sub:
		if ok {
			t.Errorf("got envelope %s after Unsubscribe", env.MsgID)
		}
	case <-time.After(200 * time.Millisecond):
	}
	// Idempotent.
	disp.Unsubscribe("a")
}

func TestTransportShutdownClosesSubscriptions(t *testing.T) {
	disp, ft := newTestDispatcher(t)
	sub, _ := disp.Subscribe("a")

	ft.Close()
	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected subscription channel to close, got an envelope")
		}
	case <-time.After(testWait):
		t.Fatal("subscription never closed after transport shutdown")
	}
	select {
	case <-disp.Done():
	case <-time.After(testWait):
		t.Fatal("dispatcher Done never closed")
	}
	if _, err := disp.Subscribe("late"); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Subscribe after shutdown = %v, want ErrTransportClosed", err)
	}
}

func TestSendAfterShutdownFails(t *testing.T) {
	disp, ft := newTestDispatcher(t)
	ft.Close()
	<-disp.Done()
	err := disp.Send(t.Context(), &Envelope{MsgType: MessageTypeCommMsg, CommID: "a"})
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after shutdown = %v, want ErrTransportClosed", err)
	}
}
