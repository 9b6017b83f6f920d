package ws

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

type fakeSubscriber struct {
	received chan []byte
	sendErr  error
	closed   chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		received: make(chan []byte, 16),
		closed:   make(chan struct{}, 1),
	}
}

func (f *fakeSubscriber) Send(payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received <- payload
	return nil
}

func (f *fakeSubscriber) Close() {
	select {
	case f.closed <- struct{}{}:
	default:
	}
}

func waitPayload(t *testing.T, sub *fakeSubscriber) []byte {
	t.Helper()
	select {
	case payload := <-sub.received:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

func TestPublishFansOutPerStack(t *testing.T) {
	hub := NewHub()
	one := newFakeSubscriber()
	other := newFakeSubscriber()
	hub.Register("stack-1", one)
	hub.Register("stack-2", other)

	event := domain.ProgressEvent{
		OperationID: "op-1",
		StackID:     "stack-1",
		Step:        "api",
		Phase:       "start",
		Outcome:     "succeeded",
	}
	hub.Publish(event)

	payload := waitPayload(t, one)
	var got domain.ProgressEvent
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.OperationID != "op-1" || got.Step != "api" {
		t.Errorf("event = %+v, want op-1/api", got)
	}

	select {
	case payload := <-other.received:
		t.Fatalf("stack-2 subscriber received foreign event: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFailedSubscriberDropped(t *testing.T) {
	hub := NewHub()
	broken := newFakeSubscriber()
	broken.sendErr = errors.New("peer gone")
	healthy := newFakeSubscriber()
	hub.Register("stack-1", broken)
	hub.Register("stack-1", healthy)

	hub.Broadcast("stack-1", []byte(`{"n":1}`))

	waitPayload(t, healthy)
	select {
	case <-broken.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("broken subscriber was not closed")
	}

	// The dropped subscriber never sees later broadcasts.
	hub.Broadcast("stack-1", []byte(`{"n":2}`))
	waitPayload(t, healthy)
	if len(broken.received) != 0 {
		t.Errorf("dropped subscriber still receiving")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber()
	hub.Register("stack-1", sub)
	hub.Broadcast("stack-1", []byte(`{}`))
	waitPayload(t, sub)

	hub.Unregister("stack-1", sub)
	hub.Broadcast("stack-1", []byte(`{}`))
	select {
	case payload := <-sub.received:
		t.Fatalf("unregistered subscriber received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
