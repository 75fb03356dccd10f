package busrouter

import (
	"testing"
	"time"
)

// TestGraceWindowReplay implements scenario S1: a module registering for an
// event within the grace window replays the pre-registration broadcast
// exactly once; a module registering after the window sees nothing.
func TestGraceWindowReplay(t *testing.T) {
	r := New(nil, 50*time.Millisecond, nil, nil)
	r.Run()

	r.Deliver(Message{Selector: ForEvent("new-block"), Payload: Event("new-block", "P1")})

	mb := NewMailbox(4)
	if err := r.Register("M", mb, nil, []EventTag{"new-block"}); err != nil {
		t.Fatalf("register M: %v", err)
	}

	select {
	case msg := <-mb:
		if msg.Payload.Content != "P1" {
			t.Fatalf("want P1, got %v", msg.Payload.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("M did not receive pooled event")
	}

	select {
	case <-mb:
		t.Fatal("M received the pooled event twice")
	case <-time.After(20 * time.Millisecond):
	}

	time.Sleep(100 * time.Millisecond) // past the grace window

	mb2 := NewMailbox(4)
	if err := r.Register("M2", mb2, nil, []EventTag{"new-block"}); err != nil {
		t.Fatalf("register M2: %v", err)
	}
	select {
	case <-mb2:
		t.Fatal("M2 should not receive anything after the grace window")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestGraceWindowReplayToSecondLateRegistrant covers a second module
// registering for the same event after an earlier member already existed
// and received a live delivery, still inside the grace window. The event
// must stay pooled for any registrant joining within the window, not just
// while the member set was still empty at delivery time.
func TestGraceWindowReplayToSecondLateRegistrant(t *testing.T) {
	r := New(nil, 200*time.Millisecond, nil, nil)
	r.Run()

	mb1 := NewMailbox(4)
	if err := r.Register("M1", mb1, nil, []EventTag{"new-block"}); err != nil {
		t.Fatalf("register M1: %v", err)
	}

	r.Deliver(Message{Selector: ForEvent("new-block"), Payload: Event("new-block", "P1")})

	select {
	case msg := <-mb1:
		if msg.Payload.Content != "P1" {
			t.Fatalf("want P1, got %v", msg.Payload.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("M1 did not receive the live broadcast")
	}

	mb2 := NewMailbox(4)
	if err := r.Register("M2", mb2, nil, []EventTag{"new-block"}); err != nil {
		t.Fatalf("register M2: %v", err)
	}
	select {
	case msg := <-mb2:
		if msg.Payload.Content != "P1" {
			t.Fatalf("want P1, got %v", msg.Payload.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("M2 registered within the grace window but did not receive the earlier broadcast")
	}
}

// TestStopPropagation implements scenario S2: a Stop broadcast reaches
// every registered module and every external follower.
func TestStopPropagation(t *testing.T) {
	follower := NewMailbox(4)
	r := New(nil, time.Minute, []Mailbox{follower}, nil)
	r.Run()

	a, b := NewMailbox(4), NewMailbox(4)
	if err := r.Register("A", a, nil, nil); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := r.Register("B", b, nil, nil); err != nil {
		t.Fatalf("register B: %v", err)
	}

	r.Deliver(Message{Selector: All(), Payload: Stop()})

	for name, mb := range map[string]Mailbox{"A": a, "B": b, "follower": follower} {
		select {
		case msg := <-mb:
			if msg.Payload.Kind != PKStop {
				t.Fatalf("%s: expected Stop payload, got %v", name, msg.Payload.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive Stop", name)
		}
	}

	select {
	case <-r.stopped:
	case <-time.After(time.Second):
		t.Fatal("router did not stop after Stop broadcast")
	}
}

// TestDuplicateRegistration checks §3 invariant 1.
func TestDuplicateRegistration(t *testing.T) {
	r := New(nil, time.Minute, nil, nil)
	r.Run()

	if err := r.Register("A", NewMailbox(1), nil, nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("A", NewMailbox(1), nil, nil); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

// TestUnicastDeliveredDirectly checks that One() delivers without touching
// the broadcaster's indexes (scenario S6's delivery path).
func TestUnicastDeliveredDirectly(t *testing.T) {
	r := New(nil, time.Minute, nil, nil)
	r.Run()

	mb := NewMailbox(1)
	if err := r.Register("Q", mb, nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Deliver(Message{Selector: One("Q"), Payload: Request("caller", "Q", "req-1", 100)})

	select {
	case msg := <-mb:
		if msg.Payload.ReqID != "req-1" {
			t.Fatalf("unexpected request id %q", msg.Payload.ReqID)
		}
	case <-time.After(time.Second):
		t.Fatal("Q did not receive its unicast request")
	}
}
