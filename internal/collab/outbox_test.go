package collab

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutboxDeliversInOrder(t *testing.T) {
	outbox := NewOutbox(0, OverflowDropOldest)
	for _, frame := range []string{"a", "b", "c"} {
		if err := outbox.Enqueue([]byte(frame)); err != nil {
			t.Fatalf("enqueue %s failed: %v", frame, err)
		}
	}
	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, ok := outbox.Dequeue(ctx)
		if !ok || string(got) != want {
			t.Fatalf("expected %q, got %q ok=%v", want, got, ok)
		}
	}
}

func TestOutboxDropOldestKeepsNewestFrames(t *testing.T) {
	outbox := NewOutbox(2, OverflowDropOldest)
	for _, frame := range []string{"a", "b", "c"} {
		if err := outbox.Enqueue([]byte(frame)); err != nil {
			t.Fatalf("enqueue %s failed: %v", frame, err)
		}
	}
	if outbox.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", outbox.Dropped())
	}
	for _, want := range []string{"b", "c"} {
		got, ok := outbox.Dequeue(context.Background())
		if !ok || string(got) != want {
			t.Fatalf("expected %q, got %q ok=%v", want, got, ok)
		}
	}
}

func TestOutboxDisconnectPolicyClosesOnOverflow(t *testing.T) {
	outbox := NewOutbox(1, OverflowDisconnect)
	if err := outbox.Enqueue([]byte("a")); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := outbox.Enqueue([]byte("b")); !errors.Is(err, ErrOutboxOverflow) {
		t.Fatalf("expected ErrOutboxOverflow, got %v", err)
	}
	if !outbox.Overflowed() {
		t.Fatalf("expected overflowed flag")
	}
	select {
	case <-outbox.Done():
	default:
		t.Fatalf("expected outbox closed after overflow")
	}
	if err := outbox.Enqueue([]byte("c")); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("expected ErrOutboxClosed, got %v", err)
	}
	if _, ok := outbox.Dequeue(context.Background()); ok {
		t.Fatalf("closed outbox must not yield frames")
	}
}

func TestOutboxDequeueWakesOnEnqueue(t *testing.T) {
	outbox := NewOutbox(8, OverflowDropOldest)
	got := make(chan string, 1)
	go func() {
		frame, _ := outbox.Dequeue(context.Background())
		got <- string(frame)
	}()
	time.Sleep(20 * time.Millisecond)
	if err := outbox.Enqueue([]byte("late")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	select {
	case frame := <-got:
		if frame != "late" {
			t.Fatalf("expected late frame, got %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue did not wake up")
	}
}

func TestOutboxDequeueHonoursContext(t *testing.T) {
	outbox := NewOutbox(8, OverflowDropOldest)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := outbox.Dequeue(ctx); ok {
		t.Fatalf("expected dequeue to give up when ctx expires")
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	cases := map[string]struct {
		policy OverflowPolicy
		ok     bool
	}{
		"":             {OverflowDropOldest, true},
		"drop-oldest":  {OverflowDropOldest, true},
		" Disconnect ": {OverflowDisconnect, true},
		"block":        {OverflowDropOldest, false},
	}
	for raw, want := range cases {
		policy, ok := ParseOverflowPolicy(raw)
		if policy != want.policy || ok != want.ok {
			t.Fatalf("%q: expected %s/%v, got %s/%v", raw, want.policy, want.ok, policy, ok)
		}
	}
}
