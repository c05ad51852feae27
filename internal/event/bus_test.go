package event

import (
	"strings"
	"testing"
)

func TestSubscribePublish(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("nb1")

	b.Publish("nb1", "ping")

	select {
	case msg := <-ch:
		if msg != "ping" {
			t.Errorf("got %q, expected %q", msg, "ping")
		}
	default:
		t.Fatal("expected a buffered message")
	}
}

func TestPublishNoListeners(t *testing.T) {
	b := NewBus()
	// Listeners may subscribe after events begin; this must not error or panic.
	b.Publish("empty", "ping")
}

func TestTopicsIsolated(t *testing.T) {
	b := NewBus()
	a := b.Subscribe("a")
	b.Subscribe("b")

	b.Publish("b", "only-b")

	select {
	case msg := <-a:
		t.Errorf("listener on topic a received %q", msg)
	default:
	}
}

func TestSlowListenerPruned(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe("nb1")
	fast := b.Subscribe("nb1")

	// Fill the slow listener past capacity. The fast listener drains.
	for i := 0; i < listenerCap; i++ {
		b.Publish("nb1", "fill")
		<-fast
	}
	if b.ListenerCount("nb1") != 2 {
		t.Fatalf("expected 2 listeners before overflow, got %d", b.ListenerCount("nb1"))
	}

	// This publish overflows slow: it must be pruned, not block.
	b.Publish("nb1", "overflow")

	if b.ListenerCount("nb1") != 1 {
		t.Errorf("expected slow listener pruned, have %d listeners", b.ListenerCount("nb1"))
	}

	// Pruned channel is closed once drained.
	drained := 0
	for range slow {
		drained++
	}
	if drained != listenerCap {
		t.Errorf("expected %d buffered messages on pruned channel, got %d", listenerCap, drained)
	}

	// Subsequent publishes keep working for the healthy listener.
	<-fast // drain the overflow message
	b.Publish("nb1", "after")
	if msg := <-fast; msg != "after" {
		t.Errorf("healthy listener got %q after prune", msg)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("nb1")
	b.Unsubscribe("nb1", ch)

	if b.ListenerCount("nb1") != 0 {
		t.Errorf("expected 0 listeners, got %d", b.ListenerCount("nb1"))
	}
	if _, open := <-ch; open {
		t.Error("expected channel closed after unsubscribe")
	}

	// Double unsubscribe is a no-op.
	b.Unsubscribe("nb1", ch)
}

func TestFormatSSE(t *testing.T) {
	cases := []struct {
		data, event, want string
	}{
		{"ping", "ping", "event: ping\ndata: ping\n\n"},
		{"hello", "", "data: hello\n\n"},
	}
	for _, c := range cases {
		if got := FormatSSE(c.data, c.event); got != c.want {
			t.Errorf("FormatSSE(%q, %q) = %q, expected %q", c.data, c.event, got, c.want)
		}
	}
}

func TestCloseClosesAll(t *testing.T) {
	b := NewBus()
	ch1 := b.Subscribe("a")
	ch2 := b.Subscribe("b")
	b.Close()

	for _, ch := range []<-chan string{ch1, ch2} {
		if _, open := <-ch; open {
			t.Error("expected channel closed after bus Close")
		}
	}
}

func TestFormatSSEMultiline(t *testing.T) {
	// The bus carries opaque text; framing only wraps it.
	got := FormatSSE("a b", "progress")
	if !strings.HasPrefix(got, "event: progress\n") || !strings.HasSuffix(got, "\n\n") {
		t.Errorf("bad framing: %q", got)
	}
}
