package logstream

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nebari-dev/prodesk/internal/models"
)

func entry(line string) models.LogEntry {
	return models.LogEntry{Stream: "stdout", Line: line, Time: time.Unix(0, 0)}
}

func subscriberCount(b *Broker, id uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[id])
}

func drain(t *testing.T, sub *Subscriber) []string {
	t.Helper()
	var lines []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return lines
			}
			lines = append(lines, e.Line)
		case <-timeout:
			t.Fatalf("subscriber channel never closed, got %v", lines)
		}
	}
}

func TestBrokerDeliversInOrderWithoutLoss(t *testing.T) {
	b := NewBroker()
	id := uuid.New()
	sub := b.Subscribe(id)

	// More lines than any fixed buffer, published before anyone reads.
	const n = 500
	for i := 0; i < n; i++ {
		b.Publish(id, entry(fmt.Sprintf("line %d", i)))
	}
	b.Close(id)

	lines := drain(t, sub)
	if len(lines) != n {
		t.Fatalf("received %d lines, want %d", len(lines), n)
	}
	for i, l := range lines {
		if l != fmt.Sprintf("line %d", i) {
			t.Fatalf("line %d = %q", i, l)
		}
	}
}

func TestBrokerIsolatesActions(t *testing.T) {
	b := NewBroker()
	a, other := uuid.New(), uuid.New()
	sub := b.Subscribe(a)

	b.Publish(other, entry("not mine"))
	b.Publish(a, entry("mine"))
	b.Close(a)

	if lines := drain(t, sub); len(lines) != 1 || lines[0] != "mine" {
		t.Errorf("lines = %v", lines)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	id := uuid.New()
	sub := b.Subscribe(id)
	if subscriberCount(b, id) != 1 {
		t.Fatalf("subscribers = %d after Subscribe", subscriberCount(b, id))
	}

	b.Publish(id, entry("queued"))
	b.Unsubscribe(id, sub)
	b.Publish(id, entry("after"))

	if n := subscriberCount(b, id); n != 0 {
		t.Errorf("subscribers = %d after Unsubscribe", n)
	}
	for e := range sub.C() {
		if e.Line == "after" {
			t.Errorf("received line published after Unsubscribe")
		}
	}
}

func TestUnsubscribeMidStreamStopsPump(t *testing.T) {
	b := NewBroker()
	before := runtime.NumGoroutine()

	const rounds = 50
	for i := 0; i < rounds; i++ {
		id := uuid.New()
		sub := b.Subscribe(id)
		b.Publish(id, entry("first"))
		b.Publish(id, entry("second"))

		select {
		case <-sub.C():
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: first line not delivered", i)
		}
		// The pump now holds "second" and waits for a reader that never comes.
		b.Unsubscribe(id, sub)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before+5 {
		t.Errorf("goroutines before=%d after=%d: pumps still running after Unsubscribe", before, after)
	}
}
