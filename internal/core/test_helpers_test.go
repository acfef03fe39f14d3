package core

import (
	"context"
	"sort"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func startHub(t *testing.T, opts HubOptions) (*Hub, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	hub := NewHub(opts)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

// mustVisitors waits for a visitors event whose IP set equals want.
func mustVisitors(t *testing.T, ch <-chan *Event, want ...string) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", want)
			}
			if ev.Kind == EventVisitors && sameIPs(ev.Visitors, want) {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected visitors %v not received", want)
			return nil
		}
	}
}

// mustClosed drains ch and fails unless it is closed shortly.
func mustClosed(t *testing.T, ch <-chan *Event) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("event channel was never closed")
		}
	}
}

// mustNoEvent asserts nothing arrives on ch for a short while.
func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func ips(list []Identity) []string {
	out := make([]string, 0, len(list))
	for _, identity := range list {
		out = append(out, identity.IP)
	}
	sort.Strings(out)
	return out
}

func sameIPs(list []Identity, want []string) bool {
	got := ips(list)
	sorted := append([]string(nil), want...)
	sort.Strings(sorted)
	if len(got) != len(sorted) {
		return false
	}
	for i := range got {
		if got[i] != sorted[i] {
			return false
		}
	}
	return true
}
