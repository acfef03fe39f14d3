package relay

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/vovakirdan/studio-presence/internal/core"
)

// startInstance runs a relayed hub plus bridge against rawURL, the way app wires them.
func startInstance(t *testing.T, rawURL, instanceID string) *core.Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	bridge, err := Connect(dialCtx, rawURL, "presence-test", nil)
	dialCancel()
	if err != nil {
		cancel()
		t.Fatalf("connect %s: %v", instanceID, err)
	}

	hub := core.NewHub(core.HubOptions{
		InstanceID: instanceID,
		Relayed:    true,
		Heartbeat:  50 * time.Millisecond,
		PeerTTL:    time.Second,
	})
	done := make(chan struct{})
	go hub.Run(ctx)
	go func() {
		defer close(done)
		_ = bridge.Run(ctx, hub)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func mustVisitors(t *testing.T, ch <-chan *core.Event, want ...string) {
	t.Helper()

	sort.Strings(want)
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", want)
			}
			got := make([]string, 0, len(ev.Visitors))
			for _, v := range ev.Visitors {
				got = append(got, v.IP)
			}
			sort.Strings(got)
			if equal(got, want) {
				return
			}
		case <-deadline:
			t.Fatalf("expected visitors %v not received", want)
		}
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
