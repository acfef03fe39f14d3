package relay

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/relay/memory"
)

func TestBridgeUnionAcrossInstances(t *testing.T) {
	url := "memory://" + t.Name()
	hub1 := startInstance(t, url, "i1")
	hub2 := startInstance(t, url, "i2")

	a := core.NewClient("A")
	b := core.NewClient("B")
	hub1.RegisterClient(a)
	hub2.RegisterClient(b)

	hub1.Join(a, core.Identity{IP: "1.1.1.1"})
	hub2.Join(b, core.Identity{IP: "2.2.2.2"})

	mustVisitors(t, a.Events, "1.1.1.1", "2.2.2.2")
	mustVisitors(t, b.Events, "1.1.1.1", "2.2.2.2")

	// A leaves instance 1; instance 2 converges.
	hub1.UnregisterClient(a)
	mustVisitors(t, b.Events, "2.2.2.2")
}

func TestBridgeLateInstanceCatchesUp(t *testing.T) {
	url := "memory://" + t.Name()
	hub1 := startInstance(t, url, "i1")

	a := core.NewClient("A")
	hub1.RegisterClient(a)
	hub1.Join(a, core.Identity{IP: "1.1.1.1"})
	mustVisitors(t, a.Events, "1.1.1.1")

	hub2 := startInstance(t, url, "i2")
	watcher := core.NewClient("W")
	hub2.RegisterClient(watcher)

	mustVisitors(t, watcher.Events, "1.1.1.1")
}

func TestBridgeShutdownSendsBye(t *testing.T) {
	url := "memory://" + t.Name()
	hub1 := startInstance(t, url, "i1")

	ctx, cancel := context.WithCancel(context.Background())
	bridge, err := Connect(ctx, url, "presence-test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	hub2 := core.NewHub(core.HubOptions{InstanceID: "i2", Relayed: true})
	done := make(chan struct{})
	go hub2.Run(ctx)
	go func() {
		defer close(done)
		_ = bridge.Run(ctx, hub2)
	}()

	watcher := core.NewClient("W")
	hub1.RegisterClient(watcher)

	b := core.NewClient("B")
	hub2.RegisterClient(b)
	hub2.Join(b, core.Identity{IP: "2.2.2.2"})
	mustVisitors(t, watcher.Events, "2.2.2.2")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("bridge did not stop")
	}
	mustVisitors(t, watcher.Events)
}

func TestBridgeDropsGarbage(t *testing.T) {
	url := "memory://" + t.Name()
	hub1 := startInstance(t, url, "i1")

	watcher := core.NewClient("W")
	hub1.RegisterClient(watcher)
	mustVisitors(t, watcher.Events)

	raw := memory.Open(t.Name(), "presence-test")
	defer raw.Close()
	if err := raw.Publish(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := Encode(core.PeerUpdate{Instance: "i9", Seq: 1, Kind: core.PeerSnapshot, Visitors: []core.Identity{{IP: "9.9.9.9"}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := raw.Publish(context.Background(), data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mustVisitors(t, watcher.Events, "9.9.9.9")
}
