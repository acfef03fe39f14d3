// Package memory is an in-process relay bus for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
)

const subscriberBuffer = 256

// ErrClosed is returned when using a closed relay.
var ErrClosed = errors.New("memory relay closed")

var (
	busesMu sync.Mutex
	buses   = make(map[string]*Bus)
)

// Bus fans payloads out to every subscriber of a channel.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBus creates an isolated bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan []byte]struct{})}
}

// Open returns a relay on the process-wide bus called name, creating it on first use.
func Open(name, channel string) *Relay {
	busesMu.Lock()
	bus, ok := buses[name]
	if !ok {
		bus = NewBus()
		buses[name] = bus
	}
	busesMu.Unlock()
	return bus.Relay(channel)
}

// Relay returns a connection to channel on this bus.
func (b *Bus) Relay(channel string) *Relay {
	return &Relay{bus: b, channel: channel, own: make(map[chan []byte]struct{})}
}

func (b *Bus) publish(channel string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
			// Subscriber is behind; pub/sub buses drop rather than block.
		}
	}
}

func (b *Bus) subscribe(channel string) chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) unsubscribe(channel string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[channel][ch]; ok {
		delete(b.subs[channel], ch)
		close(ch)
	}
}

// Relay is one instance's connection to a Bus channel.
type Relay struct {
	bus     *Bus
	channel string

	mu     sync.Mutex
	closed bool
	own    map[chan []byte]struct{}
}

// Publish delivers payload to all current subscribers.
func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	r.bus.publish(r.channel, payload)
	return nil
}

// Subscribe registers a subscriber that lives until ctx ends or Close.
func (r *Relay) Subscribe(ctx context.Context) (<-chan []byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	ch := r.bus.subscribe(r.channel)
	r.own[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.drop(ch)
	}()
	return ch, nil
}

func (r *Relay) drop(ch chan []byte) {
	r.mu.Lock()
	delete(r.own, ch)
	r.mu.Unlock()
	r.bus.unsubscribe(r.channel, ch)
}

// Close unsubscribes everything opened through this relay.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	chans := make([]chan []byte, 0, len(r.own))
	for ch := range r.own {
		chans = append(chans, ch)
	}
	r.own = make(map[chan []byte]struct{})
	r.mu.Unlock()

	for _, ch := range chans {
		r.bus.unsubscribe(r.channel, ch)
	}
	return nil
}
