// Package nats implements the presence relay on core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const subscriberBuffer = 64

// Relay publishes and subscribes on a single NATS subject.
type Relay struct {
	nc      *nats.Conn
	subject string

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the NATS server. The connect timeout follows ctx's deadline.
func Dial(ctx context.Context, rawURL, subject string) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("studio-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(rawURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return NewRelay(nc, subject), nil
}

// NewRelay wraps an existing connection.
func NewRelay(nc *nats.Conn, subject string) *Relay {
	return &Relay{nc: nc, subject: subject, closed: make(chan struct{})}
}

// Publish sends payload on the subject.
func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.nc.Publish(r.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe registers interest and flushes so the server knows about it before returning.
func (r *Relay) Subscribe(ctx context.Context) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := r.nc.ChanSubscribe(r.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := r.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.closed:
				return
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				case <-r.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close flushes pending publishes and closes the connection.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		err = r.nc.Flush()
		r.nc.Close()
	})
	return err
}
