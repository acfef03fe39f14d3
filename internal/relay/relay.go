// Package relay propagates presence updates between server instances over a
// shared publish/subscribe bus.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vovakirdan/studio-presence/internal/relay/memory"
	natsrelay "github.com/vovakirdan/studio-presence/internal/relay/nats"
	redisrelay "github.com/vovakirdan/studio-presence/internal/relay/redis"
)

// ErrUnsupportedScheme is returned by Dial for unknown relay URLs.
var ErrUnsupportedScheme = errors.New("unsupported relay scheme")

// Relay is a byte-level publish/subscribe channel shared by all instances.
type Relay interface {
	// Publish sends payload to every subscriber, this instance included.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe returns a channel of payloads that closes when ctx ends or the relay is closed.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	// Close releases the connection.
	Close() error
}

// Dial connects to the bus named by rawURL and verifies the connection before returning.
// Supported schemes: redis, rediss, nats, tls, memory.
func Dial(ctx context.Context, rawURL, channel string) (Relay, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		return redisrelay.Dial(ctx, rawURL, channel)
	case "nats", "tls":
		return natsrelay.Dial(ctx, rawURL, channel)
	case "memory":
		name := u.Host + u.Path
		return memory.Open(name, channel), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Describe renders a relay URL for logs without credentials.
func Describe(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	u.User = nil
	return u.Redacted()
}
