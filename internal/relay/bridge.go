package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/metrics"
)

const defaultPublishTimeout = 2 * time.Second

// Hub is the part of core.Hub the bridge talks to.
type Hub interface {
	Updates() <-chan core.PeerUpdate
	ApplyRemote(update core.PeerUpdate)
}

// Bridge couples one hub to the relay: local updates go out, peer updates come in.
type Bridge struct {
	relay          Relay
	msgs           <-chan []byte
	cancel         context.CancelFunc
	log            zerolog.Logger
	publishTimeout time.Duration
}

// Connect dials the relay and subscribes to the channel. Both steps must
// succeed within ctx; any error means the caller should run local-only.
func Connect(ctx context.Context, rawURL, channel string, logger *zerolog.Logger) (*Bridge, error) {
	r, err := Dial(ctx, rawURL, channel)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	b, err := NewBridge(ctx, r, logger)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return b, nil
}

// NewBridge subscribes on an already connected relay.
func NewBridge(ctx context.Context, r Relay, logger *zerolog.Logger) (*Bridge, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}

	// The subscription outlives the startup context.
	subCtx, cancel := context.WithCancel(context.Background())
	type result struct {
		msgs <-chan []byte
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		msgs, err := r.Subscribe(subCtx)
		resCh <- result{msgs: msgs, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			cancel()
			metrics.RelayErrors.WithLabelValues("subscribe").Inc()
			return nil, fmt.Errorf("subscribe relay: %w", res.err)
		}
		return &Bridge{
			relay:          r,
			msgs:           res.msgs,
			cancel:         cancel,
			log:            log.With().Str("component", "relay").Logger(),
			publishTimeout: defaultPublishTimeout,
		}, nil
	case <-ctx.Done():
		cancel()
		metrics.RelayErrors.WithLabelValues("subscribe").Inc()
		return nil, fmt.Errorf("subscribe relay: %w", ctx.Err())
	}
}

// Run pumps messages until ctx is canceled and the hub has closed its update stream,
// so a final bye still goes out during shutdown. The relay is closed on return.
func (b *Bridge) Run(ctx context.Context, hub Hub) error {
	defer b.close()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		b.consume(ctx, hub)
	}()

	b.publish(hub.Updates())
	<-consumed
	return nil
}

func (b *Bridge) consume(ctx context.Context, hub Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-b.msgs:
			if !ok {
				b.log.Warn().Msg("relay subscription closed, peers will expire")
				metrics.RelayErrors.WithLabelValues("subscribe").Inc()
				return
			}
			update, err := Decode(data)
			if err != nil {
				metrics.RelayErrors.WithLabelValues("decode").Inc()
				b.log.Debug().Err(err).Msg("dropping undecodable relay message")
				continue
			}
			hub.ApplyRemote(update)
		}
	}
}

func (b *Bridge) publish(updates <-chan core.PeerUpdate) {
	for update := range updates {
		data, err := Encode(update)
		if err != nil {
			metrics.RelayErrors.WithLabelValues("encode").Inc()
			b.log.Error().Err(err).Msg("encode relay update")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
		err = b.relay.Publish(ctx, data)
		cancel()
		if err != nil {
			metrics.RelayErrors.WithLabelValues("publish").Inc()
			b.log.Warn().Err(err).Str("kind", string(update.Kind)).Msg("relay publish failed")
			continue
		}
		metrics.RelayPublished.WithLabelValues(string(update.Kind)).Inc()
	}
}

func (b *Bridge) close() {
	b.cancel()
	if err := b.relay.Close(); err != nil {
		b.log.Warn().Err(err).Msg("close relay")
	}
}
