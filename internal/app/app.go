package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/studio-presence/internal/auth"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/contact"
	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/geo"
	"github.com/vovakirdan/studio-presence/internal/metrics"
	"github.com/vovakirdan/studio-presence/internal/relay"
	"github.com/vovakirdan/studio-presence/internal/store"
	"github.com/vovakirdan/studio-presence/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/studio-presence/internal/transport/http"
	"github.com/vovakirdan/studio-presence/internal/utils"
)

// App wires together core, relay, storage and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	bridge          *relay.Bridge
	visits          store.VisitStore
	log             *zerolog.Logger
}

// New constructs the application. A relay that cannot be reached within
// relay_connect_timeout is logged and the instance runs local-only.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = utils.NewInstanceID()
	}
	log := logger.With().Str("instance", instanceID).Logger()

	var visits store.VisitStore = store.Nop{}
	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init visit store: %w", err)
		}
		visits = st
		log.Info().Str("db_path", cfg.DatabasePath).Msg("visit log initialized")
	} else {
		log.Info().Msg("visit log disabled")
	}

	bridge := connectRelay(ctx, cfg, &log)

	heartbeat, peerTTL, adjusted := cfg.RelayTimings()
	if adjusted && bridge != nil {
		log.Warn().
			Dur("relay_heartbeat", heartbeat).
			Dur("relay_peer_ttl", peerTTL).
			Msg("relay heartbeat or peer ttl unusable, using adjusted values")
	}

	hub := core.NewHub(core.HubOptions{
		InstanceID: instanceID,
		Relayed:    bridge != nil,
		Heartbeat:  heartbeat,
		PeerTTL:    peerTTL,
		Logger:     &log,
	})

	authService := auth.NewService(
		auth.Admin{Username: cfg.AdminUsername, PasswordHash: cfg.AdminPasswordHash},
		&auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      cfg.JWTTTL,
		},
	)
	switch {
	case cfg.AdminPasswordHash == "":
		log.Warn().Msg("admin_password_hash not set, admin dashboard disabled")
	case !authService.Enabled():
		log.Warn().Int("min_bytes", auth.MinSecretBytes).Msg("jwt_secret missing or too weak, admin dashboard disabled")
	}

	var geoClient *geo.Client
	if cfg.GeoLookupURL != "" {
		geoClient = geo.NewClient(geo.Options{
			URLTemplate: cfg.GeoLookupURL,
			Timeout:     cfg.GeoTimeout,
			Logger:      &log,
		})
	}

	var sender contact.Sender
	if cfg.SendGridAPIKey != "" {
		sender = contact.NewSendGridSender(cfg.SendGridAPIKey, "", cfg.AppName, cfg.ContactFrom)
	} else {
		sender = contact.NewConsoleSender(&log)
	}
	contactTo := cfg.ContactTo
	if contactTo == "" {
		contactTo = cfg.ContactFrom
	}

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:     hub,
		Visits:  visits,
		Auth:    authService,
		Geo:     geoClient,
		Contact: contact.NewService(sender, contactTo, cfg.AppName, &log),
	}, cfg, &log)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		bridge:          bridge,
		visits:          visits,
		log:             &log,
	}, nil
}

func connectRelay(ctx context.Context, cfg *config.Config, log *zerolog.Logger) *relay.Bridge {
	if cfg.RelayURL == "" {
		metrics.RelayMode.Set(0)
		log.Info().Msg("no relay configured, running standalone")
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.RelayConnectTimeout)
	defer cancel()

	target := relay.Describe(cfg.RelayURL)
	bridge, err := relay.Connect(dialCtx, cfg.RelayURL, cfg.RelayChannel, log)
	if err != nil {
		metrics.RelayMode.Set(0)
		metrics.RelayErrors.WithLabelValues("connect").Inc()
		log.Warn().Err(err).Str("relay", target).Msg("relay unavailable, running local-only")
		return nil
	}

	metrics.RelayMode.Set(1)
	log.Info().Str("relay", target).Str("channel", cfg.RelayChannel).Msg("relay connected")
	return bridge
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Relayed reports whether the instance shares presence with peers.
func (a *App) Relayed() bool {
	return a.bridge != nil
}

// InstanceID returns the relay identity of this process.
func (a *App) InstanceID() string {
	return a.hub.InstanceID()
}

// Run starts the hub, the relay bridge and the HTTP server, and blocks until
// ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The hub outlives the HTTP server so connections are closed and the bye is sent last.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if a.bridge == nil {
			return
		}
		if err := a.bridge.Run(hubCtx, a.hub); err != nil {
			a.log.Error().Err(err).Msg("relay bridge stopped")
		}
	}()

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Bool("relayed", a.Relayed()).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)

		stopHub()
		for _, done := range []chan struct{}{hubDone, bridgeDone} {
			select {
			case <-done:
			case <-shutdownCtx.Done():
				a.log.Warn().Msg("shutdown timed out waiting for hub or relay")
			}
		}
		return err
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes the visit store.
func (a *App) cleanup() {
	if err := a.visits.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
