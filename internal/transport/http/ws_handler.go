package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/metrics"
	"github.com/vovakirdan/studio-presence/internal/proto"
	"github.com/vovakirdan/studio-presence/internal/store"
	"github.com/vovakirdan/studio-presence/internal/utils"
)

const visitLogTimeout = 2 * time.Second

var errHubClosed = errors.New("hub closed")

// Presence is the part of core.Hub the transport needs.
type Presence interface {
	InstanceID() string
	RegisterClient(c *core.Client)
	UnregisterClient(c *core.Client)
	Join(c *core.Client, identity core.Identity)
	Snapshot(ctx context.Context) ([]core.Identity, error)
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub    Presence
	visits store.VisitStore
	cfg    *config.Config
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub Presence, visits store.VisitStore, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, visits: visits, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.AllowedOrigins,
		InsecureSkipVerify: len(h.cfg.AllowedOrigins) == 0,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewID())
	h.hub.RegisterClient(client)
	joined := false
	defer func() {
		h.hub.UnregisterClient(client)
		if joined {
			h.recordLeave(client.ID)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &joined)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errHubClosed) {
		status = websocket.StatusGoingAway
		reason = "server shutting down"
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || status == websocket.StatusNoStatusRcvd {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, joined *bool) error {
	limiter := newFrameLimiter(h.cfg.JoinRatePerMinute)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.Allow() {
			metrics.JoinsIgnored.WithLabelValues("rate_limited").Inc()
			if writeErr := writeError(ctx, conn, core.ErrCodeRateLimited, "too many messages"); writeErr != nil {
				return writeErr
			}
			continue
		}

		if typ != websocket.MessageText {
			h.log.Debug().Str("client_id", client.ID).Msg("dropping binary frame")
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			metrics.JoinsIgnored.WithLabelValues("malformed").Inc()
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("dropping malformed frame")
			continue
		}

		identity, protoErr, err := inboundToIdentity(inbound)
		if err != nil {
			metrics.JoinsIgnored.WithLabelValues("malformed").Inc()
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("dropping malformed join")
			continue
		}
		if protoErr != nil {
			if writeErr := writeError(ctx, conn, protoErr.Code, protoErr.Msg); writeErr != nil {
				return writeErr
			}
			continue
		}

		// The hub drops joins without an ip; only valid ones reach the visit log.
		h.hub.Join(client, identity)
		if identity.Valid() {
			*joined = true
			h.recordJoin(client.ID, identity)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return errHubClosed
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}

func (h *WSHandler) recordJoin(connID string, identity core.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), visitLogTimeout)
	defer cancel()

	visit := store.Visit{
		ConnectionID: connID,
		InstanceID:   h.hub.InstanceID(),
		IP:           strings.TrimSpace(identity.IP),
		Location:     identity.Location,
		JoinedAt:     time.Now(),
	}
	if identity.Coordinates != nil {
		coords := [2]float64(*identity.Coordinates)
		visit.Coordinates = &coords
	}
	if err := h.visits.RecordJoin(ctx, visit); err != nil {
		h.log.Warn().Err(err).Str("client_id", connID).Msg("record visit join")
	}
}

func (h *WSHandler) recordLeave(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), visitLogTimeout)
	defer cancel()

	if err := h.visits.RecordLeave(ctx, connID, time.Now()); err != nil {
		h.log.Warn().Err(err).Str("client_id", connID).Msg("record visit leave")
	}
}
