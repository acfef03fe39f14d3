package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/auth"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/contact"
	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/geo"
	"github.com/vovakirdan/studio-presence/internal/proto"
	"github.com/vovakirdan/studio-presence/internal/store"
)

const (
	snapshotTimeout   = 2 * time.Second
	defaultStatsDays  = 7
	maxStatsDays      = 365
	topLocationsLimit = 10
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	deps Deps
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, cfg *config.Config, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		deps: deps,
		cfg:  cfg,
		log:  logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VisitorsResponse is the current visitor list.
type VisitorsResponse struct {
	Count    int             `json:"count"`
	Visitors []proto.Visitor `json:"visitors"`
}

// GeoResponse has the shape of a join payload, so a client can forward it as-is.
type GeoResponse = proto.JoinData

// StatsResponse is the admin dashboard summary.
type StatsResponse struct {
	*store.VisitStats
	Online int `json:"online"`
}

// Visitors returns the list currently broadcast to viewers.
// GET /api/visitors
func (h *APIHandlers) Visitors(c *gin.Context) {
	list, err := h.snapshot(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("visitor snapshot")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, VisitorsResponse{Count: len(list), Visitors: visitorsFromIdentities(list)})
}

// Geo resolves the caller (or ?ip=) to a join payload.
// GET /api/geo
func (h *APIHandlers) Geo(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		ip = c.ClientIP()
	}

	if h.deps.Geo == nil {
		c.JSON(http.StatusOK, GeoResponse{IP: ip})
		return
	}

	loc, err := h.deps.Geo.Lookup(c.Request.Context(), ip)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidIP) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ip"})
			return
		}
		// The viewer can still join with a bare ip.
		h.log.Debug().Err(err).Str("ip", ip).Msg("geo lookup failed")
		c.JSON(http.StatusOK, GeoResponse{IP: ip})
		return
	}

	identity := loc.Identity()
	resp := GeoResponse{IP: identity.IP, Location: identity.Location}
	if identity.Coordinates != nil {
		coords := [2]float64(*identity.Coordinates)
		resp.Coordinates = &coords
	}
	c.JSON(http.StatusOK, resp)
}

// Contact accepts the website's quote form.
// POST /api/contact
func (h *APIHandlers) Contact(c *gin.Context) {
	if h.deps.Contact == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "contact form disabled"})
		return
	}

	var req contact.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid contact request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.deps.Contact.Submit(c.Request.Context(), req); err != nil {
		if errors.Is(err, contact.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "could not send message"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// AdminLogin handles the dashboard login.
// POST /api/admin/login
func (h *APIHandlers) AdminLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.log.Info().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("failed admin login")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		case errors.Is(err, auth.ErrAdminDisabled):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin login disabled"})
		default:
			h.log.Error().Err(err).Msg("failed to login admin")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		adminCookie,
		token,
		int(h.cfg.JWTTTL.Seconds()),
		"/",
		"",
		c.Request.TLS != nil,
		true, // httpOnly
	)

	h.log.Info().Str("username", req.Username).Msg("admin logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// AdminLogout clears the session cookie.
// POST /api/admin/logout
func (h *APIHandlers) AdminLogout(c *gin.Context) {
	c.SetCookie(adminCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	c.Status(http.StatusNoContent)
}

// AdminStats summarizes the visit log for the last N days.
// GET /api/admin/stats?days=N
func (h *APIHandlers) AdminStats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "days must be between 1 and 365"})
			return
		}
		days = n
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.deps.Visits.Stats(c.Request.Context(), since, topLocationsLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("load visit stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	online := 0
	if list, err := h.snapshot(c.Request.Context()); err == nil {
		online = len(list)
	}
	c.JSON(http.StatusOK, StatsResponse{VisitStats: stats, Online: online})
}

func (h *APIHandlers) snapshot(ctx context.Context) ([]core.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return h.deps.Hub.Snapshot(ctx)
}
