// Package geo resolves a viewer's IP to a coarse location for the join identity.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vovakirdan/studio-presence/internal/core"
	"github.com/vovakirdan/studio-presence/internal/metrics"
)

var (
	// ErrInvalidIP is returned for input that is not an IP address.
	ErrInvalidIP = errors.New("invalid ip")
	// ErrNoData is returned when the provider has nothing for the address (private ranges, reserved blocks).
	ErrNoData = errors.New("no location data")
	// ErrLookupFailed is returned when the provider could not be reached or answered badly.
	ErrLookupFailed = errors.New("geo lookup failed")
)

const (
	breakerName            = "geo-lookup"
	defaultTimeout         = 3 * time.Second
	defaultFailureLimit    = 5
	defaultOpenTimeout     = 30 * time.Second
	maxResponseBytes int64 = 64 << 10
)

// Location is what the provider knows about an address.
type Location struct {
	IP        string  `json:"ip"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Identity builds the join identity: "City, Country" when known, coordinates unless both are zero.
func (l *Location) Identity() core.Identity {
	identity := core.Identity{IP: l.IP}

	parts := make([]string, 0, 2)
	if l.City != "" {
		parts = append(parts, l.City)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	if len(parts) > 0 {
		label := strings.Join(parts, ", ")
		identity.Location = &label
	}
	if l.Latitude != 0 || l.Longitude != 0 {
		identity.Coordinates = &core.Coordinates{l.Latitude, l.Longitude}
	}
	return identity
}

// Options configures a Client.
type Options struct {
	// URLTemplate contains an {ip} placeholder.
	URLTemplate  string
	Timeout      time.Duration
	HTTPClient   *http.Client
	FailureLimit uint32
	OpenTimeout  time.Duration
	Logger       *zerolog.Logger
}

// Client looks up locations behind a circuit breaker.
type Client struct {
	template string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker[*Location]
	log      zerolog.Logger
}

// providerResponse is the ipapi.co shape; error/reason are set for reserved ranges.
type providerResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	CountryName string  `json:"country_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

// NewClient creates a lookup client.
func NewClient(opts Options) *Client {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FailureLimit == 0 {
		opts.FailureLimit = defaultFailureLimit
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		template: opts.URLTemplate,
		http:     httpClient,
		log:      logger.With().Str("component", "geo").Logger(),
	}
	limit := opts.FailureLimit
	c.cb = gobreaker.NewCircuitBreaker[*Location](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		// A provider that answers "nothing here" is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		// A caller that went away says nothing about the provider.
		IsExcluded: isCallerGone,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("geo breaker state changed")
		},
	})
	return c
}

// Lookup resolves ip. The request is bounded by ctx and the client timeout.
func (c *Client) Lookup(ctx context.Context, ip string) (*Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		metrics.GeoLookups.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	if err := ctx.Err(); err != nil {
		metrics.GeoLookups.WithLabelValues("canceled").Inc()
		return nil, err
	}

	loc, err := c.cb.Execute(func() (*Location, error) {
		loc, err := c.fetch(ctx, addr.String())
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return loc, err
	})
	switch {
	case err == nil:
		metrics.GeoLookups.WithLabelValues("ok").Inc()
		return loc, nil
	case errors.Is(err, ErrNoData):
		metrics.GeoLookups.WithLabelValues("no_data").Inc()
		return nil, err
	case isCallerGone(err):
		metrics.GeoLookups.WithLabelValues("canceled").Inc()
		return nil, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GeoLookups.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	default:
		metrics.GeoLookups.WithLabelValues("error").Inc()
		return nil, err
	}
}

// isCallerGone matches the caller's own cancellation. fetch never wraps
// context errors, so these only come from the caller's ctx.
func isCallerGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) fetch(ctx context.Context, ip string) (*Location, error) {
	url := strings.ReplaceAll(c.template, "{ip}", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var pr providerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLookupFailed, err)
	}
	if pr.Error {
		c.log.Debug().Str("ip", ip).Str("reason", pr.Reason).Msg("provider has no data")
		return nil, ErrNoData
	}
	if pr.IP == "" {
		pr.IP = ip
	}

	return &Location{
		IP:        pr.IP,
		City:      pr.City,
		Country:   pr.CountryName,
		Latitude:  pr.Latitude,
		Longitude: pr.Longitude,
	}, nil
}
