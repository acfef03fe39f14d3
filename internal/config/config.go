package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// WebSocket limits.
	MaxMessageBytes   int64    `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	JoinRatePerMinute int      `mapstructure:"join_rate_per_minute" yaml:"join_rate_per_minute"`
	AllowedOrigins    []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// Proxies (IPs or CIDRs) whose X-Forwarded-For is believed. Empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`

	// Cross-instance relay. An empty RelayURL runs the instance standalone.
	InstanceID          string        `mapstructure:"instance_id" yaml:"instance_id"`
	RelayURL            string        `mapstructure:"relay_url" yaml:"relay_url"`
	RelayChannel        string        `mapstructure:"relay_channel" yaml:"relay_channel"`
	RelayConnectTimeout time.Duration `mapstructure:"relay_connect_timeout" yaml:"relay_connect_timeout"`
	RelayHeartbeat      time.Duration `mapstructure:"relay_heartbeat" yaml:"relay_heartbeat"`
	RelayPeerTTL        time.Duration `mapstructure:"relay_peer_ttl" yaml:"relay_peer_ttl"`

	// Visit log. An empty DatabasePath disables it.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// Admin auth.
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL            time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	AdminUsername     string        `mapstructure:"admin_username" yaml:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash" yaml:"admin_password_hash"`

	GeoLookupURL string        `mapstructure:"geo_lookup_url" yaml:"geo_lookup_url"`
	GeoTimeout   time.Duration `mapstructure:"geo_timeout" yaml:"geo_timeout"`

	// Contact form delivery. Without a SendGrid key messages are only logged.
	SendGridAPIKey string `mapstructure:"sendgrid_api_key" yaml:"sendgrid_api_key"`
	ContactFrom    string `mapstructure:"contact_from" yaml:"contact_from"`
	ContactTo      string `mapstructure:"contact_to" yaml:"contact_to"`
	AppName        string `mapstructure:"app_name" yaml:"app_name"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		LogFormat:           "console",
		MaxMessageBytes:     4 << 10,
		JoinRatePerMinute:   30,
		RelayChannel:        "presence:visitors",
		RelayConnectTimeout: 5 * time.Second,
		RelayHeartbeat:      15 * time.Second,
		RelayPeerTTL:        45 * time.Second,
		DatabasePath:        "visits.db",
		JWTIssuer:           "studio-presence",
		JWTAudience:         "studio-admin",
		JWTTTL:              24 * time.Hour,
		AdminUsername:       "admin",
		GeoLookupURL:        "https://ipapi.co/{ip}/json/",
		GeoTimeout:          3 * time.Second,
		ContactFrom:         "noreply@example.com",
		AppName:             "Studio",
	}
}

// RelayTimings returns the heartbeat and peer TTL the hub should use. A
// non-positive heartbeat falls back to the default, and a TTL that does not
// outlast at least two heartbeats is raised to three. adjusted reports
// whether the configured values were replaced.
func (c *Config) RelayTimings() (heartbeat, ttl time.Duration, adjusted bool) {
	def := Default()
	heartbeat, ttl = c.RelayHeartbeat, c.RelayPeerTTL
	if heartbeat <= 0 {
		heartbeat = def.RelayHeartbeat
		adjusted = true
	}
	if ttl < 2*heartbeat {
		ttl = 3 * heartbeat
		adjusted = true
	}
	return heartbeat, ttl, adjusted
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RelayURL != "" {
		c.RelayURL = other.RelayURL
	}
	if other.InstanceID != "" {
		c.InstanceID = other.InstanceID
	}
}
