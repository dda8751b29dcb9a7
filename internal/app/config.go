package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// File-backed state, used when no database is configured.
	SessionsFile  string
	WhitelistFile string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Upstream credential authority. An empty token puts the process in
	// degraded mode: approvals and event-driven revocation are unavailable.
	AuthorityToken   string
	AuthorityBaseURL string

	// Revocation event subscription.
	EventTopic       string
	ReconnectBackoff time.Duration

	// Onboarding policy.
	PendingTTL    time.Duration
	SweepInterval time.Duration
	LabelPrefix   string

	// Downstream DNS filtering service. Empty URL disables reconciliation.
	FilterURL  string
	FilterUser string
	FilterPass string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PAIRGATE_HTTP_ADDR", "0.0.0.0:3000"),
		LogLevel:  EnvString("PAIRGATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PAIRGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PAIRGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PAIRGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PAIRGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PAIRGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PAIRGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   splitOrigins(EnvString("PAIRGATE_CORS_ALLOWED_ORIGINS", "")),
		CORSAllowCredentials: EnvBool("PAIRGATE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PAIRGATE_CORS_MAX_AGE_SECONDS", 600),

		SessionsFile:  EnvString("PAIRGATE_SESSIONS_FILE", "/data/sessions.json"),
		WhitelistFile: EnvString("PAIRGATE_WHITELIST_FILE", "/data/dns_whitelist.json"),

		DatabaseURL: EnvString("PAIRGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PAIRGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PAIRGATE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PAIRGATE_READINESS_REQUIRE_DB", false),

		AuthorityToken:   EnvString("SUPERVISOR_TOKEN", ""),
		AuthorityBaseURL: EnvString("PAIRGATE_AUTHORITY_URL", "http://supervisor/core/api"),

		EventTopic:       EnvString("PAIRGATE_EVENT_TOPIC", "bordneai_revoke_device_event"),
		ReconnectBackoff: EnvDuration("PAIRGATE_WS_RECONNECT_BACKOFF", 5*time.Second),

		PendingTTL:    EnvDuration("PAIRGATE_PENDING_TTL", 5*time.Minute),
		SweepInterval: EnvDuration("PAIRGATE_SWEEP_INTERVAL", 30*time.Second),
		LabelPrefix:   EnvString("PAIRGATE_LABEL_PREFIX", "BordneAI"),

		FilterURL:  EnvString("PAIRGATE_FILTER_URL", ""),
		FilterUser: EnvString("PAIRGATE_FILTER_USER", ""),
		FilterPass: EnvString("PAIRGATE_FILTER_PASS", ""),
	}
}

// EventsURL derives the websocket endpoint from the authority base URL.
// http(s)://host/core/api becomes ws(s)://host/core/websocket.
func (c Config) EventsURL() string {
	base := strings.TrimRight(c.AuthorityBaseURL, "/")
	base = strings.TrimSuffix(base, "/api")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/websocket"
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
