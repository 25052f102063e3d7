package app

import (
	"errors"
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and
	// reachable.
	ReadinessRequireDB bool

	// TokenSecret signs capability tokens. Required, at least 32 bytes.
	TokenSecret string

	// ScoreAPIURL points at the external live-score service. Empty
	// means live scores are computed from the local store.
	ScoreAPIURL string

	// LedgerURL points at the ledger bridge. Empty disables the sync
	// queue consumer (milestones still compute, nothing is submitted).
	LedgerURL string

	// Chat platform credentials. At most one platform is active;
	// Telegram wins when both are set.
	TelegramToken     string
	DiscordToken      string
	DiscordGuildID    string
	DiscordChannelID  string
	DiscordAdminRoles []string

	SessionRefreshInterval time.Duration
	SessionSweepInterval   time.Duration
}

// ErrNoTokenSecret rejects startup without a signing secret; issuing
// unsigned capability tokens is not a mode this server has.
var ErrNoTokenSecret = errors.New("RG_TOKEN_SECRET must be set to at least 32 bytes")

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("RG_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("RG_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("RG_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RG_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RG_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RG_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("RG_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("RG_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("RG_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RG_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("RG_READINESS_REQUIRE_DB", false),

		TokenSecret: EnvString("RG_TOKEN_SECRET", ""),
		ScoreAPIURL: EnvString("RG_SCORE_API_URL", ""),
		LedgerURL:   EnvString("RG_LEDGER_URL", ""),

		TelegramToken:     EnvString("RG_TELEGRAM_TOKEN", ""),
		DiscordToken:      EnvString("RG_DISCORD_TOKEN", ""),
		DiscordGuildID:    EnvString("RG_DISCORD_GUILD_ID", ""),
		DiscordChannelID:  EnvString("RG_DISCORD_CHANNEL_ID", ""),
		DiscordAdminRoles: splitCSV(EnvString("RG_DISCORD_ADMIN_ROLES", "")),

		SessionRefreshInterval: EnvDuration("RG_SESSION_REFRESH_INTERVAL", time.Minute),
		SessionSweepInterval:   EnvDuration("RG_SESSION_SWEEP_INTERVAL", time.Minute),
	}
}

// Validate checks the parts of the config that have no safe default.
func (c Config) Validate() error {
	if len(c.TokenSecret) < 32 {
		return ErrNoTokenSecret
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
