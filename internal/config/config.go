package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"guardcore/internal/guard"
)

type Config struct {
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
	CORSOrigins  []string
	RequestRPM   int
	HistoryLimit int

	SeedSuperadminEmail    string
	SeedSuperadminPassword string

	// Guards maps guard name to its security policy. Built once at load time
	// and read-only afterwards.
	Guards map[string]guard.Policy
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		JWTSecret:              strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:            splitCSV(getEnv("CORS_ORIGINS", "*")),
		RequestRPM:             getInt("RATE_LIMIT_RPM", 120),
		HistoryLimit:           getInt("LOGIN_HISTORY_LIMIT", 200),
		SeedSuperadminEmail:    getEnv("SEED_SUPERADMIN_EMAIL", "superadmin@guardcore.local"),
		SeedSuperadminPassword: getEnv("SEED_SUPERADMIN_PASSWORD", "change-me"),
		Guards:                 loadGuards(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}
	for name, p := range c.Guards {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("guard %s: max attempts must be positive", name)
		}
		if p.DecaySeconds <= 0 {
			return fmt.Errorf("guard %s: decay seconds must be positive", name)
		}
	}
	return nil
}

// loadGuards builds the guard policy table. Defaults match the per-guard
// policies of the admin backend; every knob can be overridden through
// GUARD_<NAME>_* env vars.
func loadGuards() map[string]guard.Policy {
	base := guard.Policy{
		MaxAttempts:      5,
		DecaySeconds:     300,
		LockoutDuration:  15 * time.Minute,
		SessionLifetime:  2 * time.Hour,
		TokenLifetime:    24 * time.Hour,
		MaxTokensPerUser: 0,
	}

	admin := base
	admin.SessionLifetime = time.Hour
	admin.TokenLifetime = 12 * time.Hour
	admin.MaxTokensPerUser = 5

	super := base
	super.MaxAttempts = 3
	super.LockoutDuration = 30 * time.Minute
	super.SessionLifetime = 30 * time.Minute
	super.TokenLifetime = 4 * time.Hour
	super.MaxTokensPerUser = 2

	vendor := base
	vendor.MaxTokensPerUser = 10

	guards := map[string]guard.Policy{
		guard.Web:           base,
		guard.API:           base,
		guard.Admin:         admin,
		guard.APIAdmin:      admin,
		guard.Vendor:        vendor,
		guard.APIVendor:     vendor,
		guard.Superadmin:    super,
		guard.APISuperadmin: super,
	}

	for name, p := range guards {
		prefix := "GUARD_" + strings.ToUpper(name) + "_"
		p.MaxAttempts = getInt(prefix+"MAX_ATTEMPTS", p.MaxAttempts)
		p.DecaySeconds = getInt(prefix+"DECAY_SECONDS", p.DecaySeconds)
		p.LockoutDuration = getDuration(prefix+"LOCKOUT", p.LockoutDuration)
		p.SessionLifetime = getDuration(prefix+"SESSION_LIFETIME", p.SessionLifetime)
		p.TokenLifetime = getDuration(prefix+"TOKEN_LIFETIME", p.TokenLifetime)
		p.Requires2FA = getBool(prefix+"REQUIRE_2FA", p.Requires2FA)
		p.MaxTokensPerUser = getInt(prefix+"MAX_TOKENS", p.MaxTokensPerUser)
		if wl := strings.TrimSpace(os.Getenv(prefix + "IP_WHITELIST")); wl != "" {
			p.IPWhitelist = splitCSV(wl)
		}
		guards[name] = p
	}
	return guards
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
