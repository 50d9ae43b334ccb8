package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr              string
	UniverseIDs             []string
	Publisher               string
	RobloxAPIKey            string
	MessagingTopic          string
	DatabaseURL             string
	PublishTimeoutSeconds   int
	PublishConcurrency      int
	BanSweepIntervalSeconds int
	AuditRetentionDays      int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:              envOrDefault("DTR_LISTEN_ADDR", ":3000"),
		UniverseIDs:             splitCSV(os.Getenv("DTR_UNIVERSE_IDS")),
		Publisher:               envOrDefault("DTR_PUBLISHER", "fake"),
		RobloxAPIKey:            os.Getenv("DTR_ROBLOX_API_KEY"),
		MessagingTopic:          envOrDefault("DTR_MESSAGING_TOPIC", "DTRModerationCommand"),
		DatabaseURL:             os.Getenv("DTR_DATABASE_URL"),
		PublishTimeoutSeconds:   ParsePositiveIntEnv("DTR_PUBLISH_TIMEOUT_SECONDS", 10),
		PublishConcurrency:      ParsePositiveIntEnv("DTR_PUBLISH_CONCURRENCY", 8),
		BanSweepIntervalSeconds: parseNonNegativeIntEnv("DTR_BAN_SWEEP_INTERVAL_SECONDS", 120),
		AuditRetentionDays:      ParsePositiveIntEnv("DTR_AUDIT_RETENTION_DAYS", 30),
	}

	if len(cfg.UniverseIDs) == 0 {
		return Config{}, fmt.Errorf("DTR_UNIVERSE_IDS is required")
	}
	if cfg.Publisher != "fake" && cfg.Publisher != "roblox" {
		return Config{}, fmt.Errorf("DTR_PUBLISHER must be one of fake|roblox")
	}
	if cfg.Publisher == "roblox" && cfg.RobloxAPIKey == "" {
		return Config{}, fmt.Errorf("DTR_ROBLOX_API_KEY is required for roblox publisher")
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}

// Zero is meaningful here: it disables the feature.
func parseNonNegativeIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return d
	}
	return n
}
