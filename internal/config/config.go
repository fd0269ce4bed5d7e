package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	LogLevel     string
	Env          string // dev|prod
	SentryDSN    string
	Location     *time.Location
	BotToken     string  // optional: operator notifications over Telegram
	AdminChatIDs []int64 // recipients for those notifications

	RollbackCoolingOff  time.Duration // minimum delay between rollback request and confirm
	ProjectionStaleness time.Duration // after this a projection falls back to live reads
	RebuildInterval     time.Duration // projection rebuild job period
}

func Load() (*Config, error) {
	tz := getenv("TZ", "America/New_York")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	adminIDs, err := parseIDs(os.Getenv("ADMIN_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_IDS: %w", err)
	}

	coolingOff, err := getdur("ROLLBACK_COOLING_OFF", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	staleness, err := getdur("PROJECTION_STALENESS", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	rebuild, err := getdur("PROJECTION_REBUILD_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:         mustEnv("DATABASE_URL"),
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		Env:                 getenv("ENV", "dev"),
		SentryDSN:           os.Getenv("SENTRY_DSN"),
		Location:            loc,
		BotToken:            os.Getenv("BOT_TOKEN"),
		AdminChatIDs:        adminIDs,
		RollbackCoolingOff:  coolingOff,
		ProjectionStaleness: staleness,
		RebuildInterval:     rebuild,
	}
	return cfg, nil
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("required env " + k + " is empty")
	}
	return v
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func parseIDs(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
