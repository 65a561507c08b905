package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL  string
	Username string
	Password string

	RequestTimeout   time.Duration
	MaxResponseTime  time.Duration
	TokenRefreshSkew time.Duration
	LogRequests      bool
	LogResponses     bool

	ReportDatabaseURL string

	NotifyWebhookURL string
	NotifyTimeout    time.Duration
	NotifyMaxRetries int
	NotifyRetryBase  time.Duration
	NotifyRetryMax   time.Duration

	StubListenAddr string
	StubJWTSecret  string
	StubTokenTTL   time.Duration
}

func Load() Config {
	return Config{
		BaseURL:           getEnv("ENSEK_BASE_URL", "https://qacandidatetest.ensek.io"),
		Username:          getEnv("ENSEK_USERNAME", "test"),
		Password:          getEnv("ENSEK_PASSWORD", "testing"),
		RequestTimeout:    getDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxResponseTime:   getDuration("CHECK_MAX_RESPONSE_TIME", 200*time.Millisecond),
		TokenRefreshSkew:  getDuration("TOKEN_REFRESH_SKEW", 30*time.Second),
		LogRequests:       getBool("LOG_REQUESTS", false),
		LogResponses:      getBool("LOG_RESPONSES", false),
		ReportDatabaseURL: getEnv("REPORT_DATABASE_URL", ""),
		NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:     getDuration("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyMaxRetries:  getInt("NOTIFY_MAX_RETRIES", 3),
		NotifyRetryBase:   getDuration("NOTIFY_RETRY_BASE", 500*time.Millisecond),
		NotifyRetryMax:    getDuration("NOTIFY_RETRY_MAX", 5*time.Second),
		StubListenAddr:    getEnv("STUB_LISTEN_ADDR", ":18090"),
		StubJWTSecret:     getEnv("STUB_JWT_SECRET", "change-this-secret"),
		StubTokenTTL:      getDuration("STUB_TOKEN_TTL", 12*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
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
	v := os.Getenv(key)
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
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
