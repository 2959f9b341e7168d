package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ResponderSimulated = "simulated"
	ResponderRemote    = "remote"

	// StubBackend selects the in-memory remote backend instead of a real API.
	StubBackend = "stub"
)

type Config struct {
	StateDB        string
	BridgeAddr     string
	APIBaseURL     string
	RequestTimeout time.Duration
	TypingTimeout  time.Duration
	ReplyDelay     time.Duration
	Responder      string
	HistoryTTL     time.Duration
	MaxMessages    int
	PageLimit      int
}

func Load() (*Config, error) {
	cfg := &Config{
		StateDB:    getEnv("CONSERV_STATE_DB", "conserv.db"),
		BridgeAddr: getEnv("BRIDGE_ADDR", "localhost:8090"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:3001/api"),
		Responder:  getEnv("CHAT_RESPONDER", ResponderSimulated),
	}

	var err error
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "15s")); err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.TypingTimeout, err = time.ParseDuration(getEnv("TYPING_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("TYPING_TIMEOUT: %w", err)
	}
	if cfg.ReplyDelay, err = time.ParseDuration(getEnv("REPLY_DELAY", "1s")); err != nil {
		return nil, fmt.Errorf("REPLY_DELAY: %w", err)
	}
	if cfg.HistoryTTL, err = time.ParseDuration(getEnv("CHAT_HISTORY_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("CHAT_HISTORY_TTL: %w", err)
	}
	if cfg.MaxMessages, err = strconv.Atoi(getEnv("CHAT_MAX_MESSAGES", "500")); err != nil {
		return nil, fmt.Errorf("CHAT_MAX_MESSAGES: %w", err)
	}
	if cfg.PageLimit, err = strconv.Atoi(getEnv("ORDERS_PAGE_LIMIT", "10")); err != nil {
		return nil, fmt.Errorf("ORDERS_PAGE_LIMIT: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	if c.StateDB == "" {
		return fmt.Errorf("CONSERV_STATE_DB is required")
	}

	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be greater than 0")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}

	if c.Responder != ResponderSimulated && c.Responder != ResponderRemote {
		return fmt.Errorf("CHAT_RESPONDER must be %q or %q", ResponderSimulated, ResponderRemote)
	}

	if c.PageLimit <= 0 {
		return fmt.Errorf("ORDERS_PAGE_LIMIT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
